// Package state owns the authoritative SessionState. Updates are folded into
// a single accumulator in submission order and the result is published to
// subscribers as read-only snapshots.
package state

import (
	"fmt"

	"github.com/lm-plugin/worker/internal/logging"
	"github.com/lm-plugin/worker/pkg/types"
)

// Patch is a shallow merge object. Nil fields are left untouched.
type Patch struct {
	Lifecycle    *types.Lifecycle
	APIMessages  *[]types.APIMessage
	ChatMessages *[]types.ChatMessage
}

// WithLifecycle returns p with the lifecycle set.
func (p Patch) WithLifecycle(l types.Lifecycle) Patch {
	p.Lifecycle = &l
	return p
}

// WithAPIMessages returns p with the backend conversation replaced.
func (p Patch) WithAPIMessages(msgs []types.APIMessage) Patch {
	cp := append(make([]types.APIMessage, 0, len(msgs)), msgs...)
	p.APIMessages = &cp
	return p
}

// WithChatMessages returns p with the chat entries replaced.
func (p Patch) WithChatMessages(msgs []types.ChatMessage) Patch {
	cp := append(make([]types.ChatMessage, 0, len(msgs)), msgs...)
	p.ChatMessages = &cp
	return p
}

// Empty reports whether applying p changes nothing.
func (p Patch) Empty() bool {
	return p.Lifecycle == nil && p.APIMessages == nil && p.ChatMessages == nil
}

func (p Patch) applyTo(s types.SessionState) types.SessionState {
	if p.Lifecycle != nil {
		s.Lifecycle = *p.Lifecycle
	}
	if p.APIMessages != nil {
		s.APIMessages = append(make([]types.APIMessage, 0, len(*p.APIMessages)), *p.APIMessages...)
	}
	if p.ChatMessages != nil {
		s.ChatMessages = append(make([]types.ChatMessage, 0, len(*p.ChatMessages)), *p.ChatMessages...)
	}
	return s
}

// Update is a state command. Object is merged as-is; Method computes a patch
// from the accumulator at the moment it is folded. When both are set Object
// is applied first. An Update with neither is a no-op.
type Update struct {
	Object *Patch
	Method func(types.SessionState) Patch
}

// Object builds a full-object update.
func Object(p Patch) Update {
	return Update{Object: &p}
}

// Method builds a functional update.
func Method(fn func(types.SessionState) Patch) Update {
	return Update{Method: fn}
}

// Replace builds the update that sets every field to s.
func Replace(s types.SessionState) Update {
	return Object(Patch{}.
		WithLifecycle(s.Lifecycle).
		WithAPIMessages(s.APIMessages).
		WithChatMessages(s.ChatMessages))
}

// Reset builds the update that returns to the default state.
func Reset() Update {
	return Replace(types.DefaultSessionState())
}

// Fold applies updates to acc one at a time, in order.
func Fold(acc types.SessionState, updates ...Update) types.SessionState {
	for _, u := range updates {
		acc = u.apply(acc)
	}
	return acc
}

func (u Update) apply(acc types.SessionState) (out types.SessionState) {
	if u.Object != nil {
		acc = u.Object.applyTo(acc)
	}
	if u.Method == nil {
		return acc
	}

	// A failing method leaves the accumulator as it was.
	out = acc
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Err(fmt.Errorf("%v", r)).Msg("state update panicked, ignored")
			out = acc
		}
	}()
	return u.Method(acc.Clone()).applyTo(acc)
}
