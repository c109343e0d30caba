package session

import (
	"github.com/lm-plugin/worker/internal/state"
	"github.com/lm-plugin/worker/pkg/types"
)

// The updates below are the session's state machine. Each is a functional
// update so it sees the accumulator at fold time, not at submission time.

// startExchange enters Requested. A primary exchange replaces the chat with a
// single requested entry; a continuation keeps the completed entries and
// appends one.
func startExchange(msgs []types.APIMessage, primary bool) state.Update {
	return state.Method(func(s types.SessionState) state.Patch {
		var chat []types.ChatMessage
		if primary {
			chat = []types.ChatMessage{{
				ID:     1,
				Kind:   types.ChatPrimary,
				Status: types.ChatRequested,
				Role:   types.RoleAssistant,
			}}
		} else {
			kind := types.ChatPrimary
			for _, m := range s.ChatMessages {
				if m.Status.Done() {
					chat = append(chat, m)
					kind = types.ChatFollowUp
				}
			}
			chat = append(chat, types.ChatMessage{
				ID:     types.NextChatID(s.ChatMessages),
				Kind:   kind,
				Status: types.ChatRequested,
				Role:   types.RoleAssistant,
			})
		}
		return state.Patch{}.
			WithLifecycle(types.LifecycleRequested).
			WithAPIMessages(msgs).
			WithChatMessages(chat)
	})
}

// streaming shows the cumulative text on the in-flight entry.
func streaming(text string) state.Update {
	return state.Method(func(s types.SessionState) state.Patch {
		chat, found := mapInFlight(s.ChatMessages, func(m *types.ChatMessage) {
			m.Status = types.ChatStreaming
			m.Content = text
		})
		if !found {
			return state.Patch{}
		}
		return state.Patch{}.
			WithLifecycle(types.LifecycleStreaming).
			WithChatMessages(chat)
	})
}

// settle completes the in-flight entry: it becomes finished, the lifecycle
// returns to Ready and a non-empty reply is appended to the backend
// conversation. Used both at the natural end of a stream and when a stream
// is superseded.
func settle() state.Update {
	return state.Method(func(s types.SessionState) state.Patch {
		var reply string
		chat, found := mapInFlight(s.ChatMessages, func(m *types.ChatMessage) {
			m.Status = types.ChatFinished
			reply = m.Content
		})
		if !found {
			if s.Lifecycle == types.LifecycleReady {
				return state.Patch{}
			}
			return state.Patch{}.WithLifecycle(types.LifecycleReady)
		}

		p := state.Patch{}.
			WithLifecycle(types.LifecycleReady).
			WithChatMessages(chat)
		if reply != "" {
			api := append(append([]types.APIMessage(nil), s.APIMessages...), types.APIMessage{
				Role:    types.RoleAssistant,
				Content: reply,
			})
			p = p.WithAPIMessages(api)
		}
		return p
	})
}

// rollback returns to a safe pre-request shape after a failed request: only
// the last backend message is kept and in-flight entries are dropped.
func rollback() state.Update {
	return state.Method(func(s types.SessionState) state.Patch {
		api := []types.APIMessage{}
		if n := len(s.APIMessages); n > 0 {
			api = append(api, s.APIMessages[n-1])
		}
		chat := []types.ChatMessage{}
		for _, m := range s.ChatMessages {
			if !m.Status.InFlight() {
				chat = append(chat, m)
			}
		}
		return state.Patch{}.
			WithLifecycle(types.LifecycleReady).
			WithAPIMessages(api).
			WithChatMessages(chat)
	})
}

// askQuestion echoes the user's question as a rendered follow-up entry and
// installs the continuation conversation.
func askQuestion(msgs []types.APIMessage, question string) state.Update {
	return state.Method(func(s types.SessionState) state.Patch {
		chat := append(append([]types.ChatMessage(nil), s.ChatMessages...), types.ChatMessage{
			ID:      types.NextChatID(s.ChatMessages),
			Kind:    types.ChatFollowUp,
			Status:  types.ChatFinishedAndRendered,
			Role:    types.RoleUser,
			Content: question,
		})
		return state.Patch{}.
			WithLifecycle(types.LifecycleRequested).
			WithAPIMessages(msgs).
			WithChatMessages(chat)
	})
}

// mapInFlight returns a copy of msgs with fn applied to every requested or
// streaming entry, and whether there was one.
func mapInFlight(msgs []types.ChatMessage, fn func(*types.ChatMessage)) ([]types.ChatMessage, bool) {
	out := make([]types.ChatMessage, len(msgs))
	found := false
	for i, m := range msgs {
		if m.Status.InFlight() {
			fn(&m)
			found = true
		}
		out[i] = m
	}
	return out, found
}
