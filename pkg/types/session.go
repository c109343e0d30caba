// Package types provides the core data types shared by the worker and its
// foreground clients.
package types

// Lifecycle is the coarse mode of the session. Requested and Streaming imply
// exactly one in-flight backend call.
type Lifecycle string

const (
	LifecycleReady     Lifecycle = "ready"
	LifecycleRequested Lifecycle = "requested"
	LifecycleStreaming Lifecycle = "streaming"
)

// SessionState is the single authoritative session object. It is owned by
// the state coordinator; everything else works on snapshots.
type SessionState struct {
	Lifecycle    Lifecycle     `json:"state"`
	APIMessages  []APIMessage  `json:"apiMessages"`
	ChatMessages []ChatMessage `json:"chatMessages"`
}

// DefaultSessionState returns the empty, ready state.
func DefaultSessionState() SessionState {
	return SessionState{
		Lifecycle:    LifecycleReady,
		APIMessages:  []APIMessage{},
		ChatMessages: []ChatMessage{},
	}
}

// Clone returns a deep copy so the caller can hand it out as a read-only
// snapshot.
func (s SessionState) Clone() SessionState {
	out := SessionState{Lifecycle: s.Lifecycle}
	if s.APIMessages != nil {
		out.APIMessages = append(make([]APIMessage, 0, len(s.APIMessages)), s.APIMessages...)
	}
	if s.ChatMessages != nil {
		out.ChatMessages = append(make([]ChatMessage, 0, len(s.ChatMessages)), s.ChatMessages...)
	}
	return out
}

// InFlight returns the chat entry that is requested or streaming, if any.
func (s SessionState) InFlight() (ChatMessage, bool) {
	for _, m := range s.ChatMessages {
		if m.Status.InFlight() {
			return m, true
		}
	}
	return ChatMessage{}, false
}

// HasStatus reports whether any chat entry is in the given status.
func (s SessionState) HasStatus(status ChatStatus) bool {
	for _, m := range s.ChatMessages {
		if m.Status == status {
			return true
		}
	}
	return false
}
