package event

import "github.com/lm-plugin/worker/pkg/types"

// EventType represents the type of event.
type EventType string

const (
	// StateChanged carries a throttled session snapshot for the foreground.
	StateChanged EventType = "notification.state"
	// ErrorRaised carries a human-readable request failure.
	ErrorRaised EventType = "notification.error"
	// Completed announces that the core is going away.
	Completed EventType = "notification.complete"
	// StatePersisted reports a finished persistence save. Not forwarded to
	// the foreground.
	StatePersisted EventType = "state.persisted"
)

// Event represents an event to be published.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// PersistedData is the data for state.persisted events.
type PersistedData struct {
	Chunks int   `json:"chunks"`
	Bytes  int   `json:"bytes"`
	Err    error `json:"-"`
}

// ForNotification wraps a wire notification in the matching event.
func ForNotification(n types.Notification) Event {
	t := StateChanged
	switch n.Type {
	case types.NotificationError:
		t = ErrorRaised
	case types.NotificationComplete:
		t = Completed
	}
	return Event{Type: t, Data: n}
}

// Notification returns the wire notification carried by e, if any.
func (e Event) Notification() (types.Notification, bool) {
	n, ok := e.Data.(types.Notification)
	return n, ok
}
