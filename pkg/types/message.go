package types

// Role identifies the author of a message in the backend conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatKind distinguishes the first summary of an exchange from follow-ups.
type ChatKind string

const (
	ChatPrimary  ChatKind = "primary"
	ChatFollowUp ChatKind = "followUp"
)

// ChatStatus is the visible state machine of a single chat entry.
//
//	requested -> streaming -> finished -> finishedAndRendered
type ChatStatus string

const (
	ChatRequested           ChatStatus = "requested"
	ChatStreaming           ChatStatus = "streaming"
	ChatFinished            ChatStatus = "finished"
	ChatFinishedAndRendered ChatStatus = "finishedAndRendered"
)

// InFlight reports whether the status belongs to an exchange that has not
// completed yet.
func (s ChatStatus) InFlight() bool {
	return s == ChatRequested || s == ChatStreaming
}

// Done reports whether the entry has completed, rendered or not.
func (s ChatStatus) Done() bool {
	return s == ChatFinished || s == ChatFinishedAndRendered
}

// APIMessage is one entry of the exact conversation sent to the backend.
type APIMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
}

// ChatMessage is an APIMessage decorated with the fields the foreground
// needs to render it.
type ChatMessage struct {
	ID      int        `json:"id"`
	Kind    ChatKind   `json:"type"`
	Status  ChatStatus `json:"state"`
	Role    Role       `json:"role"`
	Content string     `json:"content,omitempty"`
}

// NextChatID returns the id for a new entry appended to msgs.
// Ids are strictly increasing within a session even when entries are dropped.
func NextChatID(msgs []ChatMessage) int {
	max := 0
	for _, m := range msgs {
		if m.ID > max {
			max = m.ID
		}
	}
	return max + 1
}
