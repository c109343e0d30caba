package types

import (
	"encoding/json"
	"fmt"
)

// CommandType identifies a foreground request.
type CommandType string

const (
	CommandGetState         CommandType = "getState"
	CommandSummariseContent CommandType = "summariseContent"
	CommandSummariseTab     CommandType = "summariseTab"
	CommandAskQuestion      CommandType = "askQuestion"
	CommandClearChat        CommandType = "clearChat"
)

// Command is the envelope the foreground sends to the worker.
type Command struct {
	Type    CommandType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SummariseContentRequest asks for a summary of caller-supplied text.
type SummariseContentRequest struct {
	Content    string `json:"content"`
	PromptName string `json:"promptName,omitempty"`
}

// SummariseTabRequest asks for a summary of a document the worker extracts
// itself. TabID is an opaque document handle.
type SummariseTabRequest struct {
	TabID      string `json:"tabId"`
	PromptName string `json:"promptName,omitempty"`
}

// AskQuestionRequest continues an existing exchange.
type AskQuestionRequest struct {
	Content string `json:"content"`
}

// NewCommand builds an envelope with payload marshaled as JSON.
func NewCommand(t CommandType, payload any) Command {
	cmd := Command{Type: t}
	if payload != nil {
		// Payload types are plain structs; marshaling cannot fail.
		data, _ := json.Marshal(payload)
		cmd.Payload = data
	}
	return cmd
}

// GetState builds a getState command.
func GetState() Command { return NewCommand(CommandGetState, nil) }

// ClearChat builds a clearChat command.
func ClearChat() Command { return NewCommand(CommandClearChat, nil) }

// SummariseContent builds a summariseContent command.
func SummariseContent(content, promptName string) Command {
	return NewCommand(CommandSummariseContent, SummariseContentRequest{Content: content, PromptName: promptName})
}

// SummariseTab builds a summariseTab command.
func SummariseTab(handle, promptName string) Command {
	return NewCommand(CommandSummariseTab, SummariseTabRequest{TabID: handle, PromptName: promptName})
}

// AskQuestion builds an askQuestion command.
func AskQuestion(content string) Command {
	return NewCommand(CommandAskQuestion, AskQuestionRequest{Content: content})
}

// Decode unmarshals the payload into v. A missing payload is an error.
func (c Command) Decode(v any) error {
	if len(c.Payload) == 0 || string(c.Payload) == "null" {
		return fmt.Errorf("%s: missing payload", c.Type)
	}
	if err := json.Unmarshal(c.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", c.Type, err)
	}
	return nil
}

// NotificationType identifies a message from the worker to the foreground.
type NotificationType string

const (
	NotificationError    NotificationType = "error"
	NotificationState    NotificationType = "state"
	NotificationComplete NotificationType = "complete"
	NotificationUpdate   NotificationType = "update"
)

// Notification is the envelope the worker sends to the foreground.
type Notification struct {
	Type    NotificationType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
}

// StateNotification wraps a snapshot.
func StateNotification(s SessionState) Notification {
	data, _ := json.Marshal(s)
	return Notification{Type: NotificationState, Payload: data}
}

// ErrorNotification wraps a human-readable cause.
func ErrorNotification(message string) Notification {
	data, _ := json.Marshal(message)
	return Notification{Type: NotificationError, Payload: data}
}

// CompleteNotification is the explicit disconnect sent before the worker
// closes a connection.
func CompleteNotification() Notification {
	return Notification{Type: NotificationComplete}
}

// State decodes a state payload.
func (n Notification) State() (SessionState, error) {
	var s SessionState
	if n.Type != NotificationState {
		return s, fmt.Errorf("notification %q carries no state", n.Type)
	}
	err := json.Unmarshal(n.Payload, &s)
	return s, err
}

// Message decodes an error payload.
func (n Notification) Message() string {
	var msg string
	if err := json.Unmarshal(n.Payload, &msg); err != nil {
		return string(n.Payload)
	}
	return msg
}
