package types

import (
	"encoding/json"
	"testing"
)

func TestSessionState_JSON(t *testing.T) {
	s := SessionState{
		Lifecycle:   LifecycleStreaming,
		APIMessages: []APIMessage{{Role: RoleSystem, Content: "sys"}, {Role: RoleUser, Content: "hi"}},
		ChatMessages: []ChatMessage{
			{ID: 1, Kind: ChatPrimary, Status: ChatStreaming, Role: RoleAssistant, Content: "Hel"},
		},
	}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw["state"] != "streaming" {
		t.Errorf("expected state streaming, got %v", raw["state"])
	}
	chat := raw["chatMessages"].([]any)[0].(map[string]any)
	if chat["type"] != "primary" || chat["state"] != "streaming" {
		t.Errorf("unexpected chat message encoding: %v", chat)
	}
}

func TestSessionState_CloneIsIndependent(t *testing.T) {
	s := SessionState{
		Lifecycle:    LifecycleReady,
		APIMessages:  []APIMessage{{Role: RoleSystem, Content: "a"}},
		ChatMessages: []ChatMessage{{ID: 1, Content: "x"}},
	}
	c := s.Clone()
	c.APIMessages[0].Content = "b"
	c.ChatMessages[0].Content = "y"

	if s.APIMessages[0].Content != "a" || s.ChatMessages[0].Content != "x" {
		t.Error("Clone shares backing arrays with the original")
	}
}

func TestNextChatID(t *testing.T) {
	if got := NextChatID(nil); got != 1 {
		t.Errorf("expected 1 for empty, got %d", got)
	}
	msgs := []ChatMessage{{ID: 1}, {ID: 4}, {ID: 2}}
	if got := NextChatID(msgs); got != 5 {
		t.Errorf("expected 5, got %d", got)
	}
}

func TestCommand_Decode(t *testing.T) {
	cmd := SummariseTab("https://example.com", "Explain")

	data, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var decoded Command
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	var req SummariseTabRequest
	if err := decoded.Decode(&req); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if req.TabID != "https://example.com" || req.PromptName != "Explain" {
		t.Errorf("unexpected payload: %+v", req)
	}

	if err := GetState().Decode(&req); err == nil {
		t.Error("expected error decoding a command without payload")
	}
}

func TestNotification_RoundTrip(t *testing.T) {
	n := StateNotification(DefaultSessionState())
	s, err := n.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if s.Lifecycle != LifecycleReady {
		t.Errorf("expected ready, got %s", s.Lifecycle)
	}

	e := ErrorNotification("boom")
	if e.Message() != "boom" {
		t.Errorf("expected boom, got %q", e.Message())
	}
	if _, err := e.State(); err == nil {
		t.Error("expected error reading state from an error notification")
	}
}

func TestSettings_FindPrompt(t *testing.T) {
	s := Settings{Prompts: []Prompt{{Name: "A", Prompt: "a"}, {Name: "B", Prompt: "b"}}}

	if p, _ := s.FindPrompt("B"); p.Prompt != "b" {
		t.Errorf("expected b, got %q", p.Prompt)
	}
	if p, _ := s.FindPrompt("missing"); p.Prompt != "a" {
		t.Errorf("expected fallback to first prompt, got %q", p.Prompt)
	}
	if _, ok := (Settings{}).FindPrompt("A"); ok {
		t.Error("expected no prompt when none are configured")
	}
}
