package sessions

import (
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestSchemaConversion(t *testing.T) {
	m := Message{Role: "user", Content: "hello"}

	sm := m.ToSchemaMessage()
	if sm.Role != schema.User {
		t.Errorf("Role: got %q, want %q", sm.Role, schema.User)
	}
	if sm.Content != "hello" {
		t.Errorf("Content: got %q, want %q", sm.Content, "hello")
	}

	back := NewMessageFromSchema(sm)
	if back.Role != "user" || back.Content != "hello" {
		t.Errorf("round trip: got %+v", back)
	}
	if back.Ts.IsZero() {
		t.Error("expected timestamp on converted message")
	}
}

func TestMemoryHistory(t *testing.T) {
	h := NewMemoryHistory()

	h.AddMessage("user", "first")
	h.AddMessage("assistant", "second")

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}

	snapshot := []Message{
		{Role: "user", Content: "restored-1"},
		{Role: "assistant", Content: "restored-2"},
		{Role: "user", Content: "restored-3"},
	}
	h.SetHistory(snapshot)

	msgs = h.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages after SetHistory, got %d", len(msgs))
	}
	if msgs[0].Content != "restored-1" {
		t.Errorf("first message: got %q", msgs[0].Content)
	}

	// Messages returns a copy; mutating it must not affect the history
	msgs[0].Content = "mutated"
	if h.Messages()[0].Content != "restored-1" {
		t.Error("Messages leaked internal slice")
	}
}
