// Package sessions models conversation history for live requests.
// Request-type checkpoints persist a full history snapshot; resuming one
// replays that snapshot into the live session's history manager.
package sessions

import (
	"time"

	"github.com/cloudwego/eino/schema"
)

// Message is a single turn in a conversation, serializable to JSON.
type Message struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	Ts      time.Time `json:"ts,omitempty"`
}

// ToSchemaMessage converts a session Message to an Eino schema.Message.
func (m Message) ToSchemaMessage() *schema.Message {
	return &schema.Message{
		Role:    schema.RoleType(m.Role),
		Content: m.Content,
	}
}

// NewMessageFromSchema converts an Eino schema.Message to a session Message.
func NewMessageFromSchema(msg *schema.Message) Message {
	return Message{
		Role:    string(msg.Role),
		Content: msg.Content,
		Ts:      time.Now(),
	}
}

// ToSchemaMessages converts a history snapshot for the agent loop.
func ToSchemaMessages(msgs []Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToSchemaMessage())
	}
	return out
}

// HistoryManager is the mutable conversation history of a live session.
type HistoryManager interface {
	// SetHistory replaces the entire history with the given messages.
	SetHistory(msgs []Message)
	// AddMessage appends a single message.
	AddMessage(role, content string)
	// Messages returns a copy of the current history.
	Messages() []Message
}

// LiveSession is the handle the checkpoint subsystem needs to resume an
// interrupted request into a running session.
type LiveSession interface {
	History() HistoryManager
}
