package sessions

import "sync"

// MemoryHistory is an in-memory HistoryManager.
type MemoryHistory struct {
	mu   sync.Mutex
	msgs []Message
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) SetHistory(msgs []Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append([]Message(nil), msgs...)
}

func (h *MemoryHistory) AddMessage(role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, Message{Role: role, Content: content})
}

func (h *MemoryHistory) Messages() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.msgs...)
}
