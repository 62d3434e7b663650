// Package storage holds durable side-channels of the runtime that are not
// checkpoints: the append-only event audit log.
package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aiman-agent/aiman/internal/events"
)

// EventLogger persists every bus event as JSONL, one file per day. The log
// is the audit trail for reconstructing what the runtime did around a crash,
// so it appends directly rather than going through atomic rewrites.
type EventLogger struct {
	dir         string
	unsubscribe func()

	// Bus handlers run concurrently; appends must be serialized.
	mu sync.Mutex
}

// NewEventLogger subscribes to all bus events and writes them under dir as
// events-YYYY-MM-DD.jsonl.
func NewEventLogger(dir string, bus *events.Bus) *EventLogger {
	el := &EventLogger{dir: dir}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
		el.unsubscribe = nil
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	_ = el.writeEvent(e)
}

func (el *EventLogger) writeEvent(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()

	if err := os.MkdirAll(el.dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(el.logPath(e.Timestamp), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(data)
	return err
}

func (el *EventLogger) logPath(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return filepath.Join(el.dir, "events-"+ts.Format("2006-01-02")+".jsonl")
}
