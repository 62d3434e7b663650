// Package heartbeat maintains a per-workspace liveness file. The checkpoint
// subsystem reads it before crash recovery to detect a second runtime
// instance on the same workspace; recovery is not lock-guarded, so detection
// is the only defense against two instances racing each other.
package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aiman-agent/aiman/internal/storage/fsatomic"
)

// Status is the liveness verdict derived from a heartbeat file.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// defaultInterval is how often the writer refreshes the file. Checkers use a
// maxAge comfortably above this so one missed beat does not read as death.
const defaultInterval = 30 * time.Second

// Heartbeat is the record persisted to the liveness file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	Workspace string    `json:"workspace,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// Writer refreshes the workspace liveness file on an interval for as long as
// the runtime is up, and removes it on a clean stop. A crash leaves the file
// behind; its timestamp going stale is what tells the next instance the
// workspace is free.
type Writer struct {
	path      string
	workspace string
	interval  time.Duration
	started   time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewWriter creates a writer for the liveness file at path, recording
// workspace in each beat.
func NewWriter(path, workspace string) *Writer {
	return &Writer{
		path:      path,
		workspace: workspace,
		interval:  defaultInterval,
	}
}

// Start writes the first beat immediately and then keeps refreshing in a
// background goroutine. Calling Start on a running writer is a no-op.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop != nil {
		return
	}

	w.started = time.Now()
	w.stop = make(chan struct{})
	w.done = make(chan struct{})

	w.write()

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-stop:
				return
			}
		}
	}(w.stop, w.done)
}

// Stop halts the refresh loop and removes the liveness file so peers see a
// clean shutdown rather than a stale beat.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stop == nil {
		return
	}

	close(w.stop)
	<-w.done
	w.stop = nil

	os.Remove(w.path)
}

func (w *Writer) write() {
	if err := fsatomic.EnsureDir(filepath.Dir(w.path)); err != nil {
		return
	}
	fsatomic.WriteJSON(w.path, Heartbeat{
		PID:       os.Getpid(),
		Workspace: w.workspace,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	})
}

// Check reads the liveness file at path and classifies it. A missing file is
// StatusDead with no error; a beat older than maxAge is StatusStale. The
// parsed heartbeat accompanies stale and alive verdicts so callers can
// report the peer's PID.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	var hb Heartbeat
	found, err := fsatomic.ReadJSON(path, &hb)
	if !found && err == nil {
		return StatusDead, nil, nil
	}
	if err != nil {
		return StatusDead, nil, fmt.Errorf("check heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}
	return StatusAlive, &hb, nil
}
