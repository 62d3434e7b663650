// Package tasks provides the task model and an in-memory registry for
// the agent runtime. Tasks are the units of work the checkpoint subsystem
// snapshots and recovers.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type determines the recovery policy for a task's checkpoints.
type Type string

const (
	TypeBackground Type = "background" // silently restartable work
	TypeRequest    Type = "request"    // live conversational request, needs user consent to resume
	TypeAgentLoop  Type = "agent-loop" // autonomous multi-turn loop
	TypeRecurring  Type = "recurring"  // schedule-driven work
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is a settled end state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// maxOutputLogLines bounds the retained output tail per task.
const maxOutputLogLines = 50

// Task represents an async unit of work.
type Task struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	Status      Status         `json:"status"`
	Description string         `json:"description"`
	Query       string         `json:"query,omitempty"`
	WorkingDir  string         `json:"working_dir,omitempty"`
	Progress    int            `json:"progress"` // 0-100
	OutputLog   []string       `json:"output_log,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TurnNumber reads the conversational turn counter from metadata.
func (t *Task) TurnNumber() int {
	if t.Metadata == nil {
		return 0
	}
	switch v := t.Metadata["turnNumber"].(type) {
	case int:
		return v
	case float64: // JSON round trip
		return int(v)
	}
	return 0
}

// AppendOutput appends a line to the bounded output log.
func (t *Task) AppendOutput(line string) {
	t.OutputLog = append(t.OutputLog, line)
	if len(t.OutputLog) > maxOutputLogLines {
		t.OutputLog = t.OutputLog[len(t.OutputLog)-maxOutputLogLines:]
	}
}

// GenerateTaskID creates a unique task identifier.
func GenerateTaskID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
