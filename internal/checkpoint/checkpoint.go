// Package checkpoint implements the task checkpoint & crash-recovery
// subsystem: a write-ahead-logged checkpoint store and the manager that
// decides when to snapshot, what to do on restart, and how to recover an
// interrupted unit of work.
package checkpoint

import (
	"regexp"
	"time"

	"github.com/aiman-agent/aiman/internal/sessions"
	"github.com/aiman-agent/aiman/internal/tasks"
)

// envelopeVersion is stamped into every saved checkpoint's _meta.
const envelopeVersion = 1

// Strategy selects how an interrupted task is brought back.
type Strategy string

const (
	// StrategyRestart re-issues a fresh attempt with a summarized briefing.
	StrategyRestart Strategy = "restart"
	// StrategyResume replays exact prior state (full conversation history).
	StrategyResume Strategy = "resume"
)

// Meta is the envelope stamped by the store on save. Never set by callers.
type Meta struct {
	TaskID  string    `json:"task_id"`
	SavedAt time.Time `json:"saved_at"`
	Version int       `json:"version"`
}

// Checkpoint is a durable snapshot of one task's progress at a point in time.
// A checkpoint file, if present and parsing successfully, is always a
// complete self-consistent snapshot: writes are atomic.
type Checkpoint struct {
	TaskID      string       `json:"task_id"`
	Type        tasks.Type   `json:"type"`
	Status      tasks.Status `json:"status"`
	TurnNumber  int          `json:"turn_number,omitempty"`
	Progress    int          `json:"progress,omitempty"`
	OutputLog   []string     `json:"output_log,omitempty"`
	Description string       `json:"description,omitempty"`
	Query       string       `json:"query,omitempty"`
	WorkingDir  string       `json:"working_dir,omitempty"`

	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at,omitzero"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	LastCheckpointAt time.Time      `json:"last_checkpoint_at,omitzero"`

	// Request-type checkpoints carry the full conversation state.
	HistorySnapshot  []sessions.Message `json:"history_snapshot,omitempty"`
	ConversationName string             `json:"conversation_name,omitempty"`
	ToolCallCount    int                `json:"tool_call_count,omitempty"`
	RetryCount       int                `json:"retry_count,omitempty"`
	MaxTurns         int                `json:"max_turns,omitempty"`
	ChimeInQueue     []string           `json:"chime_in_queue,omitempty"`

	RecoveryStrategy Strategy `json:"recovery_strategy,omitempty"`

	Meta *Meta `json:"_meta,omitempty"`
}

// walOperation is the kind of mutation a WAL entry records.
type walOperation string

const (
	walWrite  walOperation = "write"
	walDelete walOperation = "delete"
)

// walEntry records a mutation that was intended but not yet confirmed
// applied. The WAL is a single mutable slot: at most one entry exists at a
// time, written before the mutation and cleared right after it lands.
type walEntry struct {
	Operation walOperation `json:"operation"`
	TaskID    string       `json:"task_id"`
	Timestamp time.Time    `json:"timestamp"`
	Data      *Checkpoint  `json:"data,omitempty"`
}

// ManifestState tracks a checkpoint's place in the recovery lifecycle.
type ManifestState string

const (
	// StateActive: the task was live at last checkpoint; candidate for recovery.
	StateActive ManifestState = "active"
	// StateRecovered: consumed by a recovery scan; not offered again.
	StateRecovered ManifestState = "recovered"
	// StateCompleted: settled; file may be retained for postmortem.
	StateCompleted ManifestState = "completed"
)

// ManifestEntry summarizes one task's checkpoint in the manifest index.
type ManifestEntry struct {
	State          ManifestState `json:"state"`
	Status         tasks.Status  `json:"status"`
	LastCheckpoint time.Time     `json:"last_checkpoint"`
}

// Manifest is the recovery index. It exists so the recovery scan does not
// need to open every checkpoint file; the checkpoint files remain the
// source of truth for content.
type Manifest struct {
	Tasks       map[string]ManifestEntry `json:"tasks"`
	LastUpdated time.Time                `json:"last_updated,omitzero"`
}

// Recoverable pairs a recoverable checkpoint with its manifest entry.
type Recoverable struct {
	TaskID     string
	Checkpoint *Checkpoint
	Entry      ManifestEntry
}

// PendingRecovery is an interrupted request awaiting a human decision.
// In-memory only; never persisted beyond the checkpoint it was built from.
type PendingRecovery struct {
	TaskID     string
	Checkpoint *Checkpoint
}

var unsafeIDChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeTaskID maps a task ID to a filename-safe form.
func SanitizeTaskID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "_")
}
