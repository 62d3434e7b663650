package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK LIFECYCLE EVENTS
// =============================================================================

type TaskStartedPayload struct {
	TaskID      string `json:"task_id"`
	Description string `json:"description,omitempty"`
}

func (TaskStartedPayload) EventType() EventType { return EventTaskStarted }

type TaskProgressPayload struct {
	TaskID     string `json:"task_id"`
	Progress   int    `json:"progress"`
	TurnNumber int    `json:"turn_number,omitempty"`
}

func (TaskProgressPayload) EventType() EventType { return EventTaskProgress }

type TaskCompletedPayload struct {
	TaskID   string        `json:"task_id"`
	Duration time.Duration `json:"duration,omitempty"`
}

func (TaskCompletedPayload) EventType() EventType { return EventTaskCompleted }

type TaskFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error,omitempty"`
}

func (TaskFailedPayload) EventType() EventType { return EventTaskFailed }

type TaskCancelledPayload struct {
	TaskID string `json:"task_id"`
}

func (TaskCancelledPayload) EventType() EventType { return EventTaskCancelled }

// CheckpointRequestPayload triggers an out-of-band manual checkpoint.
type CheckpointRequestPayload struct {
	TaskID string `json:"task_id"`
}

func (CheckpointRequestPayload) EventType() EventType { return EventTaskCheckpointRequest }

// =============================================================================
// CHECKPOINT EVENTS
// =============================================================================

// PendingRecoverySummary is the redacted view of an interrupted request shown
// to the user. It never carries raw history.
type PendingRecoverySummary struct {
	TaskID           string    `json:"task_id"`
	Type             string    `json:"type"`
	Description      string    `json:"description,omitempty"`
	TurnNumber       int       `json:"turn_number"`
	HistoryLength    int       `json:"history_length,omitempty"`
	LastCheckpointAt time.Time `json:"last_checkpoint_at"`
}

type RecoveryPendingPayload struct {
	Pending []PendingRecoverySummary `json:"pending"`
}

func (RecoveryPendingPayload) EventType() EventType { return EventRecoveryPending }

type CheckpointResumedPayload struct {
	TaskID       string `json:"task_id"`
	TurnNumber   int    `json:"turn_number"`
	MessageCount int    `json:"message_count"`
}

func (CheckpointResumedPayload) EventType() EventType { return EventCheckpointResumed }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

func NewTypedEvent(source EventSource, payload EventPayload) Event {
	return Event{
		ID:        generateEventID(),
		Type:      payload.EventType(),
		Timestamp: time.Now(),
		Source:    source,
		Payload:   toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload into its typed form.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
