package tasks

import (
	"fmt"
	"sync"
	"time"

	"github.com/aiman-agent/aiman/internal/events"
)

// ListFilter narrows Registry.List results.
type ListFilter struct {
	Status Status
	Type   Type
}

// SpawnOptions carries optional fields for a spawned task.
type SpawnOptions struct {
	Type       Type
	WorkingDir string
	Metadata   map[string]any
}

// Registry is an in-memory task manager. It tracks live tasks and publishes
// lifecycle events on the bus; execution itself belongs to the agent loop.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	bus   *events.Bus
}

// NewRegistry creates a Registry publishing lifecycle events on bus.
func NewRegistry(bus *events.Bus) *Registry {
	return &Registry{
		tasks: make(map[string]*Task),
		bus:   bus,
	}
}

// GetTask returns the live task with the given ID, or nil if unknown.
func (r *Registry) GetTask(id string) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tasks[id]
}

// ListTasks returns tasks matching the filter.
func (r *Registry) ListTasks(filter ListFilter) []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Task
	for _, t := range r.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SpawnTask registers a new running task and publishes task.started.
func (r *Registry) SpawnTask(query, description string, opts SpawnOptions) (*Task, error) {
	if query == "" {
		return nil, fmt.Errorf("spawn task: empty query")
	}

	now := time.Now()
	taskType := opts.Type
	if taskType == "" {
		taskType = TypeBackground
	}

	t := &Task{
		ID:          GenerateTaskID(),
		Type:        taskType,
		Status:      StatusRunning,
		Description: description,
		Query:       query,
		WorkingDir:  opts.WorkingDir,
		Metadata:    opts.Metadata,
		CreatedAt:   now,
		StartedAt:   &now,
	}

	r.mu.Lock()
	r.tasks[t.ID] = t
	r.mu.Unlock()

	r.bus.Publish(events.NewTypedEvent(events.SourceTasks, events.TaskStartedPayload{
		TaskID:      t.ID,
		Description: t.Description,
	}))

	return t, nil
}

// UpdateStatus transitions a task and publishes the matching lifecycle event.
func (r *Registry) UpdateStatus(id string, status Status, taskErr error) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("task not found: %s", id)
	}
	t.Status = status
	if status.IsTerminal() {
		now := time.Now()
		t.CompletedAt = &now
	}
	r.mu.Unlock()

	switch status {
	case StatusCompleted:
		r.bus.Publish(events.NewTypedEvent(events.SourceTasks, events.TaskCompletedPayload{TaskID: id}))
	case StatusFailed:
		msg := ""
		if taskErr != nil {
			msg = taskErr.Error()
		}
		r.bus.Publish(events.NewTypedEvent(events.SourceTasks, events.TaskFailedPayload{TaskID: id, Error: msg}))
	case StatusCancelled:
		r.bus.Publish(events.NewTypedEvent(events.SourceTasks, events.TaskCancelledPayload{TaskID: id}))
	}

	return nil
}

// SetProgress updates progress and publishes task.progress.
func (r *Registry) SetProgress(id string, progress int) {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if ok {
		t.Progress = progress
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	r.bus.Publish(events.NewTypedEvent(events.SourceTasks, events.TaskProgressPayload{
		TaskID:   id,
		Progress: progress,
	}))
}

// Remove drops a task from the registry.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}
