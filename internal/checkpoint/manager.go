package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aiman-agent/aiman/internal/config"
	"github.com/aiman-agent/aiman/internal/events"
	"github.com/aiman-agent/aiman/internal/heartbeat"
	"github.com/aiman-agent/aiman/internal/sessions"
	"github.com/aiman-agent/aiman/internal/tasks"
)

var (
	// ErrNoPendingRecovery is returned when resolving a request recovery
	// that is not in the pending queue.
	ErrNoPendingRecovery = errors.New("no pending recovery for task")
)

// TaskManager is the task lifecycle collaborator the checkpoint subsystem
// consumes. It never executes tasks itself.
type TaskManager interface {
	GetTask(id string) *tasks.Task
	SpawnTask(query, description string, opts tasks.SpawnOptions) (*tasks.Task, error)
}

// Options configures the Manager. Zero values select the documented defaults.
type Options struct {
	Enabled          bool
	Interval         time.Duration // periodic checkpoint interval (default 10s)
	MaxAge           time.Duration // checkpoint retention (default 24h)
	RecoverOnStartup bool
	NotifyOnRecovery bool
	CleanupSchedule  string // cron expression; empty disables scheduled cleanup
	WorkDir          string // workspace root the store is scoped to
}

// OptionsFromConfig maps the config section onto manager options.
func OptionsFromConfig(cfg config.CheckpointConfig, workDir string) Options {
	return Options{
		Enabled:          cfg.IsEnabled(),
		Interval:         cfg.Interval.Duration(),
		MaxAge:           cfg.MaxAge.Duration(),
		RecoverOnStartup: cfg.RecoverOnStartup,
		NotifyOnRecovery: cfg.ShouldNotify(),
		CleanupSchedule:  cfg.CleanupSchedule,
		WorkDir:          workDir,
	}
}

// heartbeatMaxAge is how stale a peer heartbeat may be before the workspace
// is considered free.
const heartbeatMaxAge = 90 * time.Second

// Manager orchestrates checkpointing: it subscribes to task lifecycle
// events, runs a periodic checkpoint timer per task, executes the startup
// crash-recovery scan, and queues ambiguous recoveries for human
// confirmation.
type Manager struct {
	store *Store
	bus   *events.Bus
	tasks TaskManager
	opts  Options

	mu          sync.Mutex
	timers      map[string]context.CancelFunc
	pending     map[string]*PendingRecovery
	unsubscribe []func()
	cronCancel  context.CancelFunc
	initialized bool
}

// NewManager creates a Manager over the given collaborators.
func NewManager(store *Store, bus *events.Bus, tm TaskManager, opts Options) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 24 * time.Hour
	}
	return &Manager{
		store:   store,
		bus:     bus,
		tasks:   tm,
		opts:    opts,
		timers:  make(map[string]context.CancelFunc),
		pending: make(map[string]*PendingRecovery),
	}
}

// Store returns the current checkpoint store. The store pointer is swapped
// on workspace switches, so concurrent readers must go through here.
func (m *Manager) Store() *Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store
}

// Initialize heals the WAL, prunes stale checkpoints, subscribes to task
// lifecycle events, and optionally runs crash recovery. Idempotent; call
// once before accepting new task requests. Missing collaborators are
// programming errors and propagate so the host can decide to run degraded.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	if m.store == nil || m.bus == nil || m.tasks == nil {
		return fmt.Errorf("checkpoint manager: missing store, bus, or task manager")
	}

	if !m.opts.Enabled {
		slog.Info("checkpointing disabled by configuration")
		return nil
	}

	m.warnOnLivePeer()

	result := m.Store().ReplayWAL()
	if result.Replayed > 0 || len(result.Errors) > 0 {
		slog.Info("wal replay", "replayed", result.Replayed, "errors", len(result.Errors))
		for _, e := range result.Errors {
			slog.Warn("wal replay error", "detail", e)
		}
	}

	m.Store().CleanupOldCheckpoints()

	m.subscribeLifecycle()
	m.startScheduledCleanup()

	if m.opts.RecoverOnStartup {
		report := m.RecoverFromCrash()
		slog.Info("crash recovery finished",
			"recovered", report.Recovered,
			"failed", report.Failed,
			"pending", len(report.Pending),
		)
	}

	return nil
}

// warnOnLivePeer surfaces the two-process hazard: recovery is not guarded
// by a directory lock, so a live peer on the same workspace can race this
// instance. Detection only.
func (m *Manager) warnOnLivePeer() {
	if m.opts.WorkDir == "" {
		return
	}
	status, hb, err := heartbeat.Check(config.HeartbeatPath(m.opts.WorkDir), heartbeatMaxAge)
	if err != nil || hb == nil {
		return
	}
	if status == heartbeat.StatusAlive && hb.PID != os.Getpid() {
		slog.Warn("another runtime instance appears alive on this workspace; concurrent recovery is unsafe",
			"pid", hb.PID, "workspace", m.opts.WorkDir)
	}
}

func (m *Manager) subscribeLifecycle() {
	sub := func(handler events.Subscriber, types ...events.EventType) {
		m.mu.Lock()
		m.unsubscribe = append(m.unsubscribe, m.bus.Subscribe(handler, types...))
		m.mu.Unlock()
	}

	sub(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.TaskStartedPayload](e); ok {
			m.startTimer(p.TaskID)
		}
	}, events.EventTaskStarted)

	sub(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.TaskCompletedPayload](e); ok {
			m.stopTimer(p.TaskID)
			m.Store().MarkCompleted(p.TaskID, false)
		}
	}, events.EventTaskCompleted)

	sub(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.TaskFailedPayload](e); ok {
			m.stopTimer(p.TaskID)
			// Final snapshot retained for debugging the failure.
			m.CheckpointTask(p.TaskID)
			m.Store().MarkCompleted(p.TaskID, true)
		}
	}, events.EventTaskFailed)

	sub(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.TaskCancelledPayload](e); ok {
			m.stopTimer(p.TaskID)
			m.Store().DeleteCheckpoint(p.TaskID)
		}
	}, events.EventTaskCancelled)

	sub(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.CheckpointRequestPayload](e); ok {
			m.CheckpointTask(p.TaskID)
		}
	}, events.EventTaskCheckpointRequest)
}

// startTimer begins periodic checkpointing for a task, replacing any
// existing timer for the same id. The first checkpoint is taken
// immediately rather than a full interval in.
func (m *Manager) startTimer(taskID string) {
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if prev, ok := m.timers[taskID]; ok {
		prev()
	}
	m.timers[taskID] = cancel
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.opts.Interval)
		defer ticker.Stop()

		for {
			task := m.tasks.GetTask(taskID)
			if task == nil || task.Status != tasks.StatusRunning {
				m.stopTimer(taskID)
				return
			}
			m.CheckpointTask(taskID)

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// stopTimer cancels the periodic timer for a task. Safe to call when no
// timer is active.
func (m *Manager) stopTimer(taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.timers[taskID]; ok {
		cancel()
		delete(m.timers, taskID)
	}
}

// CheckpointTask snapshots the live task's current state with the restart
// recovery strategy. Returns false when the task is unknown or the save
// failed; never disturbs the task itself.
func (m *Manager) CheckpointTask(taskID string) bool {
	task := m.tasks.GetTask(taskID)
	if task == nil {
		slog.Debug("checkpoint skipped, task not found", "task_id", taskID)
		return false
	}

	cp := Checkpoint{
		TaskID:           task.ID,
		Type:             task.Type,
		Status:           task.Status,
		TurnNumber:       task.TurnNumber(),
		Progress:         task.Progress,
		OutputLog:        task.OutputLog,
		Description:      task.Description,
		Query:            task.Query,
		WorkingDir:       task.WorkingDir,
		Metadata:         task.Metadata,
		CreatedAt:        task.CreatedAt,
		StartedAt:        task.StartedAt,
		LastCheckpointAt: time.Now(),
		RecoveryStrategy: StrategyRestart,
	}

	return m.Store().SaveCheckpoint(task.ID, cp)
}

// RequestContext is the read-only view of a live conversational request the
// pipeline hands in when checkpointing mid-turn.
type RequestContext struct {
	ID            string
	TurnNumber    int
	ToolCallCount int
	RetryCount    int
	MaxTurns      int
	ChimeInQueue  []string
	Metadata      map[string]any
	OriginalInput string
	Model         string
	DryRun        bool
	IsRetry       bool
	StartedAt     time.Time
}

// RequestCheckpointID maps a request ID into the checkpoint namespace so it
// cannot collide with background task ids.
func RequestCheckpointID(requestID string) string {
	return "request-" + requestID
}

// CheckpointRequest snapshots a live conversational request, including the
// full history transcript, with the resume recovery strategy.
func (m *Manager) CheckpointRequest(req RequestContext, history []sessions.Message, conversationName string) bool {
	now := time.Now()
	cp := Checkpoint{
		Type:             tasks.TypeRequest,
		Status:           tasks.StatusRunning,
		TurnNumber:       req.TurnNumber,
		Description:      conversationName,
		Query:            req.OriginalInput,
		WorkingDir:       m.opts.WorkDir,
		Metadata:         req.Metadata,
		StartedAt:        &req.StartedAt,
		LastCheckpointAt: now,
		HistorySnapshot:  history,
		ConversationName: conversationName,
		ToolCallCount:    req.ToolCallCount,
		RetryCount:       req.RetryCount,
		MaxTurns:         req.MaxTurns,
		ChimeInQueue:     req.ChimeInQueue,
		RecoveryStrategy: StrategyResume,
	}

	return m.Store().SaveCheckpoint(RequestCheckpointID(req.ID), cp)
}

// RecoveryReport aggregates the outcome of a crash-recovery scan.
type RecoveryReport struct {
	Recovered int
	Failed    int
	Pending   []events.PendingRecoverySummary
}

// RecoverFromCrash classifies every recoverable checkpoint by type:
// background, agent-loop, and recurring work is re-spawned automatically
// with a synthesized briefing; request-type checkpoints cannot be silently
// resumed (the originating user session may be gone) and are queued for
// human confirmation. A failure on one entry never aborts the rest.
func (m *Manager) RecoverFromCrash() RecoveryReport {
	var report RecoveryReport

	recoverable := m.Store().ListRecoverable()
	if len(recoverable) == 0 {
		return report
	}

	for _, rec := range recoverable {
		cp := rec.Checkpoint

		switch cp.Type {
		case tasks.TypeRequest:
			m.mu.Lock()
			m.pending[rec.TaskID] = &PendingRecovery{TaskID: rec.TaskID, Checkpoint: cp}
			m.mu.Unlock()
			// Marked recovered so a second restart before the human acts
			// does not re-offer it.
			m.Store().MarkRecovered(rec.TaskID)
			report.Pending = append(report.Pending, pendingSummary(rec.TaskID, cp))

		case tasks.TypeBackground, tasks.TypeAgentLoop, tasks.TypeRecurring:
			if err := m.respawn(rec.TaskID, cp); err != nil {
				slog.Error("recovery respawn", "error", err, "task_id", rec.TaskID)
				report.Failed++
				continue
			}
			m.Store().MarkRecovered(rec.TaskID)
			report.Recovered++

		default:
			slog.Warn("unrecognized checkpoint type, cannot recover", "task_id", rec.TaskID, "type", cp.Type)
			report.Failed++
		}
	}

	if len(report.Pending) > 0 && m.opts.NotifyOnRecovery {
		m.bus.Publish(events.NewTypedEvent(events.SourceCheckpoint, events.RecoveryPendingPayload{
			Pending: report.Pending,
		}))
	}

	return report
}

func (m *Manager) respawn(taskID string, cp *Checkpoint) error {
	metadata := map[string]any{"recoveredFrom": taskID}
	for k, v := range cp.Metadata {
		if k != "recoveredFrom" {
			metadata[k] = v
		}
	}

	_, err := m.tasks.SpawnTask(
		BuildRecoveryPrompt(cp),
		"[RECOVERED] "+cp.Description,
		tasks.SpawnOptions{
			Type:       cp.Type,
			WorkingDir: cp.WorkingDir,
			Metadata:   metadata,
		},
	)
	return err
}

func pendingSummary(taskID string, cp *Checkpoint) events.PendingRecoverySummary {
	return events.PendingRecoverySummary{
		TaskID:           taskID,
		Type:             string(cp.Type),
		Description:      cp.Description,
		TurnNumber:       cp.TurnNumber,
		HistoryLength:    len(cp.HistorySnapshot),
		LastCheckpointAt: cp.LastCheckpointAt,
	}
}

// GetPendingRecovery lists redacted summaries of every interrupted request
// awaiting a resume-or-discard decision.
func (m *Manager) GetPendingRecovery() []events.PendingRecoverySummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]events.PendingRecoverySummary, 0, len(m.pending))
	for taskID, p := range m.pending {
		out = append(out, pendingSummary(taskID, p.Checkpoint))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

// ResumePendingRecovery restores a pending request's history snapshot into
// the live session and injects a system notice describing what was
// recovered. Never panics; all failures come back as errors.
func (m *Manager) ResumePendingRecovery(taskID string, session sessions.LiveSession) error {
	m.mu.Lock()
	p, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRecovery, taskID)
	}
	if session == nil || session.History() == nil {
		return fmt.Errorf("resume %s: no live session history", taskID)
	}

	cp := p.Checkpoint
	history := session.History()
	history.SetHistory(cp.HistorySnapshot)
	history.AddMessage("system", fmt.Sprintf(
		"Conversation restored from checkpoint: %d messages through turn %d were recovered after a runtime restart.",
		len(cp.HistorySnapshot), cp.TurnNumber,
	))

	m.Store().MarkRecovered(taskID)

	m.bus.Publish(events.NewTypedEvent(events.SourceCheckpoint, events.CheckpointResumedPayload{
		TaskID:       taskID,
		TurnNumber:   cp.TurnNumber,
		MessageCount: len(cp.HistorySnapshot),
	}))

	return nil
}

// DiscardPendingRecovery abandons an interrupted request and deletes its
// checkpoint outright.
func (m *Manager) DiscardPendingRecovery(taskID string) error {
	m.mu.Lock()
	_, ok := m.pending[taskID]
	if ok {
		delete(m.pending, taskID)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNoPendingRecovery, taskID)
	}

	m.Store().DeleteCheckpoint(taskID)
	return nil
}

// SwitchWorkspace repoints the subsystem at a new working directory.
// Timers and pending recoveries are workspace-scoped and dropped.
func (m *Manager) SwitchWorkspace(newDir string) {
	m.stopAllTimers()

	m.mu.Lock()
	m.pending = make(map[string]*PendingRecovery)
	m.opts.WorkDir = newDir
	m.store = NewStore(config.CheckpointsDir(newDir), m.opts.MaxAge)
	m.mu.Unlock()

	slog.Info("checkpoint workspace switched", "dir", newDir)

	if m.opts.RecoverOnStartup {
		m.Store().ReplayWAL()
		m.RecoverFromCrash()
	}
}

// Shutdown stops all timers and clears the WAL. Checkpoints stay on disk so
// the next startup can recover them.
func (m *Manager) Shutdown() {
	m.stopAllTimers()

	m.mu.Lock()
	unsubs := m.unsubscribe
	m.unsubscribe = nil
	cronCancel := m.cronCancel
	m.cronCancel = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if cronCancel != nil {
		cronCancel()
	}

	if err := m.Store().ClearWAL(); err != nil {
		slog.Warn("wal clear on shutdown", "error", err)
	}
}

func (m *Manager) stopAllTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for taskID, cancel := range m.timers {
		cancel()
		delete(m.timers, taskID)
	}
}

// startScheduledCleanup runs CleanupOldCheckpoints on the configured cron
// schedule. A bad expression degrades to startup-only cleanup.
func (m *Manager) startScheduledCleanup() {
	if m.opts.CleanupSchedule == "" {
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(m.opts.CleanupSchedule)
	if err != nil {
		slog.Warn("invalid cleanup schedule, scheduled cleanup disabled",
			"schedule", m.opts.CleanupSchedule, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cronCancel = cancel
	m.mu.Unlock()

	go func() {
		for {
			next := schedule.Next(time.Now())
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				m.Store().CleanupOldCheckpoints()
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}
