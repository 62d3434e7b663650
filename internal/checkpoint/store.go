package checkpoint

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/aiman-agent/aiman/internal/storage/fsatomic"
	"github.com/aiman-agent/aiman/internal/tasks"
)

const (
	walFile          = "wal.json"
	manifestFile     = "recovery-manifest.json"
	checkpointPrefix = "task-"
	checkpointSuffix = ".checkpoint.json"
)

// Store owns the on-disk checkpoint layout: one checkpoint file per task, a
// single-slot write-ahead log, and the recovery manifest index.
//
// All mutations run under one writer lock: the WAL slot and the whole-file
// manifest rewrite are both lost-update hazards under concurrent writers, so
// writes are serialized end-to-end. Reads go through atomic-rename files and
// only need the shared lock.
type Store struct {
	mu     sync.RWMutex
	dir    string
	maxAge time.Duration
}

// NewStore creates a Store rooted at dir. maxAge is the retention window for
// CleanupOldCheckpoints; zero means nothing survives a cleanup pass.
func NewStore(dir string, maxAge time.Duration) *Store {
	return &Store{dir: dir, maxAge: maxAge}
}

// Dir returns the checkpoint directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) checkpointPath(taskID string) string {
	return filepath.Join(s.dir, checkpointPrefix+SanitizeTaskID(taskID)+checkpointSuffix)
}

func (s *Store) walPath() string      { return filepath.Join(s.dir, walFile) }
func (s *Store) manifestPath() string { return filepath.Join(s.dir, manifestFile) }

// SaveCheckpoint durably persists a checkpoint for taskID. The WAL entry is
// written first, then the checkpoint file, then the manifest; the WAL is
// cleared once everything landed. Returns false (logged) on any I/O failure:
// a failed checkpoint must never abort the caller's task execution.
func (s *Store) SaveCheckpoint(taskID string, cp Checkpoint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fsatomic.EnsureDir(s.dir); err != nil {
		slog.Error("checkpoint dir", "error", err, "task_id", taskID)
		return false
	}

	cp.TaskID = taskID
	cp.Meta = &Meta{TaskID: taskID, SavedAt: time.Now(), Version: envelopeVersion}

	if err := s.appendWAL(walEntry{
		Operation: walWrite,
		TaskID:    taskID,
		Timestamp: time.Now(),
		Data:      &cp,
	}); err != nil {
		slog.Error("checkpoint wal append", "error", err, "task_id", taskID)
		return false
	}

	if err := fsatomic.WriteJSON(s.checkpointPath(taskID), cp); err != nil {
		slog.Error("checkpoint write", "error", err, "task_id", taskID)
		return false
	}

	s.updateManifestLocked(taskID, StateActive, cp.Status)

	if err := s.clearWALLocked(); err != nil {
		slog.Warn("checkpoint wal clear", "error", err, "task_id", taskID)
	}

	return true
}

// LoadCheckpoint returns the stored checkpoint for taskID, or nil if the
// file does not exist or fails to parse.
func (s *Store) LoadCheckpoint(taskID string) *Checkpoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cp Checkpoint
	found, err := fsatomic.ReadJSON(s.checkpointPath(taskID), &cp)
	if err != nil {
		slog.Warn("checkpoint load", "error", err, "task_id", taskID)
		return nil
	}
	if !found {
		return nil
	}
	return &cp
}

// DeleteCheckpoint removes a task's checkpoint and manifest entry.
// Symmetric to save: the delete intent is WAL-logged first. Absence of the
// checkpoint file is not an error.
func (s *Store) DeleteCheckpoint(taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.appendWAL(walEntry{
		Operation: walDelete,
		TaskID:    taskID,
		Timestamp: time.Now(),
	}); err != nil {
		slog.Error("checkpoint wal append", "error", err, "task_id", taskID)
		return false
	}

	if err := fsatomic.Remove(s.checkpointPath(taskID)); err != nil {
		slog.Error("checkpoint delete", "error", err, "task_id", taskID)
		return false
	}

	s.removeFromManifestLocked(taskID)

	if err := s.clearWALLocked(); err != nil {
		slog.Warn("checkpoint wal clear", "error", err, "task_id", taskID)
	}

	return true
}

// ReplayResult reports the outcome of a WAL replay pass.
type ReplayResult struct {
	Replayed int
	Errors   []string
}

// ReplayWAL re-applies any mutation the WAL recorded but a crash may have
// interrupted. Run once at startup before anything else touches the store.
// Both operations are idempotent: replaying a write that already landed
// reproduces the same bytes, replaying a delete that already landed is a
// no-op. A corrupted WAL is discarded and reported, never fatal.
func (s *Store) ReplayWAL() ReplayResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result ReplayResult

	var entries []walEntry
	found, err := fsatomic.ReadJSON(s.walPath(), &entries)
	if !found && err == nil {
		return result
	}
	if err != nil {
		// Corrupt WAL: self-heal by discarding it.
		result.Errors = append(result.Errors, fmt.Sprintf("wal unreadable, discarded: %v", err))
		if rmErr := fsatomic.Remove(s.walPath()); rmErr != nil {
			slog.Error("wal discard", "error", rmErr)
		}
		return result
	}

	// By construction the slot holds at most one entry, but replay whatever
	// is there.
	for _, entry := range entries {
		switch entry.Operation {
		case walWrite:
			if entry.Data == nil {
				result.Errors = append(result.Errors, fmt.Sprintf("write entry for %s has no data", entry.TaskID))
				continue
			}
			if err := fsatomic.WriteJSON(s.checkpointPath(entry.TaskID), entry.Data); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("replay write %s: %v", entry.TaskID, err))
				continue
			}
			s.updateManifestLocked(entry.TaskID, StateActive, entry.Data.Status)
			result.Replayed++
		case walDelete:
			if err := fsatomic.Remove(s.checkpointPath(entry.TaskID)); err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("replay delete %s: %v", entry.TaskID, err))
				continue
			}
			s.removeFromManifestLocked(entry.TaskID)
			result.Replayed++
		default:
			result.Errors = append(result.Errors, fmt.Sprintf("unknown wal operation %q for %s", entry.Operation, entry.TaskID))
		}
	}

	if err := s.clearWALLocked(); err != nil {
		slog.Warn("wal clear after replay", "error", err)
	}

	return result
}

// ClearWAL removes the WAL file. Used by shutdown; checkpoints stay on disk.
func (s *Store) ClearWAL() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clearWALLocked()
}

func (s *Store) appendWAL(entry walEntry) error {
	if err := fsatomic.EnsureDir(s.dir); err != nil {
		return err
	}
	// Single mutable slot, not an append log: the file always holds exactly
	// the one pending operation.
	return fsatomic.WriteJSON(s.walPath(), []walEntry{entry})
}

func (s *Store) clearWALLocked() error {
	return fsatomic.Remove(s.walPath())
}

// LoadManifest reads the recovery manifest, returning an empty manifest on
// any read or parse failure. A corrupted manifest is rebuilt incrementally
// by subsequent updates.
func (s *Store) LoadManifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadManifestLocked()
}

func (s *Store) loadManifestLocked() Manifest {
	var m Manifest
	found, err := fsatomic.ReadJSON(s.manifestPath(), &m)
	if err != nil {
		slog.Warn("manifest load, treating as empty", "error", err)
	}
	if !found || m.Tasks == nil {
		m.Tasks = make(map[string]ManifestEntry)
	}
	return m
}

// updateManifestLocked read-modify-writes the whole manifest. Callers hold
// the writer lock: the manifest is one critical section.
func (s *Store) updateManifestLocked(taskID string, state ManifestState, status tasks.Status) {
	m := s.loadManifestLocked()
	entry := m.Tasks[taskID]
	entry.State = state
	if status != "" {
		entry.Status = status
	}
	entry.LastCheckpoint = time.Now()
	m.Tasks[taskID] = entry
	m.LastUpdated = time.Now()

	if err := fsatomic.WriteJSON(s.manifestPath(), m); err != nil {
		slog.Error("manifest update", "error", err, "task_id", taskID)
	}
}

func (s *Store) removeFromManifestLocked(taskID string) {
	m := s.loadManifestLocked()
	if _, ok := m.Tasks[taskID]; !ok {
		return
	}
	delete(m.Tasks, taskID)
	m.LastUpdated = time.Now()

	if err := fsatomic.WriteJSON(s.manifestPath(), m); err != nil {
		slog.Error("manifest remove", "error", err, "task_id", taskID)
	}
}

// MarkRecovered transitions a checkpoint's manifest state to recovered so a
// second restart does not re-offer it.
func (s *Store) MarkRecovered(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateManifestLocked(taskID, StateRecovered, "")
}

// MarkCompleted settles a checkpoint. With keepFile the file stays on disk
// for postmortem inspection but leaves the recoverable set; otherwise the
// checkpoint is deleted entirely.
func (s *Store) MarkCompleted(taskID string, keepFile bool) {
	if !keepFile {
		s.DeleteCheckpoint(taskID)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateManifestLocked(taskID, StateCompleted, "")
}

// ListRecoverable is the authoritative "what needs recovery" query: manifest
// entries in state active whose last-known status was running or queued.
func (s *Store) ListRecoverable() []Recoverable {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.loadManifestLocked()

	var out []Recoverable
	for taskID, entry := range m.Tasks {
		if entry.State != StateActive {
			continue
		}
		if entry.Status != tasks.StatusRunning && entry.Status != tasks.StatusQueued {
			continue
		}

		var cp Checkpoint
		found, err := fsatomic.ReadJSON(s.checkpointPath(taskID), &cp)
		if err != nil || !found {
			slog.Warn("recoverable checkpoint unreadable, skipping", "task_id", taskID, "error", err)
			continue
		}

		out = append(out, Recoverable{TaskID: taskID, Checkpoint: &cp, Entry: entry})
	}

	return out
}

// CleanupOldCheckpoints deletes checkpoint files older than the retention
// age, together with their manifest entries. Returns the number deleted.
func (s *Store) CleanupOldCheckpoints() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := fsatomic.ListFiles(s.dir)
	if err != nil {
		slog.Error("checkpoint cleanup list", "error", err)
		return 0
	}

	// Manifest keys are raw task IDs; filenames carry the sanitized form.
	m := s.loadManifestLocked()
	bySanitized := make(map[string]string, len(m.Tasks))
	for taskID := range m.Tasks {
		bySanitized[SanitizeTaskID(taskID)] = taskID
	}

	cutoff := time.Now().Add(-s.maxAge)
	deleted := 0

	for _, name := range names {
		if !strings.HasPrefix(name, checkpointPrefix) || !strings.HasSuffix(name, checkpointSuffix) {
			continue
		}

		path := filepath.Join(s.dir, name)
		mtime, ok := fsatomic.ModTime(path)
		if !ok || mtime.After(cutoff) {
			continue
		}

		if err := fsatomic.Remove(path); err != nil {
			slog.Warn("checkpoint cleanup remove", "error", err, "file", name)
			continue
		}

		sanitized := strings.TrimSuffix(strings.TrimPrefix(name, checkpointPrefix), checkpointSuffix)
		taskID, ok := bySanitized[sanitized]
		if !ok {
			taskID = sanitized
		}
		s.removeFromManifestLocked(taskID)
		deleted++
	}

	if deleted > 0 {
		slog.Info("cleaned up old checkpoints", "count", deleted, "max_age", s.maxAge)
	}

	return deleted
}
