package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aiman-agent/aiman/internal/tasks"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "checkpoints"), 24*time.Hour)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := newTestStore(t)

	cp := Checkpoint{
		Type:        tasks.TypeBackground,
		Status:      tasks.StatusRunning,
		TurnNumber:  3,
		Progress:    40,
		Description: "index the repository",
		Query:       "index all Go files",
		OutputLog:   []string{"scanning", "parsing"},
	}

	if !s.SaveCheckpoint("t1", cp) {
		t.Fatal("SaveCheckpoint returned false")
	}

	got := s.LoadCheckpoint("t1")
	if got == nil {
		t.Fatal("LoadCheckpoint returned nil")
	}
	if got.TurnNumber != 3 || got.Progress != 40 {
		t.Errorf("fields: got turn=%d progress=%d", got.TurnNumber, got.Progress)
	}
	if got.Description != "index the repository" {
		t.Errorf("Description: got %q", got.Description)
	}
	if len(got.OutputLog) != 2 {
		t.Errorf("OutputLog: got %d lines", len(got.OutputLog))
	}

	// The store stamps the envelope; callers never set it.
	if got.Meta == nil {
		t.Fatal("expected _meta envelope")
	}
	if got.Meta.TaskID != "t1" || got.Meta.Version != 1 {
		t.Errorf("_meta: %+v", got.Meta)
	}
	if got.Meta.SavedAt.IsZero() {
		t.Error("_meta.saved_at not stamped")
	}
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	s := newTestStore(t)

	if cp := s.LoadCheckpoint("absent"); cp != nil {
		t.Errorf("expected nil for missing checkpoint, got %+v", cp)
	}

	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "task-bad.checkpoint.json"), []byte("{oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if cp := s.LoadCheckpoint("bad"); cp != nil {
		t.Errorf("expected nil for corrupt checkpoint, got %+v", cp)
	}
}

func TestDeleteRoundTrip(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})

	if !s.DeleteCheckpoint("t1") {
		t.Fatal("DeleteCheckpoint returned false")
	}
	if cp := s.LoadCheckpoint("t1"); cp != nil {
		t.Error("checkpoint still loadable after delete")
	}
	if recs := s.ListRecoverable(); len(recs) != 0 {
		t.Errorf("expected no recoverable entries, got %d", len(recs))
	}

	// Deleting a checkpoint that never existed is not an error.
	if !s.DeleteCheckpoint("never-existed") {
		t.Error("delete of absent checkpoint should succeed")
	}
}

func TestWALClearedAfterSave(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})

	if _, err := os.Stat(s.walPath()); !os.IsNotExist(err) {
		t.Error("wal should be cleared after a successful save")
	}
}

// Scenario: the process died after the WAL append but before the checkpoint
// file write and WAL clear. Replay must land the write.
func TestReplayWALAppliesPendingWrite(t *testing.T) {
	s := newTestStore(t)

	cp := &Checkpoint{
		TaskID:     "t1",
		Type:       tasks.TypeBackground,
		Status:     tasks.StatusRunning,
		TurnNumber: 3,
		Meta:       &Meta{TaskID: "t1", SavedAt: time.Now(), Version: 1},
	}
	seedWAL(t, s, []walEntry{{Operation: walWrite, TaskID: "t1", Timestamp: time.Now(), Data: cp}})

	result := s.ReplayWAL()
	if result.Replayed != 1 {
		t.Fatalf("Replayed: got %d, want 1 (errors: %v)", result.Replayed, result.Errors)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	got := s.LoadCheckpoint("t1")
	if got == nil {
		t.Fatal("checkpoint not written by replay")
	}
	if got.TurnNumber != 3 {
		t.Errorf("TurnNumber: got %d, want 3", got.TurnNumber)
	}

	if _, err := os.Stat(s.walPath()); !os.IsNotExist(err) {
		t.Error("wal not cleared after replay")
	}

	// Replayed checkpoints re-enter the recoverable set.
	recs := s.ListRecoverable()
	if len(recs) != 1 || recs[0].TaskID != "t1" {
		t.Errorf("recoverable after replay: %+v", recs)
	}
}

func TestReplayWALIdempotent(t *testing.T) {
	s := newTestStore(t)

	cp := &Checkpoint{
		TaskID: "t1",
		Type:   tasks.TypeBackground,
		Status: tasks.StatusRunning,
		Meta:   &Meta{TaskID: "t1", SavedAt: time.Now().Truncate(time.Second), Version: 1},
	}
	entries := []walEntry{{Operation: walWrite, TaskID: "t1", Timestamp: time.Now(), Data: cp}}

	seedWAL(t, s, entries)
	s.ReplayWAL()
	first, err := os.ReadFile(s.checkpointPath("t1"))
	if err != nil {
		t.Fatal(err)
	}

	// Same WAL content again: replay must reproduce the same bytes.
	seedWAL(t, s, entries)
	s.ReplayWAL()
	second, err := os.ReadFile(s.checkpointPath("t1"))
	if err != nil {
		t.Fatal(err)
	}

	if string(first) != string(second) {
		t.Error("replay is not idempotent: checkpoint bytes differ")
	}
}

func TestReplayWALDelete(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})

	seedWAL(t, s, []walEntry{{Operation: walDelete, TaskID: "t1", Timestamp: time.Now()}})
	result := s.ReplayWAL()
	if result.Replayed != 1 {
		t.Fatalf("Replayed: got %d, want 1", result.Replayed)
	}
	if cp := s.LoadCheckpoint("t1"); cp != nil {
		t.Error("checkpoint still present after delete replay")
	}

	// Delete that already landed is a no-op.
	seedWAL(t, s, []walEntry{{Operation: walDelete, TaskID: "t1", Timestamp: time.Now()}})
	result = s.ReplayWAL()
	if result.Replayed != 1 || len(result.Errors) != 0 {
		t.Errorf("repeat delete replay: %+v", result)
	}
}

func TestReplayWALMissing(t *testing.T) {
	s := newTestStore(t)

	result := s.ReplayWAL()
	if result.Replayed != 0 || len(result.Errors) != 0 {
		t.Errorf("expected zero result for missing wal, got %+v", result)
	}
}

func TestReplayWALCorrupt(t *testing.T) {
	s := newTestStore(t)

	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.walPath(), []byte("not an array"), 0o644); err != nil {
		t.Fatal(err)
	}

	result := s.ReplayWAL()
	if result.Replayed != 0 {
		t.Errorf("Replayed: got %d, want 0", result.Replayed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("Errors: got %d, want 1", len(result.Errors))
	}

	// Self-healed: the corrupt wal is gone and the next replay is clean.
	if _, err := os.Stat(s.walPath()); !os.IsNotExist(err) {
		t.Error("corrupt wal not discarded")
	}
	result = s.ReplayWAL()
	if result.Replayed != 0 || len(result.Errors) != 0 {
		t.Errorf("expected clean replay after discard, got %+v", result)
	}
}

func TestRecoverableFilter(t *testing.T) {
	s := newTestStore(t)

	statuses := map[string]tasks.Status{
		"run":       tasks.StatusRunning,
		"queue":     tasks.StatusQueued,
		"done":      tasks.StatusCompleted,
		"cancelled": tasks.StatusCancelled,
	}
	for id, st := range statuses {
		s.SaveCheckpoint(id, Checkpoint{Type: tasks.TypeBackground, Status: st})
	}

	recs := s.ListRecoverable()
	if len(recs) != 2 {
		t.Fatalf("recoverable: got %d, want 2", len(recs))
	}
	for _, rec := range recs {
		if rec.TaskID != "run" && rec.TaskID != "queue" {
			t.Errorf("unexpected recoverable task %q (status %s)", rec.TaskID, rec.Checkpoint.Status)
		}
		if rec.Entry.State != StateActive {
			t.Errorf("entry state: got %s", rec.Entry.State)
		}
	}
}

func TestMarkRecoveredLeavesRecoverableSet(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})
	s.MarkRecovered("t1")

	if recs := s.ListRecoverable(); len(recs) != 0 {
		t.Errorf("recovered checkpoint re-offered: %+v", recs)
	}
	// File is retained until cleanup or delete.
	if cp := s.LoadCheckpoint("t1"); cp == nil {
		t.Error("checkpoint file removed by MarkRecovered")
	}
}

func TestMarkCompleted(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("keep", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})
	s.SaveCheckpoint("drop", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})

	// keepFile=true: retained for postmortem, out of the recoverable set.
	s.MarkCompleted("keep", true)
	if cp := s.LoadCheckpoint("keep"); cp == nil {
		t.Error("keepFile=true should retain the file")
	}
	m := s.LoadManifest()
	if m.Tasks["keep"].State != StateCompleted {
		t.Errorf("manifest state: got %s, want %s", m.Tasks["keep"].State, StateCompleted)
	}

	// keepFile=false: gone entirely.
	s.MarkCompleted("drop", false)
	if cp := s.LoadCheckpoint("drop"); cp != nil {
		t.Error("keepFile=false should delete the file")
	}
	m = s.LoadManifest()
	if _, ok := m.Tasks["drop"]; ok {
		t.Error("manifest entry should be removed")
	}

	if recs := s.ListRecoverable(); len(recs) != 0 {
		t.Errorf("completed checkpoints offered for recovery: %+v", recs)
	}
}

func TestCorruptManifestTreatedAsEmpty(t *testing.T) {
	s := newTestStore(t)

	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.manifestPath(), []byte("###"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := s.LoadManifest()
	if len(m.Tasks) != 0 {
		t.Errorf("expected empty manifest, got %d entries", len(m.Tasks))
	}

	// Rebuilt incrementally by the next save.
	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})
	m = s.LoadManifest()
	if m.Tasks["t1"].State != StateActive {
		t.Errorf("manifest not rebuilt: %+v", m)
	}
}

func TestCleanupOldCheckpoints(t *testing.T) {
	s := newTestStore(t)

	s.SaveCheckpoint("t1", Checkpoint{Type: tasks.TypeBackground, Status: tasks.StatusRunning})
	s.SaveCheckpoint("t2", Checkpoint{Type: tasks.TypeRequest, Status: tasks.StatusQueued})

	// Nothing is old enough yet.
	if n := s.CleanupOldCheckpoints(); n != 0 {
		t.Errorf("cleanup with 24h age: got %d, want 0", n)
	}

	// Zero retention deletes every checkpoint file and manifest entry.
	s.maxAge = 0
	time.Sleep(10 * time.Millisecond)
	n := s.CleanupOldCheckpoints()
	if n != 2 {
		t.Fatalf("cleanup: got %d, want 2", n)
	}
	if cp := s.LoadCheckpoint("t1"); cp != nil {
		t.Error("t1 survived cleanup")
	}
	m := s.LoadManifest()
	if len(m.Tasks) != 0 {
		t.Errorf("manifest entries survived cleanup: %+v", m.Tasks)
	}
}

func TestSanitizeTaskID(t *testing.T) {
	cases := map[string]string{
		"task_abc123":        "task_abc123",
		"request-42":         "request-42",
		"../../etc/passwd":   "______etc_passwd",
		"task id with space": "task_id_with_space",
	}
	for in, want := range cases {
		if got := SanitizeTaskID(in); got != want {
			t.Errorf("SanitizeTaskID(%q): got %q, want %q", in, got, want)
		}
	}
}

// seedWAL writes a WAL file directly, simulating a crash that left the slot
// occupied.
func seedWAL(t *testing.T, s *Store, entries []walEntry) {
	t.Helper()
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.walPath(), data, 0o644); err != nil {
		t.Fatal(err)
	}
}
