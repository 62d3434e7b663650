package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	content := `{
	// This is a JSONC comment
	"runtime": {
		"work_dir": "${{ .Env.AIMAN_TEST_WORKDIR }}"
	},
	"events": {
		"buffer_size": 256
	},
	"checkpoints": {
		"interval": "5s",
		"max_age": "1h",
		"recover_on_startup": true,
		"cleanup_schedule": "*/30 * * * *"
	}
}`

	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AIMAN_TEST_WORKDIR", "/srv/agent")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Runtime.WorkDir != "/srv/agent" {
		t.Errorf("expected work_dir /srv/agent, got %s", cfg.Runtime.WorkDir)
	}
	if cfg.Events.BufferSize != 256 {
		t.Errorf("expected buffer_size 256, got %d", cfg.Events.BufferSize)
	}
	if cfg.Checkpoints.Interval.Duration() != 5*time.Second {
		t.Errorf("expected interval 5s, got %v", cfg.Checkpoints.Interval.Duration())
	}
	if cfg.Checkpoints.MaxAge.Duration() != time.Hour {
		t.Errorf("expected max_age 1h, got %v", cfg.Checkpoints.MaxAge.Duration())
	}
	if !cfg.Checkpoints.RecoverOnStartup {
		t.Error("expected recover_on_startup true")
	}
	if cfg.Checkpoints.CleanupSchedule != "*/30 * * * *" {
		t.Errorf("expected cleanup_schedule */30 * * * *, got %s", cfg.Checkpoints.CleanupSchedule)
	}
}

func TestLoadDefaults(t *testing.T) {
	content := `{}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if !cfg.Checkpoints.IsEnabled() {
		t.Error("expected checkpoints enabled by default")
	}
	if !cfg.Checkpoints.ShouldNotify() {
		t.Error("expected notify_on_recovery true by default")
	}
	if cfg.Checkpoints.Interval.Duration() != 10*time.Second {
		t.Errorf("expected default interval 10s, got %v", cfg.Checkpoints.Interval.Duration())
	}
	if cfg.Checkpoints.MaxAge.Duration() != 24*time.Hour {
		t.Errorf("expected default max_age 24h, got %v", cfg.Checkpoints.MaxAge.Duration())
	}
	if cfg.Checkpoints.CleanupSchedule != "0 * * * *" {
		t.Errorf("expected default cleanup_schedule hourly, got %s", cfg.Checkpoints.CleanupSchedule)
	}
	if cfg.Events.BufferSize != 1024 {
		t.Errorf("expected default buffer_size 1024, got %d", cfg.Events.BufferSize)
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.jsonc"))
	if err != nil {
		t.Fatalf("LoadOrDefault: %v", err)
	}
	if cfg.Checkpoints.Interval.Duration() != 10*time.Second {
		t.Errorf("expected defaults applied, got interval %v", cfg.Checkpoints.Interval.Duration())
	}
}

func TestExplicitDisable(t *testing.T) {
	content := `{"checkpoints": {"enabled": false, "notify_on_recovery": false}}`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Checkpoints.IsEnabled() {
		t.Error("expected checkpoints disabled")
	}
	if cfg.Checkpoints.ShouldNotify() {
		t.Error("expected notify_on_recovery disabled")
	}
}
