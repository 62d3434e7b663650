package config

import (
	"os"
	"path/filepath"
)

// AimanPath returns the root directory for aiman's own data.
// It uses $AIMAN_PATH if set, otherwise defaults to ~/.aiman.
func AimanPath() string {
	if v := os.Getenv("AIMAN_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".aiman")
	}
	return filepath.Join(home, ".aiman")
}

// ConfigPath returns the path to the aiman config file.
func ConfigPath() string {
	return filepath.Join(AimanPath(), "config.jsonc")
}

// DataDir returns the workspace-scoped data directory for a working dir.
// All durable runtime state (checkpoints, logs, heartbeat) lives here.
func DataDir(workDir string) string {
	return filepath.Join(workDir, ".ai-man")
}

// CheckpointsDir returns the checkpoint directory for a working dir.
func CheckpointsDir(workDir string) string {
	return filepath.Join(DataDir(workDir), "checkpoints")
}

// LogsDir returns the event log directory for a working dir.
func LogsDir(workDir string) string {
	return filepath.Join(DataDir(workDir), "logs")
}

// HeartbeatPath returns the liveness file path for a working dir.
func HeartbeatPath(workDir string) string {
	return filepath.Join(DataDir(workDir), "heartbeat.json")
}
