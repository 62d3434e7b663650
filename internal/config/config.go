package config

import "time"

// Config is the root configuration for aiman.
type Config struct {
	Runtime     RuntimeConfig    `json:"runtime"`
	Events      EventsConfig     `json:"events"`
	Checkpoints CheckpointConfig `json:"checkpoints"`
}

// RuntimeConfig holds host runtime settings.
type RuntimeConfig struct {
	WorkDir string `json:"work_dir,omitempty"` // workspace root (default: cwd)
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int    `json:"buffer_size"`
	LogDir     string `json:"log_dir,omitempty"` // event audit log directory (default: <data>/logs)
}

// CheckpointConfig configures the checkpoint & crash-recovery subsystem.
type CheckpointConfig struct {
	Enabled          *bool    `json:"enabled,omitempty"`            // default true
	Interval         Duration `json:"interval,omitempty"`           // periodic checkpoint interval (default 10s)
	MaxAge           Duration `json:"max_age,omitempty"`            // checkpoint retention (default 24h)
	RecoverOnStartup bool     `json:"recover_on_startup"`           // run crash recovery during initialize
	NotifyOnRecovery *bool    `json:"notify_on_recovery,omitempty"` // emit recovery-pending events (default true)
	CleanupSchedule  string   `json:"cleanup_schedule,omitempty"`   // cron expression (default "0 * * * *")
}

// IsEnabled resolves the Enabled tri-state with its default.
func (c CheckpointConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// ShouldNotify resolves the NotifyOnRecovery tri-state with its default.
func (c CheckpointConfig) ShouldNotify() bool {
	return c.NotifyOnRecovery == nil || *c.NotifyOnRecovery
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
