package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/checkpoint"
	"github.com/aiman-agent/aiman/internal/config"
	"github.com/aiman-agent/aiman/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show runtime and checkpoint status for the workspace",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg, workDir, err := setup(cmd)
			if err != nil {
				return err
			}

			status, hb, err := heartbeat.Check(config.HeartbeatPath(workDir), 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}
			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Runtime: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
			case heartbeat.StatusStale:
				fmt.Printf("Runtime: STALE (PID %d, last beat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Runtime: NOT RUNNING")
			}

			store := checkpoint.NewStore(config.CheckpointsDir(workDir), cfg.Checkpoints.MaxAge.Duration())
			manifest := store.LoadManifest()
			recoverable := store.ListRecoverable()
			fmt.Printf("Checkpoints: %d tracked, %d recoverable\n", len(manifest.Tasks), len(recoverable))

			return nil
		},
	}
}
