package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/checkpoint"
	"github.com/aiman-agent/aiman/internal/config"
	"github.com/aiman-agent/aiman/internal/events"
	"github.com/aiman-agent/aiman/internal/heartbeat"
	"github.com/aiman-agent/aiman/internal/storage"
	"github.com/aiman-agent/aiman/internal/tasks"
)

// NewRunCommand returns the run subcommand.
func NewRunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Start the agent runtime",
		Action: runRuntime,
	}
}

func runRuntime(ctx context.Context, cmd *cli.Command) error {
	cfg, workDir, err := setup(cmd)
	if err != nil {
		return err
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	logDir := cfg.Events.LogDir
	if logDir == "" {
		logDir = config.LogsDir(workDir)
	}
	eventLog := storage.NewEventLogger(logDir, bus)
	defer eventLog.Close()

	registry := tasks.NewRegistry(bus)

	store := checkpoint.NewStore(config.CheckpointsDir(workDir), cfg.Checkpoints.MaxAge.Duration())
	manager := checkpoint.NewManager(store, bus, registry,
		checkpoint.OptionsFromConfig(cfg.Checkpoints, workDir))

	// Heartbeat up before recovery so a racing second instance sees us.
	hb := heartbeat.NewWriter(config.HeartbeatPath(workDir), workDir)
	hb.Start()
	defer hb.Stop()

	if err := manager.Initialize(); err != nil {
		return fmt.Errorf("init checkpoint manager: %w", err)
	}
	defer manager.Shutdown()

	for _, p := range manager.GetPendingRecovery() {
		slog.Info("interrupted request awaiting confirmation",
			"task_id", p.TaskID,
			"description", p.Description,
			"turn", p.TurnNumber,
			"messages", p.HistoryLength,
		)
	}

	slog.Info("runtime started", "workspace", workDir)
	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}
