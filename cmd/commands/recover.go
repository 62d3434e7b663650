package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/checkpoint"
	"github.com/aiman-agent/aiman/internal/config"
	"github.com/aiman-agent/aiman/internal/events"
	"github.com/aiman-agent/aiman/internal/tasks"
)

// NewRecoverCommand returns the recover subcommand.
func NewRecoverCommand() *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Replay the WAL and run a crash-recovery scan",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Report what would be recovered without spawning anything",
			},
		},
		Action: runRecover,
	}
}

func runRecover(_ context.Context, cmd *cli.Command) error {
	cfg, workDir, err := setup(cmd)
	if err != nil {
		return err
	}

	store := checkpoint.NewStore(config.CheckpointsDir(workDir), cfg.Checkpoints.MaxAge.Duration())

	result := store.ReplayWAL()
	if result.Replayed > 0 {
		fmt.Printf("WAL: %d pending operation(s) replayed.\n", result.Replayed)
	}
	for _, e := range result.Errors {
		fmt.Printf("WAL: %s\n", e)
	}

	recoverable := store.ListRecoverable()
	if len(recoverable) == 0 {
		fmt.Println("Nothing to recover.")
		return nil
	}

	if cmd.Bool("dry-run") {
		fmt.Printf("%d checkpoint(s) would be recovered:\n", len(recoverable))
		for _, rec := range recoverable {
			fmt.Printf("  %s (%s, turn %d) %s\n",
				rec.TaskID, rec.Checkpoint.Type, rec.Checkpoint.TurnNumber, rec.Checkpoint.Description)
		}
		return nil
	}

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	registry := tasks.NewRegistry(bus)

	opts := checkpoint.OptionsFromConfig(cfg.Checkpoints, workDir)
	manager := checkpoint.NewManager(store, bus, registry, opts)

	report := manager.RecoverFromCrash()
	fmt.Printf("Recovered: %d  Failed: %d  Pending confirmation: %d\n",
		report.Recovered, report.Failed, len(report.Pending))
	for _, p := range report.Pending {
		fmt.Printf("  pending %s (turn %d, %d messages): %s\n",
			p.TaskID, p.TurnNumber, p.HistoryLength, p.Description)
	}

	return nil
}
