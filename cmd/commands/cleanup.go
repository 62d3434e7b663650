package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/checkpoint"
	"github.com/aiman-agent/aiman/internal/config"
)

// NewCleanupCommand returns the cleanup subcommand.
func NewCleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Remove checkpoints older than the retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "max-age",
				Usage: "Retention override (e.g. 1h, 24h)",
			},
		},
		Action: runCleanup,
	}
}

func runCleanup(_ context.Context, cmd *cli.Command) error {
	cfg, workDir, err := setup(cmd)
	if err != nil {
		return err
	}

	maxAge := cfg.Checkpoints.MaxAge.Duration()
	if cmd.IsSet("max-age") {
		maxAge = cmd.Duration("max-age")
	}

	store := checkpoint.NewStore(config.CheckpointsDir(workDir), maxAge)
	deleted := store.CleanupOldCheckpoints()
	if deleted == 0 {
		fmt.Println("Nothing to clean up.")
		return nil
	}
	fmt.Printf("Removed %d checkpoint(s) older than %s.\n", deleted, maxAge.Truncate(time.Second))
	return nil
}
