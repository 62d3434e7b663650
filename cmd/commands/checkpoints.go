package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/checkpoint"
	"github.com/aiman-agent/aiman/internal/config"
)

// NewCheckpointsCommand returns the checkpoints subcommand.
func NewCheckpointsCommand() *cli.Command {
	return &cli.Command{
		Name:  "checkpoints",
		Usage: "Inspect and manage task checkpoints",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List checkpoints in the workspace",
				Action: runCheckpointsList,
			},
			{
				Name:      "show",
				Usage:     "Show checkpoint details",
				ArgsUsage: "<task_id>",
				Action:    runCheckpointsShow,
			},
			{
				Name:      "discard",
				Usage:     "Delete a checkpoint",
				ArgsUsage: "<task_id>",
				Action:    runCheckpointsDiscard,
			},
		},
		DefaultCommand: "list",
	}
}

func openStore(cmd *cli.Command) (*checkpoint.Store, error) {
	cfg, workDir, err := setup(cmd)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewStore(config.CheckpointsDir(workDir), cfg.Checkpoints.MaxAge.Duration()), nil
}

func runCheckpointsList(_ context.Context, cmd *cli.Command) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	manifest := store.LoadManifest()
	if len(manifest.Tasks) == 0 {
		fmt.Println("No checkpoints found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATE\tSTATUS\tLAST CHECKPOINT")
	for taskID, entry := range manifest.Tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			taskID,
			entry.State,
			entry.Status,
			entry.LastCheckpoint.Format("2006-01-02 15:04:05"),
		)
	}
	return w.Flush()
}

func runCheckpointsShow(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: aiman checkpoints show <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	cp := store.LoadCheckpoint(taskID)
	if cp == nil {
		return fmt.Errorf("no checkpoint for task %s", taskID)
	}

	fmt.Printf("Task:        %s\n", taskID)
	fmt.Printf("Type:        %s\n", cp.Type)
	fmt.Printf("Status:      %s\n", cp.Status)
	fmt.Printf("Strategy:    %s\n", cp.RecoveryStrategy)
	fmt.Printf("Turn:        %d\n", cp.TurnNumber)
	fmt.Printf("Progress:    %d%%\n", cp.Progress)
	if cp.Description != "" {
		fmt.Printf("Description: %s\n", cp.Description)
	}
	if cp.WorkingDir != "" {
		fmt.Printf("Workdir:     %s\n", cp.WorkingDir)
	}
	if !cp.LastCheckpointAt.IsZero() {
		fmt.Printf("Saved:       %s (%s ago)\n",
			cp.LastCheckpointAt.Format("2006-01-02 15:04:05"),
			time.Since(cp.LastCheckpointAt).Truncate(time.Second))
	}
	if len(cp.HistorySnapshot) > 0 {
		fmt.Printf("History:     %d messages\n", len(cp.HistorySnapshot))
	}

	if len(cp.OutputLog) > 0 {
		fmt.Println("\nOutput:")
		for _, line := range cp.OutputLog {
			fmt.Printf("  %s\n", line)
		}
	}

	return nil
}

func runCheckpointsDiscard(_ context.Context, cmd *cli.Command) error {
	taskID := cmd.Args().First()
	if taskID == "" {
		return fmt.Errorf("usage: aiman checkpoints discard <task_id>")
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}

	if store.LoadCheckpoint(taskID) == nil {
		return fmt.Errorf("no checkpoint for task %s", taskID)
	}
	if !store.DeleteCheckpoint(taskID) {
		return fmt.Errorf("delete checkpoint %s", taskID)
	}

	fmt.Printf("Checkpoint %s discarded.\n", taskID)
	return nil
}
