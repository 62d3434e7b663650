package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/aiman-agent/aiman/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "aiman",
		Usage: "AI agent runtime with crash-safe task checkpointing",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.StringFlag{
				Name:    "workdir",
				Aliases: []string{"w"},
				Usage:   "Workspace root (default: config, then cwd)",
			},
		},
		Commands: []*cli.Command{
			NewRunCommand(),
			NewCheckpointsCommand(),
			NewRecoverCommand(),
			NewCleanupCommand(),
			NewStatusCommand(),
		},
	}
}

// setup resolves shared flags into a loaded config and workspace root.
func setup(cmd *cli.Command) (*config.Config, string, error) {
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return nil, "", err
	}

	workDir := cmd.String("workdir")
	if workDir == "" {
		workDir = cfg.Runtime.WorkDir
	}
	if workDir == "" {
		workDir, err = os.Getwd()
		if err != nil {
			return nil, "", err
		}
	}
	return cfg, workDir, nil
}
