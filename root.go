package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ScoreBoard/internal/config"
	"ScoreBoard/internal/logger"
)

// newRootCmd creates the root scoreboard command with all subcommands attached.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scoreboard",
		Short:         "Real-time shared annotations over a LAN",
		Long:          "scoreboard syncs pen, highlighter and eraser strokes between everyone\nlooking at the same score sheet, and keeps them in a durable store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newJoinCmd(),
		newExportCmd(),
		newAnnotationsCmd(),
	)

	return cmd
}

// setup loads configuration and builds the logger every command shares.
func setup(console bool) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logger.New("scoreboard")
	if console {
		log = logger.NewConsole("scoreboard")
	}
	return cfg, logger.WithLevel(log, cfg.LogLevel), nil
}
