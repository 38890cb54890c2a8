// Package cmd provides the CLI commands for qanoon.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
	"github.com/Aman-CERP/qanoon/internal/logging"
	"github.com/Aman-CERP/qanoon/pkg/version"
)

// Global flags
var (
	debugMode      bool
	projectDir     string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the qanoon CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qanoon",
		Short: "Legal text retrieval and answering over a local vector index",
		Long: `qanoon indexes normalized legal records into a local vector index,
retrieves the passages relevant to a question, and streams an answer from
an OpenAI-compatible model with key rotation and backoff.

Typical flow:
  qanoon build --records legal_data_final.json
  qanoon ask "What is the punishment for theft?"`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("qanoon version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging (also echoed to stderr)")
	cmd.PersistentFlags().StringVarP(&projectDir, "dir", "C", ".", "Project directory holding .qanoon.yaml and the index")

	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newUpdateCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newKeepAliveCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startLogging configures slog from --debug or QANOON_LOG_LEVEL.
func startLogging(_ *cobra.Command, _ []string) error {
	cfg := logging.DefaultConfig()
	cfg.Console = debugMode
	switch {
	case debugMode:
		cfg.Level = "debug"
	case os.Getenv("QANOON_LOG_LEVEL") != "":
		cfg.Level = os.Getenv("QANOON_LOG_LEVEL")
	}

	logger, cleanup, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	slog.Debug("logging_started",
		slog.String("log_file", cfg.FilePath),
		slog.String("version", version.Short()))
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command with SIGINT/SIGTERM cancelling its context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, qerrors.FormatForCLI(err))
	}
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return err
}
