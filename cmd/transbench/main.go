package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeberg.org/snonux/transbench/internal"
	"codeberg.org/snonux/transbench/internal/cli"
	"codeberg.org/snonux/transbench/internal/config"
	"codeberg.org/snonux/transbench/internal/logging"
	"codeberg.org/snonux/transbench/internal/models"
	"codeberg.org/snonux/transbench/internal/processor"
	"codeberg.org/snonux/transbench/internal/report"
)

// Exit codes
const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

var errInterrupted = errors.New("interrupted")

func main() {
	os.Exit(run())
}

func run() int {
	// Create flags instance
	flags := cli.NewFlags()

	// Create root command
	rootCmd := cli.CreateRootCommand(flags)

	// Set up command initialization
	cobra.OnInitialize(func() {
		cli.InitConfig(flags.CfgFile, flags.EnvFile)
	})

	// Set the run function
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), flags)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Execute command
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errInterrupted) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps the result of a run to the process exit status. Per-item
// failures and an exhausted budget are not errors.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted):
		return exitInterrupted
	default:
		return exitError
	}
}

// summaryError reports an interrupted run as errInterrupted
func summaryError(ctx context.Context, summary *processor.Summary) error {
	if summary.Cancelled || ctx.Err() != nil {
		return errInterrupted
	}
	return nil
}

func runCommand(ctx context.Context, flags *cli.Flags) error {
	// Handle --list_models flag
	if flags.ListModels {
		lister := models.NewLister(cli.GetOpenAIKey(), viper.GetString(config.KeyBaseURL))
		return lister.ListAvailableModels(ctx, os.Stdout)
	}

	// Handle --list_runs flag
	if flags.ListRuns {
		return listRuns(ctx, viper.GetString(config.KeyHistory))
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	runID := internal.GenerateRunID(cfg.Model, time.Now())
	logFile, closeLog := logging.Init(cfg.LogLevel, cfg.LogDir, runID)
	defer closeLog()

	log.Info().
		Str("version", internal.Version).
		Str("run_id", runID).
		Str("model", cfg.Model).
		Str("base_url", cfg.BaseURL).
		Strs("tasks", taskNames(cfg)).
		Int("workers", cfg.Workers).
		Dur("timeout", cfg.Timeout).
		Int("max_retries", cfg.MaxRetries).
		Str("input", cfg.InputFile).
		Str("log_file", logFile).
		Msg("Starting benchmark")

	proc, err := processor.NewProcessor(cfg, runID, log.Logger)
	if err != nil {
		return err
	}

	summary, err := proc.Run(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Benchmark failed")
		return err
	}

	if err := summaryError(ctx, summary); err != nil {
		log.Warn().Msg("Interrupted, partial results written")
		return err
	}
	return nil
}

func listRuns(ctx context.Context, path string) error {
	if path == "" {
		return &config.ConfigError{Key: config.KeyHistory, Msg: "--list_runs needs a history database"}
	}
	history, err := report.OpenHistory(path)
	if err != nil {
		return err
	}
	defer history.Close()

	return history.ListRuns(ctx, os.Stdout)
}

func taskNames(cfg *config.Config) []string {
	names := make([]string, len(cfg.Tasks))
	for i, task := range cfg.Tasks {
		names[i] = task.String()
	}
	return names
}
