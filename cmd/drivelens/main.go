package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/config"
)

type app struct {
	envFile string
	cfg     config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "drivelens",
		Short: "Driving video analysis service",
		Long: `DriveLens serves the driving-analysis landing page and its video intake
widget. Without a subcommand it starts the HTTP server.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.ErrOrStderr())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(a.cfg)
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.envFile, "env-file", "", "load environment variables from this file (default .env)")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newMigrateCommand(a))
	rootCmd.AddCommand(newAnalyzeCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))

	return rootCmd
}

func (a *app) load(logOut io.Writer) error {
	var files []string
	if a.envFile != "" {
		files = append(files, a.envFile)
	}
	if err := config.LoadDotEnv(files...); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	a.cfg = cfg

	slog.SetDefault(newLogger(logOut, cfg.LogFormat, cfg.LogLevel))
	return nil
}

func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	}))
}

func newAnalyzer(cfg config.Config) analysis.Analyzer {
	if cfg.AnalysisURL != "" {
		slog.Info("analysis service configured", "url", cfg.AnalysisURL, "timeout", cfg.AnalysisTimeout)
		return analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisAPIKey, cfg.AnalysisTimeout)
	}
	slog.Info("using simulated analysis", "delay", cfg.AnalysisSimulatedDelay)
	return analysis.NewSimulated(cfg.AnalysisSimulatedDelay)
}
