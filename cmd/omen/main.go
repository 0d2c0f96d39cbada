package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/riskcast/omen/internal/clock"
	"github.com/riskcast/omen/internal/config"
	"github.com/riskcast/omen/internal/consumer"
	"github.com/riskcast/omen/internal/engine"
	"github.com/riskcast/omen/internal/ledger"
	"github.com/riskcast/omen/internal/reconcile"
)

const (
	appName = "omen"
	version = "v1.0.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Omen converts prediction-market events into validated, ledgered signals",
		Version: version,
		Long: `Omen ingests raw prediction-market events, validates and enriches
them, and emits content-addressed signals on two paths: an append-only
WAL ledger (the system of record) and a best-effort hot path to the
downstream consumer. Reconciliation replays whatever the hot path
dropped.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full engine",
		Long:  "Start the source feed, pipeline, emitter, reconciliation, lifecycle, and the operational HTTP server.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			eng, err := engine.New(cfg, clock.NewSystem(), log)
			if err != nil {
				return err
			}
			return eng.Run(signalContext())
		},
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			job := reconcile.New(cfg.Reconcile.Job,
				ledger.NewReader(cfg.Ledger.BasePath),
				reconcile.NewOffsetStore(cfg.Reconcile.OffsetPath),
				consumer.New(cfg.Consumer), nil, log)
			stats, err := job.RunOnce(signalContext())
			if err != nil {
				return err
			}
			fmt.Printf("replayed=%d duplicates=%d skipped=%d partitions=%d\n",
				stats.Replayed, stats.Duplicates, stats.Skipped, stats.Partitions)
			return nil
		},
	}

	lifecycleCmd := &cobra.Command{
		Use:   "lifecycle",
		Short: "Run one ledger maintenance pass and exit",
		Long:  "Compress warm partitions past retention, archive cold ones, and purge expired archive entries.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(configPath)
			if err != nil {
				return err
			}
			lc := ledger.NewLifecycle(cfg.Lifecycle, cfg.Ledger.BasePath, nil, clock.NewSystem(), log)
			return lc.RunOnce(signalContext())
		},
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify sealed ledger partitions against their trailers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(configPath)
			if err != nil {
				return err
			}
			reader := ledger.NewReader(cfg.Ledger.BasePath)
			parts, err := reader.SealedPartitions()
			if err != nil {
				return err
			}
			bad := 0
			for _, p := range parts {
				if err := reader.VerifySealed(p); err != nil {
					fmt.Printf("FAIL %s: %v\n", p.ID(), err)
					bad++
					continue
				}
				fmt.Printf("OK   %s\n", p.ID())
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d sealed partitions failed verification", bad, len(parts))
			}
			return nil
		},
	}

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check the downstream consumer's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := setup(configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := consumer.New(cfg.Consumer).Health(ctx); err != nil {
				return fmt.Errorf("consumer unhealthy: %w", err)
			}
			fmt.Println("consumer healthy")
			return nil
		},
	}

	rootCmd.AddCommand(runCmd, reconcileCmd, lifecycleCmd, verifyCmd, healthCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the root logger.
func setup(configPath string) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, zerolog.Logger{}, err
	}

	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	var log zerolog.Logger
	if cfg.Logging.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		log = zerolog.New(os.Stderr)
	}
	log = log.Level(level).With().Timestamp().Str("app", appName).Logger()
	return cfg, log, nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx
}
