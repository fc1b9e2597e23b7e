// Command tdjanitor runs the periodic retention sweep over completed
// run artifacts as a long-lived daemon.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabsdata/tdworker/internal/config"
	"github.com/tabsdata/tdworker/internal/janitor"
	"github.com/tabsdata/tdworker/internal/logging"
	"github.com/tabsdata/tdworker/internal/metrics"
	"github.com/tabsdata/tdworker/internal/observability"
	"github.com/tabsdata/tdworker/internal/store"
)

var (
	pgDSN      string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tdjanitor",
		Short: "Sweep aged run artifacts under an instance root",
		Long:  "Run tdjanitor as a daemon that periodically deletes completed messages and their cast directories past retention",
	}

	rootCmd.PersistentFlags().StringVar(&pgDSN, "pg-dsn", "", "Postgres DSN for sweep audit rows")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func daemonCmd() *cobra.Command {
	var (
		instanceRoot string
		frequency    string
		retention    string
		perRunLimit  int
		logLevel     string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the janitor sweep loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultConfig()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("pg-dsn") {
				cfg.Postgres.DSN = pgDSN
			}
			if cmd.Flags().Changed("instance-root") {
				cfg.Janitor.InstanceRoot = instanceRoot
			}
			if cmd.Flags().Changed("frequency") {
				d, err := time.ParseDuration(frequency)
				if err != nil {
					return fmt.Errorf("parse frequency: %w", err)
				}
				cfg.Janitor.Frequency = d
			}
			if cmd.Flags().Changed("retention") {
				d, err := time.ParseDuration(retention)
				if err != nil {
					return fmt.Errorf("parse retention: %w", err)
				}
				cfg.Janitor.Retention = d
			}
			if cmd.Flags().Changed("per-run-limit") {
				cfg.Janitor.PerRunLimit = perRunLimit
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.Logging.Level = logLevel
			}

			logging.SetLevelFromString(cfg.Observability.Logging.Level)
			logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

			if cfg.Observability.Tracing.ServiceName == "" || cfg.Observability.Tracing.ServiceName == "tdworker" {
				cfg.Observability.Tracing.ServiceName = "tdjanitor"
			}
			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.Tracing.Enabled,
				Exporter:    cfg.Observability.Tracing.Exporter,
				Endpoint:    cfg.Observability.Tracing.Endpoint,
				ServiceName: cfg.Observability.Tracing.ServiceName,
				SampleRate:  cfg.Observability.Tracing.SampleRate,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			if cfg.Observability.Metrics.Enabled {
				metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
			}

			var st *store.Store
			if cfg.Postgres.DSN != "" {
				var err error
				st, err = store.Open(context.Background(), cfg.Postgres.DSN)
				if err != nil {
					logging.Op().Warn("janitor: sweep audit store unavailable, continuing without it", "error", err)
					st = nil
				} else {
					defer st.Close()
				}
			}

			runner := janitor.New(janitor.Config{
				InstanceRoot: cfg.Janitor.InstanceRoot,
				Frequency:    cfg.Janitor.Frequency,
				Retention:    cfg.Janitor.Retention,
				PerRunLimit:  cfg.Janitor.PerRunLimit,
			}, st)
			runner.Start()
			defer runner.Stop()

			logging.Op().Info("tdjanitor started",
				"instance_root", cfg.Janitor.InstanceRoot,
				"frequency", cfg.Janitor.Frequency,
				"retention", cfg.Janitor.Retention)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")
			return nil
		},
	}

	cmd.Flags().StringVar(&instanceRoot, "instance-root", "/var/lib/tdworker/instances", "root directory holding per-run message artifacts")
	cmd.Flags().StringVar(&frequency, "frequency", "1m", "sweep tick interval")
	cmd.Flags().StringVar(&retention, "retention", "24h", "minimum age before a completed message is deleted")
	cmd.Flags().IntVar(&perRunLimit, "per-run-limit", 500, "maximum deletions per sweep tick")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}
