package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	httpadapter "github.com/couchcryptid/crime-data-etl/internal/adapter/http"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/kafka"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/parquet"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/resource"
	"github.com/couchcryptid/crime-data-etl/internal/adapter/socrata"
	"github.com/couchcryptid/crime-data-etl/internal/config"
	"github.com/couchcryptid/crime-data-etl/internal/observability"
	"github.com/couchcryptid/crime-data-etl/internal/pipeline"
)

// app holds what every subcommand shares. It is populated in the root
// command's PersistentPreRunE.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	pipeline *pipeline.Pipeline
	writer   *kafka.Writer
	server   *httpadapter.Server
	job      string
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{v: config.New()}
	err := a.rootCommand().ExecuteContext(ctx)
	a.teardown()
	if err != nil {
		if a.logger != nil {
			a.logger.Error("command failed", "error", err)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "crimeetl",
		Short:         "Download, clean and refresh the city's crime and violence datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a.job = cmd.Name()
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.String("project-root", "", "project directory holding data_raw/, data_clean/ and output/ (default: nearest directory with .git)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, text)")
	flags.Int("page-size", 1000, "rows per API page")
	flags.Bool("publish", false, "publish new clean rows to Kafka")
	flags.String("metrics-addr", "", "serve /healthz, /readyz and /metrics on this address while running")
	for key, flag := range map[string]string{
		"project_root":    "project-root",
		"log_level":       "log-level",
		"log_format":      "log-format",
		"page_size":       "page-size",
		"publish_enabled": "publish",
		"metrics_addr":    "metrics-addr",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		a.setupCommand(),
		a.cleanCommand(),
		a.updateCommand(),
		a.summarizeCommand(),
		a.validateCommand(),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = observability.NewLogger(cfg)
	a.registry = prometheus.NewRegistry()
	metrics := observability.NewMetrics(a.registry)

	client := socrata.NewClient(cfg.HTTPTimeout, cfg.AppToken, cfg.PageSize, a.logger, metrics)
	fetcher := resource.NewFetcher(cfg.HTTPTimeout, a.logger, metrics)
	store := parquet.NewStore(a.logger)
	updater := pipeline.NewIncrementalUpdater(client, clockwork.NewRealClock(), a.logger, metrics)

	var publisher pipeline.Publisher
	if cfg.PublishEnabled {
		a.writer = kafka.NewWriter(cfg, a.logger, metrics)
		publisher = a.writer
		a.logger.Info("publishing enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	a.pipeline = pipeline.New(cfg.ProjectRoot, fetcher, store, updater, publisher, a.logger, metrics)

	if cfg.MetricsAddr != "" {
		a.server = httpadapter.NewServer(cfg.MetricsAddr, a.job, a.pipeline, a.registry, a.logger)
		go func() {
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("status server error", "error", err)
			}
		}()
	}
	a.logger.Debug("configuration loaded", "project_root", cfg.ProjectRoot, "page_size", cfg.PageSize)
	return nil
}

// teardown closes the publisher and pushes the run's metrics, including those
// of a failed or interrupted run.
func (a *app) teardown() {
	if a.cfg == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("status server shutdown error", "error", err)
		}
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
	if err := observability.Push(ctx, a.cfg.PushgatewayURL, "crimeetl_"+a.job, a.registry); err != nil {
		a.logger.Error("metrics push failed", "error", err)
	}
}
