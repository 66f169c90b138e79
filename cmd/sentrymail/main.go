package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/sentrymail/internal/aggregate"
	"github.com/good-yellow-bee/sentrymail/internal/api"
	"github.com/good-yellow-bee/sentrymail/internal/ingest"
	"github.com/good-yellow-bee/sentrymail/internal/mailer"
	"github.com/good-yellow-bee/sentrymail/internal/queue"
	"github.com/good-yellow-bee/sentrymail/internal/storage"
	"github.com/good-yellow-bee/sentrymail/pkg/config"
)

var (
	configFile string
	httpAddr   string
	verbose    bool
	seedCount  int
)

var rootCmd = &cobra.Command{
	Use:   "sentrymail",
	Short: "SentryMail - sensor alert notification pipeline",
	Long: `SentryMail ingests security sensor alerts, aggregates them into
per-threat customer notifications, and delivers notification emails
with bounded retries.`,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sentrymail %s\n", config.Version)
		fmt.Printf("  commit: %s\n", config.Commit)
		fmt.Printf("  built:  %s\n", config.BuildTime)
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo customers into the database",
	RunE:  runSeed,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.Flags().StringVarP(&httpAddr, "address", "a", "", "HTTP listen address")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	seedCmd.Flags().IntVarP(&seedCount, "count", "n", 3, "number of demo customers")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*Config, error) {
	if configFile != "" {
		return LoadConfig(configFile)
	}
	return DefaultConfig(), nil
}

func newLogger(cfg *Config) *slog.Logger {
	level := charmlog.InfoLevel
	if verbose {
		level = charmlog.DebugLevel
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = charmlog.DebugLevel
		case "warn":
			level = charmlog.WarnLevel
		case "error":
			level = charmlog.ErrorLevel
		}
	}

	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		Level:           level,
	})
	return slog.New(handler)
}

func openStorage(cfg *Config) (*storage.SQLiteStorage, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0750); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if httpAddr != "" {
		cfg.Server.Address = httpAddr
	}

	logger := newLogger(cfg)

	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("database initialized", "path", cfg.Database.Path)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var q queue.Queue
	if cfg.Redis.Enabled {
		q, err = queue.NewRedisQueue(ctx, queue.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis queue connected", "addr", cfg.Redis.Addr)
	} else {
		q = queue.NewMemoryQueue()
		logger.Warn("redis disabled, using in-memory queue (single instance only)")
	}
	defer q.Close()

	templates, err := mailer.LoadTemplates()
	if err != nil {
		return fmt.Errorf("load email templates: %w", err)
	}

	var transport mailer.Transport
	if cfg.Email.MockMode {
		transport = mailer.NewMockTransport(logger)
		logger.Info("email mock mode enabled, messages will be logged only")
	} else {
		transport, err = mailer.NewSMTPTransport(mailer.SMTPConfig{
			Host:     cfg.Email.SMTP.Host,
			Port:     cfg.Email.SMTP.Port,
			Username: cfg.Email.SMTP.Username,
			Password: cfg.Email.SMTP.Password,
			From:     cfg.Email.SMTP.From,
			FromName: cfg.Email.SMTP.FromName,
		})
		if err != nil {
			return fmt.Errorf("smtp transport: %w", err)
		}
	}

	ingestor := ingest.NewIngestor(q, ingest.NewRoundRobinAssigner(store.Customers()), logger)
	aggregator := aggregate.NewAggregator(store, logger)
	consumer := aggregate.NewConsumer(store, q, aggregator, logger)

	builder := mailer.NewBuilder(store, q, templates, mailer.BuilderConfig{
		MinAlerts:         cfg.Builder.MinAlerts,
		BatchSize:         cfg.Builder.BatchSize,
		MaxAlertsPerEmail: cfg.Builder.MaxAlertsPerEmail,
		MaxAttempts:       cfg.Email.MaxAttempts,
		LockTTL:           time.Duration(cfg.Builder.LockTTLMinutes) * time.Minute,
	}, logger)

	worker := mailer.NewWorker(store, q, transport, mailer.WorkerConfig{
		RetryDelay:     time.Duration(cfg.Email.RetryDelaySeconds) * time.Second,
		SendsPerSecond: cfg.Email.SendsPerSecond,
		SendBurst:      cfg.Email.SendBurst,
	}, logger)

	apiServer := api.New(
		&api.Config{Address: cfg.Server.Address},
		store, q, ingestor, aggregator, builder, worker, logger,
	)

	// Scheduled passes. Errors are logged inside the passes; a failing
	// schedule tick must not crash the process.
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Builder.Schedule, func() {
		if _, err := builder.Run(ctx); err != nil {
			logger.Error("scheduled builder pass failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("builder schedule %q: %w", cfg.Builder.Schedule, err)
	}
	if _, err := scheduler.AddFunc(cfg.Aggregator.Schedule, func() {
		if _, err := aggregator.Reconcile(ctx); err != nil {
			logger.Error("scheduled reconciliation failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("aggregator schedule %q: %w", cfg.Aggregator.Schedule, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error { return apiServer.Start(gctx) })
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		stopCtx := scheduler.Stop()
		<-stopCtx.Done()
		return nil
	})

	logger.Info("sentrymail started",
		"version", config.Version,
		"address", cfg.Server.Address,
		"transport", transport.Name(),
	)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger.Info("sentrymail stopped")
	return nil
}
