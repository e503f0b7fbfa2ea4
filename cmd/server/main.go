// Command game-alerts runs the game notification pipeline
//
// Usage:
//
//	game-alerts serve --config config.yaml
//	game-alerts process
//	game-alerts migrate
//	game-alerts prune --older-than 720h
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/game-alerts/internal/config"
	"github.com/game-alerts/internal/espn"
	"github.com/game-alerts/internal/handler"
	"github.com/game-alerts/internal/kafka"
	"github.com/game-alerts/internal/metrics"
	"github.com/game-alerts/internal/postgres"
	"github.com/game-alerts/internal/push"
	"github.com/game-alerts/internal/redis"
	"github.com/game-alerts/internal/scheduler"
	"github.com/game-alerts/internal/service"
	"github.com/game-alerts/internal/websocket"
	"github.com/game-alerts/internal/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	_ = godotenv.Load(".env")

	var configPath string
	root := &cobra.Command{
		Use:           "game-alerts",
		Short:         "Live game push notification pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to configuration file")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(processCmd(&configPath))
	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(pruneCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the JSON logger
func setup(configPath string) (*config.Config, *slog.Logger) {
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load(configPath)
	if err != nil {
		bootstrap.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)
	return cfg, logger
}

// pipeline holds the components shared by serve and process
type pipeline struct {
	store         *redis.Store
	audit         *postgres.Repository
	producer      *kafka.Producer
	recorder      *metrics.Recorder
	subscriptions *service.SubscriptionService
	notifications *service.NotificationService
}

func (p *pipeline) Close() {
	if p.producer != nil {
		p.producer.Close()
	}
	if p.audit != nil {
		p.audit.Close()
	}
	p.store.Close()
}

// buildPipeline connects the stores and wires the notification services
// Extra sinks receive every detected event
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, extraSinks ...service.EventSink) (*pipeline, error) {
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	store, err := redis.NewStore(&cfg.Redis, &cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}
	p := &pipeline{store: store, recorder: metrics.NewRecorder()}

	var audit service.DeliveryLog
	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("connecting to PostgreSQL: %w", err)
		}
		if err := repo.RunMigrations(ctx); err != nil {
			repo.Close()
			p.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
		p.audit = repo
		audit = repo
	}

	sinks := append([]service.EventSink{}, extraSinks...)
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without event topic", "error", err)
		} else {
			p.producer = producer
			sinks = append(sinks, producer)
		}
	}

	client := espn.NewClient(espn.Config{
		BaseURL:           cfg.Provider.BaseURL,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
	}, logger)
	provider := espn.NewRetryingProvider(client, logger, cfg.Provider.RetryAttempts, cfg.Provider.RetryBackoff)

	transport := push.NewTransport(cfg.Push, &http.Client{Timeout: cfg.Push.Timeout}, logger)

	dispatcher := service.NewDispatcher(
		store,
		transport,
		audit,
		p.recorder,
		service.DispatcherConfig{ClickURLBase: cfg.Push.ClickURLBase, Concurrency: cfg.Push.Concurrency},
		logger,
		sinks...,
	)
	sched := scheduler.New(store, cfg.Scheduler, logger)

	p.subscriptions = service.NewSubscriptionService(store, p.recorder, logger)
	p.notifications = service.NewNotificationService(store, sched, provider, dispatcher, p.recorder, cfg, logger)
	return p, nil
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, poll worker and command consumer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*configPath)
			return serve(cfg, logger)
		},
	}
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("websocket hub initialized")

	p, err := buildPipeline(ctx, cfg, logger, wsHub)
	if err != nil {
		return err
	}
	defer p.Close()

	pollWorker := worker.NewPollWorker(p.notifications, cfg.Scheduler.Interval, logger)
	if cfg.Scheduler.Enabled {
		if err := pollWorker.Start(ctx); err != nil {
			return fmt.Errorf("starting poll worker: %w", err)
		}
	}

	// Subscription commands can also arrive on Kafka
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.CommandTopic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, p.subscriptions, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	httpHandler := handler.NewHandler(
		p.subscriptions,
		p.notifications,
		wsHub,
		p.recorder,
		p.store,
		cfg.Server.CORSOrigins,
		logger,
	)
	if p.audit != nil {
		httpHandler.WithAudit(p.audit)
	}
	httpHandler.WithWorker(pollWorker)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		logger.Error("HTTP server error", "error", err)
	}

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	if err := pollWorker.Stop(); err != nil {
		logger.Error("failed to stop poll worker", "error", err)
	}

	wsHub.Stop()

	logger.Info("server stopped")
	return nil
}

func processCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run a single notification cycle and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*configPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			p, err := buildPipeline(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			summary, err := p.notifications.ProcessNotifications(ctx)
			if err != nil {
				return fmt.Errorf("processing notifications: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the audit log tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*configPath)
			ctx := cmd.Context()

			repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connecting to PostgreSQL: %w", err)
			}
			defer repo.Close()

			return repo.RunMigrations(ctx)
		},
	}
}

func pruneCmd(configPath *string) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete audit log rows older than a cutoff",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := setup(*configPath)
			ctx := cmd.Context()

			repo, err := postgres.NewRepository(ctx, &cfg.Postgres, logger)
			if err != nil {
				return fmt.Errorf("connecting to PostgreSQL: %w", err)
			}
			defer repo.Close()

			cutoff := time.Now().Add(-olderThan)
			removed, err := repo.PruneBefore(ctx, cutoff)
			if err != nil {
				return err
			}
			logger.Info("audit log pruned", "cutoff", cutoff, "rows_removed", removed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of rows to delete")
	return cmd
}
