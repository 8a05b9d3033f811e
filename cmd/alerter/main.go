// Command alerter runs the AQI alert engine.
//
// Usage:
//
//	aqialert serve
//	aqialert sweep
//	aqialert sweep --user 42
//	aqialert migrate --dir migrations --create-topic
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/smukkama/aqi-alerts/internal/alerting"
	"github.com/smukkama/aqi-alerts/internal/api"
	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/cooldown"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/poller"
	"github.com/smukkama/aqi-alerts/internal/provider"
	"github.com/smukkama/aqi-alerts/internal/queue"
	"github.com/smukkama/aqi-alerts/internal/sweep"
	"github.com/smukkama/aqi-alerts/internal/timer"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

func main() {
	root := &cobra.Command{
		Use:           "aqialert",
		Short:         "AQI alert and threshold monitoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(migrateCmd())

	if err := root.Execute(); err != nil {
		logger.Logger.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// engine bundles everything a sweep needs
type engine struct {
	cfg      *config.Config
	db       *database.DB
	redis    *redis.Client
	producer *queue.Producer
	orch     *sweep.Orchestrator
}

func (e *engine) Close() {
	if e.producer != nil {
		e.producer.Close()
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.LogLevel)
	return cfg, nil
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	log := logger.WithComponent("main")
	e := &engine{cfg: cfg}

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	e.db = db
	log.Info().Str("host", cfg.Database.Host).Msg("connected to database")

	var store cooldown.Store
	switch cfg.Alerting.CooldownBackend {
	case "redis":
		e.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := e.redis.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = cooldown.NewRedisStore(e.redis, db, cfg.Alerting.Cooldown)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("cooldown state in redis")
	default:
		store = cooldown.NewMemoryStore(db)
	}
	gate := cooldown.NewGate(store, cfg.Alerting.Cooldown)

	policy, err := aqi.ParsePolicy(cfg.Alerting.CompositePolicy)
	if err != nil {
		e.Close()
		return nil, err
	}
	client := provider.NewClient(cfg.Provider, policy)

	var notifier alerting.Notifier
	if cfg.Kafka.Enabled {
		e.producer = queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
		notifier = alerting.NewQueueNotifier(e.producer)
		log.Info().Str("topic", cfg.Kafka.TopicAlerts).Msg("alert notifications enabled")
	}
	emitter := alerting.NewEmitter(db, notifier).WithDefaultThreshold(cfg.Alerting.DefaultThreshold)

	e.orch = sweep.New(sweep.Config{
		Users: db,
		Poller: poller.New(poller.Config{
			Fetcher:  client,
			Cooldown: gate,
			Interval: cfg.Poller.Interval,
			Workers:  cfg.Poller.Workers,
		}),
		Emitter:  emitter,
		Cooldown: gate,
		Provider: client,
	})

	return e, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and run timed sweeps",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logger.WithComponent("main")

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			if err := cfg.Validate(); err != nil {
				// Triggers will report this too; the API still serves alerts.
				log.Warn().Err(err).Msg("sweeps are disabled until configuration is fixed")
			}

			scheduler := timer.NewScheduler()
			scheduler.Start()
			defer scheduler.Stop()

			if cfg.Sweep.Schedule > 0 {
				err := scheduler.Every("sweep", cfg.Sweep.Schedule, func() {
					_, err := eng.orch.Run(ctx)
					if errors.Is(err, sweep.ErrSweepInProgress) {
						log.Info().Msg("scheduled sweep skipped, previous sweep still running")
					}
				})
				if err != nil {
					return err
				}
				log.Info().Dur("every", cfg.Sweep.Schedule).Msg("timed sweeps scheduled")
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
				Handler:           api.NewRouter(ctx, eng.db, eng.orch),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutting down gracefully")
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}

			eng.orch.Cancel()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func sweepCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweep now and print its summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			var summary *sweep.Summary
			if userID != "" {
				summary, err = eng.orch.RunForUser(ctx, userID)
			} else {
				summary, err = eng.orch.Run(ctx)
			}
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "sweep %s %s: users=%d alerts=%d polled=%d skipped=%d failed=%d in %s\n",
					summary.SweepID, summary.State, summary.UsersChecked, summary.AlertsCreated,
					summary.PairsPolled, summary.PairsSkipped, summary.PairsFailed, summary.Duration.Round(time.Millisecond))
			}
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "Only check this user's locations")
	return cmd
}

func migrateCmd() *cobra.Command {
	var (
		dir         string
		createTopic bool
		partitions  int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply SQL migrations and optionally create the alert topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.ConnectionString())
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			if err := db.RunMigrations(dir); err != nil {
				return err
			}

			if createTopic {
				return queue.CreateTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, partitions, 1)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "Directory holding *.sql migrations")
	cmd.Flags().BoolVar(&createTopic, "create-topic", false, "Create the Kafka alert topic")
	cmd.Flags().IntVar(&partitions, "partitions", 6, "Partitions for the alert topic")
	return cmd
}
