package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/notification"
	"github.com/smukkama/aqi-alerts/internal/queue"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger.Init(cfg.LogLevel)
	log := logger.WithComponent("main")

	log.Info().Msg("starting notification service")

	notifier := notification.NewEmailNotifier(&cfg.SMTP)

	// Optional; without SMTP the e-mails are logged instead
	if err := notifier.TestConnection(); err != nil {
		log.Warn().Err(err).Msg("notifications will be logged only")
	}

	consumer := queue.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts, "aqi-notification-group")
	defer consumer.Close()
	log.Info().Str("topic", cfg.Kafka.TopicAlerts).Msg("kafka consumer initialized")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notification.NewWorker(consumer, notifier).Run(ctx)

	stats := consumer.Stats()
	log.Info().Int64("messages", stats.Messages).Int64("errors", stats.Errors).Msg("shutting down gracefully")
}
