package notification

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// MessageSource is the read side of the alert topic
type MessageSource interface {
	Consume(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

// Sender delivers one notification
type Sender interface {
	SendAlertNotification(n *protocol.AlertNotification) error
}

// Worker consumes alert notifications and hands them to a Sender
type Worker struct {
	source   MessageSource
	sender   Sender
	attempts int
	backoff  time.Duration
	log      zerolog.Logger
}

// NewWorker creates a worker that retries each delivery a few times
// before giving up on it.
func NewWorker(source MessageSource, sender Sender) *Worker {
	return &Worker{
		source:   source,
		sender:   sender,
		attempts: 3,
		backoff:  time.Second,
		log:      logger.WithComponent("notification"),
	}
}

// Run consumes until ctx is cancelled
func (w *Worker) Run(ctx context.Context) {
	for {
		msg, err := w.source.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("failed to consume message")
			if !w.sleep(ctx, w.backoff) {
				return
			}
			continue
		}

		w.handle(ctx, msg)

		if err := w.source.Commit(ctx, msg); err != nil && ctx.Err() == nil {
			w.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to commit offset")
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg kafka.Message) {
	n, err := protocol.DecodeAlertNotification(msg.Value)
	if err != nil {
		w.log.Error().Err(err).Int64("offset", msg.Offset).Msg("failed to decode notification, dropping")
		return
	}

	for attempt := 1; attempt <= w.attempts; attempt++ {
		err = w.sender.SendAlertNotification(n)
		if err == nil {
			return
		}
		if errors.Is(err, protocol.ErrInvalidNotification) {
			w.log.Error().Err(err).Int64("offset", msg.Offset).Msg("undeliverable notification, dropping")
			return
		}
		w.log.Warn().Err(err).Int64("alert_id", n.AlertID).Int("attempt", attempt).Msg("failed to send notification")
		if attempt < w.attempts && !w.sleep(ctx, w.backoff*time.Duration(attempt)) {
			return
		}
	}
	w.log.Error().Err(err).Int64("alert_id", n.AlertID).Msg("giving up on notification")
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
