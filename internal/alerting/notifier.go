package alerting

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

// Publisher is the write side of a message queue
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// QueueNotifier publishes alert notifications to a queue topic
type QueueNotifier struct {
	publisher Publisher
}

// NewQueueNotifier creates a notifier backed by publisher
func NewQueueNotifier(publisher Publisher) *QueueNotifier {
	return &QueueNotifier{publisher: publisher}
}

// NotifyAlert encodes the alert and publishes it keyed by (user, location)
func (n *QueueNotifier) NotifyAlert(ctx context.Context, user *database.User, alert *database.AlertRecord, reading *aqi.Reading) error {
	msg := NewNotification(user, alert, reading)

	data, err := protocol.EncodeAlertNotification(msg)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if err := n.publisher.Publish(ctx, protocol.NotificationKey(alert.UserID, alert.Location), data); err != nil {
		return fmt.Errorf("failed to publish notification for alert %d: %w", alert.ID, err)
	}
	return nil
}

// NewNotification builds the wire envelope for a stored alert
func NewNotification(user *database.User, alert *database.AlertRecord, reading *aqi.Reading) *protocol.AlertNotification {
	msg := &protocol.AlertNotification{
		ID:        uuid.New().String(),
		Type:      protocol.AlertTypeAQI,
		AlertID:   alert.ID,
		UserID:    alert.UserID,
		Location:  alert.Location,
		AQI:       alert.AQI,
		Category:  aqi.Classify(alert.AQI).Label,
		Severity:  string(alert.Severity),
		Message:   alert.Message,
		CreatedAt: alert.CreatedAt,
	}
	if user != nil {
		msg.Email = user.Email
	}
	if reading != nil {
		msg.Dominant = string(reading.Dominant)
		msg.ReadingAt = reading.Timestamp
	}
	return msg
}
