package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidNotification marks a notification that can never be delivered
var ErrInvalidNotification = errors.New("invalid notification")

// AlertNotification is the message format published for every stored alert
type AlertNotification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // AQI_ALERT
	AlertID   int64     `json:"alert_id"`
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Location  string    `json:"location"`
	AQI       int       `json:"aqi"`
	Category  string    `json:"category"`
	Severity  string    `json:"severity"` // info, warning, critical
	Dominant  string    `json:"dominant_pollutant,omitempty"`
	Message   string    `json:"message"`
	ReadingAt time.Time `json:"reading_at"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	AlertTypeAQI = "AQI_ALERT"
)

// NotificationKey is the partition key for a (user, location) pair, so all
// alerts for one pair stay ordered on one partition.
func NotificationKey(userID, location string) string {
	return userID + "-" + location
}

// Validate checks the fields a consumer needs to deliver the notification
func (n *AlertNotification) Validate() error {
	if n.Type != AlertTypeAQI {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, n.Type)
	}
	if n.UserID == "" || n.Location == "" {
		return fmt.Errorf("%w: %s missing user or location", ErrInvalidNotification, n.ID)
	}
	return nil
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}
