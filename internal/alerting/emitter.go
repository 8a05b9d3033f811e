// Package alerting decides whether a reading crosses a user's threshold and
// turns crossings into persisted alert records. It knows nothing about
// pacing or cooldown; the poller and sweep handle those.
package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/metrics"
)

// AlertWriter persists alert records
type AlertWriter interface {
	InsertAlert(ctx context.Context, alert *database.AlertRecord) error
}

// Notifier fans a persisted alert out to downstream delivery
type Notifier interface {
	NotifyAlert(ctx context.Context, user *database.User, alert *database.AlertRecord, reading *aqi.Reading) error
}

// Emitter builds and stores alerts
type Emitter struct {
	store    AlertWriter
	notifier Notifier
	// fallback for users without a stored threshold
	defaultThreshold int
	now              func() time.Time
	log              zerolog.Logger
}

// NewEmitter creates an emitter. notifier may be nil.
func NewEmitter(store AlertWriter, notifier Notifier) *Emitter {
	return &Emitter{
		store:            store,
		notifier:         notifier,
		defaultThreshold: database.DefaultAQIThreshold,
		now:              time.Now,
		log:              logger.WithComponent("emitter"),
	}
}

// WithDefaultThreshold sets the threshold used when a user has none stored
func (e *Emitter) WithDefaultThreshold(threshold int) *Emitter {
	if threshold > 0 {
		e.defaultThreshold = threshold
	}
	return e
}

// WithClock replaces the emitter's time source
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// MaybeEmit stores an alert when the reading is at or above the user's
// threshold and returns it. Below the threshold it returns nil, nil.
func (e *Emitter) MaybeEmit(ctx context.Context, user *database.User, location string, reading *aqi.Reading) (*database.AlertRecord, error) {
	if user == nil || reading == nil {
		return nil, fmt.Errorf("maybe emit: user and reading are required")
	}

	if reading.Index < e.threshold(user.Preferences) {
		return nil, nil
	}

	class := aqi.Classify(reading.Index)

	alert := &database.AlertRecord{
		UserID:    user.ID,
		Location:  location,
		AQI:       reading.Index,
		Severity:  class.Severity,
		Message:   BuildMessage(location, reading.Index, class, user.Preferences.HealthConditions),
		IsRead:    false,
		CreatedAt: e.now().UTC(),
	}

	if err := e.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert for %s/%s: %w", user.ID, location, err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	e.log.Info().
		Str("user_id", user.ID).
		Str("location", location).
		Int("aqi", alert.AQI).
		Str("severity", string(alert.Severity)).
		Int64("alert_id", alert.ID).
		Msg("alert created")

	if e.notifier != nil {
		// The record is already stored; delivery problems are only logged.
		if err := e.notifier.NotifyAlert(ctx, user, alert, reading); err != nil {
			e.log.Warn().Err(err).Int64("alert_id", alert.ID).Msg("failed to publish alert notification")
		}
	}

	return alert, nil
}

func (e *Emitter) threshold(p database.AlertPreferences) int {
	if p.AQIAlertThreshold > 0 {
		return p.AQIAlertThreshold
	}
	return e.defaultThreshold
}

// BuildMessage renders the text shown to the user for an alert
func BuildMessage(location string, index int, class aqi.Classification, conditions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Air quality alert for %s: AQI is %d (%s). %s", location, index, class.Label, class.Message)

	if named := cleanConditions(conditions); len(named) > 0 {
		fmt.Fprintf(&b, " Because you have %s, take extra precautions: limit time outdoors and keep any prescribed medication at hand.",
			joinList(named))
	}
	return b.String()
}

func cleanConditions(conditions []string) []string {
	out := make([]string, 0, len(conditions))
	for _, c := range conditions {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
