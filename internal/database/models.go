package database

import (
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
)

// User is the slice of a user profile the alert engine reads
type User struct {
	ID                 string
	Email              string
	Preferences        AlertPreferences
	MonitoredLocations []MonitoredLocation
}

// MonitoredLocation is a place a user asked to watch. Name is the
// provider lookup key.
type MonitoredLocation struct {
	Name         string
	AlertEnabled bool
	AddedAt      time.Time
}

// AlertPreferences holds a user's alerting settings
type AlertPreferences struct {
	EnableAlerts      bool
	AQIAlertThreshold int
	HealthConditions  []string
}

// DefaultPreferences returns the preferences a new user starts with
func DefaultPreferences() AlertPreferences {
	return AlertPreferences{
		EnableAlerts:      true,
		AQIAlertThreshold: DefaultAQIThreshold,
	}
}

// DefaultAQIThreshold applies when a stored threshold is missing
const DefaultAQIThreshold = 150

// ThresholdOrDefault returns the configured threshold, falling back to the default
func (p AlertPreferences) ThresholdOrDefault() int {
	if p.AQIAlertThreshold <= 0 {
		return DefaultAQIThreshold
	}
	return p.AQIAlertThreshold
}

// AlertRecord is a persisted alert
type AlertRecord struct {
	ID        int64
	UserID    string
	Location  string
	AQI       int
	Severity  aqi.Severity
	Message   string
	IsRead    bool
	CreatedAt time.Time
}
