package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/logger"
)

// ErrNotFound is returned when a user, location or alert does not exist
var ErrNotFound = errors.New("not found")

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// Ping reports whether the store is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	log := logger.WithComponent("migrations")

	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		log.Info().Str("file", filename).Msg("running migration")

		content, err := os.ReadFile(filepath.Join(migrationsDir, filename))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	log.Info().Int("count", len(sqlFiles)).Msg("migrations completed")
	return nil
}

// ListAlertingUsers returns every user with alerts enabled together with
// their alert-enabled locations. Users without such a location are omitted.
func (db *DB) ListAlertingUsers(ctx context.Context) ([]*User, error) {
	query := `
		SELECT u.id, u.email, u.enable_alerts, u.aqi_alert_threshold, u.health_conditions,
		       l.name, l.alert_enabled, l.added_at
		FROM users u
		JOIN monitored_locations l ON l.user_id = u.id
		WHERE u.enable_alerts = true AND l.alert_enabled = true
		ORDER BY u.id, l.added_at
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerting users: %w", err)
	}
	defer rows.Close()

	var users []*User
	var current *User
	for rows.Next() {
		var (
			u   User
			loc MonitoredLocation
		)
		if err := rows.Scan(
			&u.ID,
			&u.Email,
			&u.Preferences.EnableAlerts,
			&u.Preferences.AQIAlertThreshold,
			pq.Array(&u.Preferences.HealthConditions),
			&loc.Name,
			&loc.AlertEnabled,
			&loc.AddedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alerting user: %w", err)
		}

		if current == nil || current.ID != u.ID {
			current = &u
			users = append(users, current)
		}
		current.MonitoredLocations = append(current.MonitoredLocations, loc)
	}

	return users, rows.Err()
}

// GetUser loads a user with preferences and all monitored locations
func (db *DB) GetUser(ctx context.Context, userID string) (*User, error) {
	query := `
		SELECT id, email, enable_alerts, aqi_alert_threshold, health_conditions
		FROM users
		WHERE id = $1
	`

	var u User
	err := db.QueryRowContext(ctx, query, userID).Scan(
		&u.ID,
		&u.Email,
		&u.Preferences.EnableAlerts,
		&u.Preferences.AQIAlertThreshold,
		pq.Array(&u.Preferences.HealthConditions),
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT name, alert_enabled, added_at
		FROM monitored_locations
		WHERE user_id = $1
		ORDER BY added_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations for %s: %w", userID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var loc MonitoredLocation
		if err := rows.Scan(&loc.Name, &loc.AlertEnabled, &loc.AddedAt); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		u.MonitoredLocations = append(u.MonitoredLocations, loc)
	}

	return &u, rows.Err()
}

// UpdatePreferences replaces a user's alert preferences
func (db *DB) UpdatePreferences(ctx context.Context, userID string, prefs AlertPreferences) error {
	query := `
		UPDATE users
		SET enable_alerts = $1, aqi_alert_threshold = $2, health_conditions = $3,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`
	res, err := db.ExecContext(ctx, query,
		prefs.EnableAlerts, prefs.ThresholdOrDefault(), pq.Array(prefs.HealthConditions), userID)
	if err != nil {
		return fmt.Errorf("failed to update preferences: %w", err)
	}
	return expectOneRow(res)
}

// AddLocation inserts a monitored location; re-adding an existing name re-enables it
func (db *DB) AddLocation(ctx context.Context, userID string, loc MonitoredLocation) error {
	query := `
		INSERT INTO monitored_locations (user_id, name, alert_enabled, added_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, name) DO UPDATE
		SET alert_enabled = EXCLUDED.alert_enabled
	`
	if loc.AddedAt.IsZero() {
		loc.AddedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, query, userID, loc.Name, loc.AlertEnabled, loc.AddedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // foreign_key_violation
			return ErrNotFound
		}
		return fmt.Errorf("failed to add location: %w", err)
	}
	return nil
}

// SetLocationAlerts toggles alerting for one monitored location
func (db *DB) SetLocationAlerts(ctx context.Context, userID, name string, enabled bool) error {
	res, err := db.ExecContext(ctx, `
		UPDATE monitored_locations SET alert_enabled = $1
		WHERE user_id = $2 AND name = $3
	`, enabled, userID, name)
	if err != nil {
		return fmt.Errorf("failed to update location: %w", err)
	}
	return expectOneRow(res)
}

// RemoveLocation deletes a monitored location. Existing alerts are kept.
func (db *DB) RemoveLocation(ctx context.Context, userID, name string) error {
	res, err := db.ExecContext(ctx, `
		DELETE FROM monitored_locations WHERE user_id = $1 AND name = $2
	`, userID, name)
	if err != nil {
		return fmt.Errorf("failed to remove location: %w", err)
	}
	return expectOneRow(res)
}

// InsertAlert inserts a new alert record and fills in its ID
func (db *DB) InsertAlert(ctx context.Context, alert *AlertRecord) error {
	query := `
		INSERT INTO alerts (user_id, location, aqi, severity, message, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`

	return db.QueryRowContext(
		ctx,
		query,
		alert.UserID,
		alert.Location,
		alert.AQI,
		string(alert.Severity),
		alert.Message,
		alert.IsRead,
		alert.CreatedAt,
	).Scan(&alert.ID)
}

// LatestAlertAt returns the creation time of the newest alert for a
// (user, location) pair. Served by the alerts_user_location_created index.
func (db *DB) LatestAlertAt(ctx context.Context, userID, location string) (time.Time, bool, error) {
	var ts time.Time
	err := db.QueryRowContext(ctx, `
		SELECT created_at FROM alerts
		WHERE user_id = $1 AND location = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, location).Scan(&ts)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read latest alert: %w", err)
	}
	return ts, true, nil
}

// ListAlerts returns a user's alerts, newest first
func (db *DB) ListAlerts(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*AlertRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT id, user_id, location, aqi, severity, message, is_read, created_at
		FROM alerts
		WHERE user_id = $1 AND ($2 = false OR is_read = false)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*AlertRecord
	for rows.Next() {
		var (
			a        AlertRecord
			severity string
		)
		if err := rows.Scan(
			&a.ID,
			&a.UserID,
			&a.Location,
			&a.AQI,
			&severity,
			&a.Message,
			&a.IsRead,
			&a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.Severity = aqi.Severity(severity)
		alerts = append(alerts, &a)
	}

	return alerts, rows.Err()
}

// UnreadCount returns the number of unread alerts for a user
func (db *DB) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alerts WHERE user_id = $1 AND is_read = false
	`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread alerts: %w", err)
	}
	return n, nil
}

// MarkAlertRead flags one of a user's alerts as read
func (db *DB) MarkAlertRead(ctx context.Context, userID string, alertID int64) error {
	res, err := db.ExecContext(ctx, `
		UPDATE alerts SET is_read = true WHERE id = $1 AND user_id = $2
	`, alertID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark alert read: %w", err)
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
