package alerting

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
	"github.com/smukkama/aqi-alerts/internal/protocol"
)

type mockStore struct {
	mu     sync.Mutex
	alerts []*database.AlertRecord
	err    error
}

func (m *mockStore) InsertAlert(ctx context.Context, alert *database.AlertRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	alert.ID = int64(len(m.alerts) + 1)
	m.alerts = append(m.alerts, alert)
	return nil
}

type mockPublisher struct {
	keys   []string
	values [][]byte
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.keys = append(m.keys, key)
	m.values = append(m.values, value)
	return nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testUser(threshold int, conditions ...string) *database.User {
	return &database.User{
		ID:    "u1",
		Email: "u1@example.com",
		Preferences: database.AlertPreferences{
			EnableAlerts:      true,
			AQIAlertThreshold: threshold,
			HealthConditions:  conditions,
		},
	}
}

func reading(index int) *aqi.Reading {
	return aqi.NewReading("Delhi", index, aqi.PM25, fixedNow.Add(-time.Minute))
}

func TestMaybeEmit_AboveThreshold(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, nil).WithClock(func() time.Time { return fixedNow })

	alert, err := e.MaybeEmit(context.Background(), testUser(150), "Delhi", reading(178))
	if err != nil {
		t.Fatalf("MaybeEmit failed: %v", err)
	}
	if alert == nil {
		t.Fatal("Expected an alert")
	}
	if len(store.alerts) != 1 {
		t.Fatalf("Expected 1 stored alert, got %d", len(store.alerts))
	}

	if alert.Severity != aqi.SeverityWarning {
		t.Errorf("Expected warning severity, got %s", alert.Severity)
	}
	if alert.IsRead {
		t.Error("New alert must be unread")
	}
	if alert.AQI != 178 || alert.UserID != "u1" || alert.Location != "Delhi" {
		t.Errorf("Unexpected alert %+v", alert)
	}
	if !alert.CreatedAt.Equal(fixedNow) {
		t.Errorf("Expected createdAt %v, got %v", fixedNow, alert.CreatedAt)
	}
	if !strings.Contains(alert.Message, "178") || !strings.Contains(alert.Message, "Unhealthy") {
		t.Errorf("Message should mention index and label: %q", alert.Message)
	}
}

func TestMaybeEmit_HealthConditions(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, nil)

	alert, err := e.MaybeEmit(context.Background(), testUser(150, "Asthma"), "Delhi", reading(160))
	if err != nil || alert == nil {
		t.Fatalf("Expected alert, got %v, %v", alert, err)
	}
	if !strings.Contains(alert.Message, "Asthma") {
		t.Errorf("Message should name the condition: %q", alert.Message)
	}

	alert, _ = e.MaybeEmit(context.Background(), testUser(150), "Delhi", reading(160))
	if strings.Contains(alert.Message, "precautions") {
		t.Errorf("No condition sentence expected without conditions: %q", alert.Message)
	}
}

func TestMaybeEmit_BelowThresholdNeverEmits(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, nil)

	for threshold := 50; threshold <= 300; threshold++ {
		for _, index := range []int{0, threshold / 2, threshold - 1} {
			alert, err := e.MaybeEmit(context.Background(), testUser(threshold), "Delhi", reading(index))
			if err != nil {
				t.Fatalf("threshold %d index %d: %v", threshold, index, err)
			}
			if alert != nil {
				t.Fatalf("threshold %d index %d: unexpected alert", threshold, index)
			}
		}
	}
	if len(store.alerts) != 0 {
		t.Errorf("Expected no stored alerts, got %d", len(store.alerts))
	}
}

func TestMaybeEmit_AtThresholdSeverityMatchesClassifier(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, nil)

	for threshold := 50; threshold <= 300; threshold += 10 {
		alert, err := e.MaybeEmit(context.Background(), testUser(threshold), "Delhi", reading(threshold))
		if err != nil || alert == nil {
			t.Fatalf("threshold %d: expected alert, got %v, %v", threshold, alert, err)
		}
		if want := aqi.Classify(threshold).Severity; alert.Severity != want {
			t.Errorf("threshold %d: severity %s, want %s", threshold, alert.Severity, want)
		}
	}
}

func TestMaybeEmit_DefaultThreshold(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, nil)

	if alert, _ := e.MaybeEmit(context.Background(), testUser(0), "Delhi", reading(149)); alert != nil {
		t.Error("149 is below the default threshold of 150")
	}
	if alert, _ := e.MaybeEmit(context.Background(), testUser(0), "Delhi", reading(150)); alert == nil {
		t.Error("150 should reach the default threshold")
	}

	e.WithDefaultThreshold(100)
	if alert, _ := e.MaybeEmit(context.Background(), testUser(0), "Delhi", reading(120)); alert == nil {
		t.Error("120 should reach a configured default of 100")
	}
}

func TestMaybeEmit_StoreError(t *testing.T) {
	boom := errors.New("connection refused")
	e := NewEmitter(&mockStore{err: boom}, nil)

	alert, err := e.MaybeEmit(context.Background(), testUser(100), "Delhi", reading(180))
	if !errors.Is(err, boom) {
		t.Errorf("Expected wrapped store error, got %v", err)
	}
	if alert != nil {
		t.Error("No alert should be returned when the write fails")
	}
}

func TestMaybeEmit_PublishesNotification(t *testing.T) {
	store := &mockStore{}
	pub := &mockPublisher{}
	e := NewEmitter(store, NewQueueNotifier(pub))

	alert, err := e.MaybeEmit(context.Background(), testUser(100), "Delhi", reading(320))
	if err != nil {
		t.Fatalf("MaybeEmit failed: %v", err)
	}
	if len(pub.values) != 1 {
		t.Fatalf("Expected 1 published message, got %d", len(pub.values))
	}
	if pub.keys[0] != "u1-Delhi" {
		t.Errorf("Unexpected key %q", pub.keys[0])
	}

	msg, err := protocol.DecodeAlertNotification(pub.values[0])
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.AlertID != alert.ID || msg.Email != "u1@example.com" || msg.Severity != "critical" {
		t.Errorf("Unexpected notification %+v", msg)
	}
	if msg.Category != "Hazardous" || msg.Dominant != "pm25" {
		t.Errorf("Unexpected category or pollutant: %+v", msg)
	}
	if msg.ID == "" {
		t.Error("Notification should carry an ID")
	}
}

func TestMaybeEmit_PublishFailureKeepsAlert(t *testing.T) {
	store := &mockStore{}
	e := NewEmitter(store, NewQueueNotifier(&mockPublisher{err: errors.New("broker down")}))

	alert, err := e.MaybeEmit(context.Background(), testUser(100), "Delhi", reading(220))
	if err != nil {
		t.Fatalf("Publish errors must not fail the emit: %v", err)
	}
	if alert == nil || len(store.alerts) != 1 {
		t.Error("Alert should still be stored")
	}
}

func TestBuildMessage(t *testing.T) {
	class := aqi.Classify(178)

	tests := []struct {
		name       string
		conditions []string
		want       string
	}{
		{"none", nil, ""},
		{"blank", []string{"  "}, ""},
		{"one", []string{"Asthma"}, "Because you have Asthma,"},
		{"two", []string{"Asthma", "COPD"}, "Because you have Asthma and COPD,"},
		{"three", []string{"Asthma", "COPD", "heart disease"}, "Because you have Asthma, COPD and heart disease,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := BuildMessage("Delhi", 178, class, tt.conditions)
			if !strings.HasPrefix(msg, "Air quality alert for Delhi: AQI is 178 (Unhealthy).") {
				t.Errorf("Unexpected prefix: %q", msg)
			}
			if !strings.Contains(msg, class.Message) {
				t.Errorf("Missing guidance: %q", msg)
			}
			if tt.want == "" && strings.Contains(msg, "Because you have") {
				t.Errorf("Unexpected condition sentence: %q", msg)
			}
			if tt.want != "" && !strings.Contains(msg, tt.want) {
				t.Errorf("Expected %q in %q", tt.want, msg)
			}
		})
	}
}
