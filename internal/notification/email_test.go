package notification

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/smukkama/aqi-alerts/internal/protocol"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

func testNotification() *protocol.AlertNotification {
	return &protocol.AlertNotification{
		ID:        "n-1",
		Type:      protocol.AlertTypeAQI,
		AlertID:   7,
		UserID:    "u1",
		Email:     "u1@example.com",
		Location:  "Delhi",
		AQI:       178,
		Category:  "Unhealthy",
		Severity:  "warning",
		Dominant:  "pm25",
		Message:   "Air quality alert for Delhi: AQI is 178 (Unhealthy).",
		ReadingAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestSubject(t *testing.T) {
	n := testNotification()
	if got := Subject(n); got != "Air quality alert - Delhi: AQI 178 (Unhealthy)" {
		t.Errorf("Unexpected subject %q", got)
	}
	n.Severity = "critical"
	if got := Subject(n); !strings.HasPrefix(got, "URGENT") {
		t.Errorf("Critical alerts should be marked urgent: %q", got)
	}
}

func TestRenderBody(t *testing.T) {
	body, err := RenderBody(testNotification())
	if err != nil {
		t.Fatalf("RenderBody failed: %v", err)
	}
	for _, want := range []string{"Location: Delhi", "AQI: 178 (Unhealthy)", "Dominant pollutant: pm25", "2026-03-01 10:00 UTC", "AQI is 178"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected %q in body:\n%s", want, body)
		}
	}

	n := testNotification()
	n.Dominant = ""
	n.ReadingAt = time.Time{}
	body, _ = RenderBody(n)
	if strings.Contains(body, "Dominant pollutant") || strings.Contains(body, "Measured at") {
		t.Errorf("Optional lines should be omitted:\n%s", body)
	}
}

func TestSendAlertNotification(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "user", Password: "pass", From: "alerts@example.com"}
	e := NewEmailNotifier(cfg)

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	e.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := e.SendAlertNotification(testNotification()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "smtp.example.com:587" || gotFrom != "alerts@example.com" {
		t.Errorf("Unexpected envelope %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "u1@example.com" {
		t.Errorf("Expected mail to the user, got %v", gotTo)
	}
	if !strings.Contains(string(gotMsg), "To: u1@example.com\r\n") {
		t.Errorf("Missing To header:\n%s", gotMsg)
	}

	e.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("550 rejected") }
	if err := e.SendAlertNotification(testNotification()); err == nil {
		t.Error("Expected send error to propagate")
	}
}

func TestSendAlertNotification_SkipsWithoutSMTPOrAddress(t *testing.T) {
	called := false
	send := func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}

	e := NewEmailNotifier(&config.SMTPConfig{Host: "smtp.example.com", Port: 587})
	e.sendMail = send
	if err := e.SendAlertNotification(testNotification()); err != nil {
		t.Errorf("Unconfigured SMTP should log, not fail: %v", err)
	}

	e = NewEmailNotifier(&config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p"})
	e.sendMail = send
	n := testNotification()
	n.Email = ""
	if err := e.SendAlertNotification(n); err != nil {
		t.Errorf("Missing address should be skipped: %v", err)
	}

	if called {
		t.Error("No mail should be sent")
	}
}

func TestSendAlertNotification_Invalid(t *testing.T) {
	e := NewEmailNotifier(&config.SMTPConfig{})
	n := testNotification()
	n.Type = "ALARM_CLEARED"
	err := e.SendAlertNotification(n)
	if !errors.Is(err, protocol.ErrInvalidNotification) {
		t.Errorf("Expected ErrInvalidNotification, got %v", err)
	}
}

func TestSendAlertNotification_LocationCannotAddHeaders(t *testing.T) {
	cfg := &config.SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "user", Password: "pass", From: "alerts@example.com"}
	e := NewEmailNotifier(cfg)

	var gotMsg []byte
	e.sendMail = func(_ string, _ smtp.Auth, _ string, _ []string, msg []byte) error {
		gotMsg = msg
		return nil
	}

	n := testNotification()
	n.Location = "Paris\r\nBcc: attacker@evil.example"
	if err := e.SendAlertNotification(n); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	headers, _, _ := strings.Cut(string(gotMsg), "\r\n\r\n")
	for _, line := range strings.Split(headers, "\r\n") {
		if strings.HasPrefix(line, "Bcc:") {
			t.Fatalf("Location injected a header line %q:\n%s", line, headers)
		}
	}
	if !strings.Contains(headers, "Subject: Air quality alert - ParisBcc: attacker@evil.example: AQI 178 (Unhealthy)\r\n") {
		t.Errorf("Expected control characters stripped from subject:\n%s", headers)
	}
}
