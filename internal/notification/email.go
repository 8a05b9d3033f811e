package notification

import (
	"bytes"
	"fmt"
	"net/smtp"
	"strings"
	"text/template"
	"unicode"
	"time"

	"github.com/rs/zerolog"

	"github.com/smukkama/aqi-alerts/internal/logger"
	"github.com/smukkama/aqi-alerts/internal/protocol"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

var alertTemplate = template.Must(template.New("alert").Parse(`
Air Quality Alert
=================

Location: {{.Location}}
AQI: {{.AQI}} ({{.Category}})
Severity: {{.Severity}}
{{- if .Dominant}}
Dominant pollutant: {{.Dominant}}
{{- end}}
{{- if not .ReadingAt.IsZero}}
Measured at: {{.ReadingAt.Format "2006-01-02 15:04 MST"}}
{{- end}}

{{.Message}}

You will not receive another alert for this location for a few hours,
even if air quality stays poor.

---
AQI Alerts
`))

// EmailNotifier sends alert e-mails to the address on the notification
type EmailNotifier struct {
	config   *config.SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	log      zerolog.Logger
}

// NewEmailNotifier creates a new email notifier
func NewEmailNotifier(cfg *config.SMTPConfig) *EmailNotifier {
	return &EmailNotifier{
		config:   cfg,
		sendMail: smtp.SendMail,
		log:      logger.WithComponent("email"),
	}
}

// Subject returns the e-mail subject for a notification
func Subject(n *protocol.AlertNotification) string {
	prefix := "Air quality alert"
	if n.Severity == "critical" {
		prefix = "URGENT air quality alert"
	}
	return headerValue(fmt.Sprintf("%s - %s: AQI %d (%s)", prefix, n.Location, n.AQI, n.Category))
}

// headerValue drops control characters so a value cannot start a new header line.
func headerValue(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

// RenderBody renders the plain-text e-mail body
func RenderBody(n *protocol.AlertNotification) (string, error) {
	var buf bytes.Buffer
	if err := alertTemplate.Execute(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// SendAlertNotification e-mails one alert to its user
func (e *EmailNotifier) SendAlertNotification(n *protocol.AlertNotification) error {
	if err := n.Validate(); err != nil {
		return err
	}

	body, err := RenderBody(n)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}
	subject := Subject(n)

	log := e.log.With().Int64("alert_id", n.AlertID).Str("user_id", n.UserID).Logger()

	if n.Email == "" {
		log.Warn().Msg("user has no e-mail address, skipping")
		return nil
	}

	// Skip sending if SMTP is not configured
	if e.config.Username == "" || e.config.Password == "" {
		log.Info().Str("to", n.Email).Str("subject", subject).Str("body", body).Msg("SMTP not configured, logging email")
		return nil
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&msg, "To: %s\r\n", headerValue(n.Email))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	if err := e.sendMail(addr, auth, e.config.From, []string{n.Email}, msg.Bytes()); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Info().Str("subject", subject).Msg("email sent")
	return nil
}

// TestConnection tests the SMTP connection
func (e *EmailNotifier) TestConnection() error {
	if e.config.Username == "" {
		return fmt.Errorf("SMTP not configured")
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	e.log.Info().Str("addr", addr).Msg("SMTP connection test successful")
	return nil
}
