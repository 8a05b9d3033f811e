// Package provider fetches current air quality for a named location from a
// WAQI-compatible feed API.
//
// Every fetch carries its own timeout. Any failure (transport, non-200
// status, "status":"error" bodies, missing fields) comes back as one of
// the sentinel errors below so the caller can skip the location and move on.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/metrics"
	"github.com/smukkama/aqi-alerts/pkg/config"
)

var (
	// ErrNoData means the provider answered but has no reading for the location.
	ErrNoData = errors.New("no data for location")
	// ErrUnavailable covers network failures, timeouts and non-200 responses.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrMalformed means a 200 response with an unexpected shape.
	ErrMalformed = errors.New("malformed provider response")
)

// Mode says how per-pollutant values in the feed are interpreted.
type Mode string

const (
	ModeIndex         Mode = "index"
	ModeConcentration Mode = "concentration"
)

// Client is an HTTP client for the feed endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	timeout    time.Duration
	mode       Mode
	policy     aqi.Policy
	now        func() time.Time
}

// NewClient creates a feed client from provider and alerting configuration.
func NewClient(cfg config.ProviderConfig, policy aqi.Policy) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		// Transport-level ceiling; the per-request context usually fires first.
		httpClient: &http.Client{Timeout: timeout + time.Second},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		timeout:    timeout,
		mode:       Mode(cfg.Reports),
		policy:     policy,
		now:        time.Now,
	}
}

// Validate reports missing credentials before any request is attempted.
func (c *Client) Validate() error {
	if c.token == "" {
		return config.ErrMissingProviderToken
	}
	return nil
}

type feedResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type feedData struct {
	AQI  json.RawMessage `json:"aqi"`
	City struct {
		Name string `json:"name"`
	} `json:"city"`
	DominentPol string                        `json:"dominentpol"`
	IAQI        map[string]struct{ V float64 } `json:"iaqi"`
	Time        json.RawMessage               `json:"time"`
}

// Fetch returns the current reading for a location.
func (c *Client) Fetch(ctx context.Context, location string) (*aqi.Reading, error) {
	start := time.Now()
	reading, err := c.fetch(ctx, location)
	metrics.ProviderRequestDuration.Observe(time.Since(start).Seconds())
	metrics.ProviderRequestsTotal.WithLabelValues(statusLabel(err)).Inc()
	return reading, err
}

func (c *Client) fetch(ctx context.Context, location string) (*aqi.Reading, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := fmt.Sprintf("%s/feed/%s/?token=%s", c.baseURL, url.PathEscape(location), url.QueryEscape(c.token))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrUnavailable, location, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: feed %s returned %d: %s", ErrUnavailable, location, resp.StatusCode, truncate(body, 200))
	}

	var envelope feedResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrMalformed, err)
	}
	if envelope.Status != "ok" {
		return nil, fmt.Errorf("%w: %s (status %q: %s)", ErrNoData, location, envelope.Status, truncate(envelope.Data, 100))
	}

	var data feedData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode data: %v", ErrMalformed, err)
	}

	index, dominant, err := c.index(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", location, err)
	}

	ts := parseTime(data.Time)
	if ts.IsZero() {
		ts = c.now()
	}

	return aqi.NewReading(location, index, dominant, ts), nil
}

// index derives the reading's index from the feed's data block.
func (c *Client) index(data feedData) (int, aqi.Pollutant, error) {
	dominant := aqi.Pollutant(data.DominentPol)

	if c.mode == ModeConcentration {
		concentrations := make(map[aqi.Pollutant]float64, len(data.IAQI))
		for name, v := range data.IAQI {
			concentrations[aqi.Pollutant(name)] = v.V
		}
		index, dom, err := aqi.Composite(c.policy, concentrations)
		if err != nil {
			return 0, "", fmt.Errorf("%w: %v", ErrNoData, err)
		}
		return index, dom, nil
	}

	if len(data.AQI) == 0 || string(data.AQI) == "null" {
		return 0, "", fmt.Errorf("%w: missing aqi field", ErrMalformed)
	}

	var n json.Number
	if err := json.Unmarshal(data.AQI, &n); err == nil {
		f, err := n.Float64()
		if err != nil {
			return 0, "", fmt.Errorf("%w: aqi %q: %v", ErrMalformed, n, err)
		}
		// Clamp before converting; huge values would overflow int.
		f = math.Min(math.Max(f, aqi.MinIndex), aqi.MaxIndex)
		return int(math.Round(f)), dominant, nil
	}

	// Stations without a current value report "aqi": "-".
	var s string
	if err := json.Unmarshal(data.AQI, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v, dominant, nil
		}
		return 0, "", fmt.Errorf("%w: aqi %q", ErrNoData, s)
	}
	return 0, "", fmt.Errorf("%w: aqi field %s", ErrMalformed, truncate(data.AQI, 50))
}

// parseTime accepts either a plain timestamp string or the WAQI object
// form {"s": "2006-01-02 15:04:05", "tz": "+01:00", "iso": "..."}.
func parseTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseTimestamp(s, "")
	}

	var obj struct {
		S   string `json:"s"`
		TZ  string `json:"tz"`
		ISO string `json:"iso"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return time.Time{}
	}
	if obj.ISO != "" {
		return parseTimestamp(obj.ISO, "")
	}
	return parseTimestamp(obj.S, obj.TZ)
}

func parseTimestamp(s, tz string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if tz != "" {
		if t, err := time.Parse("2006-01-02 15:04:05-07:00", s+tz); err == nil {
			return t
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}

func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoData):
		return "no_data"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, config.ErrMissingProviderToken):
		return "unconfigured"
	default:
		return "unavailable"
	}
}

// truncate returns a truncated string representation for error messages.
func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
