package api

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/go-chi/chi/v5"

	"github.com/smukkama/aqi-alerts/internal/aqi"
	"github.com/smukkama/aqi-alerts/internal/database"
)

type alertResponse struct {
	ID        int64     `json:"id"`
	Location  string    `json:"location"`
	AQI       int       `json:"aqi"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

func toAlertResponse(a *database.AlertRecord) alertResponse {
	return alertResponse{
		ID:        a.ID,
		Location:  a.Location,
		AQI:       a.AQI,
		Severity:  string(a.Severity),
		Message:   a.Message,
		IsRead:    a.IsRead,
		CreatedAt: a.CreatedAt,
	}
}

// ListAlerts returns a user's alerts, newest first.
// Query: unread=true limits to unread alerts, limit caps the count.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	unreadOnly, _ := strconv.ParseBool(r.URL.Query().Get("unread"))

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	alerts, err := h.store.ListAlerts(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		h.storeError(w, err, "list alerts")
		return
	}

	out := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		out = append(out, toAlertResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": out,
		"count":  len(out),
	})
}

// UnreadCount returns the number of unread alerts for a user.
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.store.UnreadCount(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.storeError(w, err, "count unread alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unreadCount": n})
}

// MarkAlertRead flags one alert as read.
func (h *Handler) MarkAlertRead(w http.ResponseWriter, r *http.Request) {
	alertID, err := strconv.ParseInt(chi.URLParam(r, "alertID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_alert_id", "alert ID must be numeric")
		return
	}

	if err := h.store.MarkAlertRead(r.Context(), chi.URLParam(r, "userID"), alertID); err != nil {
		h.storeError(w, err, "mark alert read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type preferencesRequest struct {
	EnableAlerts      *bool    `json:"enableAlerts"`
	AQIAlertThreshold *int     `json:"aqiAlertThreshold"`
	HealthConditions  []string `json:"healthConditions"`
}

// UpdatePreferences applies the fields present in the body to the user's
// stored preferences.
func (h *Handler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a preferences object")
		return
	}
	// A stored 0 reads back as the default, so it is not accepted as a value.
	if req.AQIAlertThreshold != nil && (*req.AQIAlertThreshold < 1 || *req.AQIAlertThreshold > aqi.MaxIndex) {
		writeError(w, http.StatusBadRequest, "invalid_threshold", "aqiAlertThreshold must be between 1 and 500")
		return
	}

	userID := chi.URLParam(r, "userID")
	user, err := h.store.GetUser(r.Context(), userID)
	if err != nil {
		h.storeError(w, err, "load user")
		return
	}

	prefs := user.Preferences
	if req.EnableAlerts != nil {
		prefs.EnableAlerts = *req.EnableAlerts
	}
	if req.AQIAlertThreshold != nil {
		prefs.AQIAlertThreshold = *req.AQIAlertThreshold
	}
	if req.HealthConditions != nil {
		prefs.HealthConditions = cleanList(req.HealthConditions)
	}

	if err := h.store.UpdatePreferences(r.Context(), userID, prefs); err != nil {
		h.storeError(w, err, "update preferences")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enableAlerts":      prefs.EnableAlerts,
		"aqiAlertThreshold": prefs.ThresholdOrDefault(),
		"healthConditions":  nonNil(prefs.HealthConditions),
	})
}

type locationRequest struct {
	Name         string `json:"name"`
	AlertEnabled *bool  `json:"alertEnabled"`
}

// AddLocation adds a monitored location. Alerts default to enabled.
func (h *Handler) AddLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a location object")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "location name is required")
		return
	}
	if strings.IndexFunc(req.Name, unicode.IsControl) >= 0 {
		writeError(w, http.StatusBadRequest, "invalid_name", "location name must not contain control characters")
		return
	}

	loc := database.MonitoredLocation{
		Name:         req.Name,
		AlertEnabled: req.AlertEnabled == nil || *req.AlertEnabled,
		AddedAt:      time.Now().UTC(),
	}
	if err := h.store.AddLocation(r.Context(), chi.URLParam(r, "userID"), loc); err != nil {
		h.storeError(w, err, "add location")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"name":         loc.Name,
		"alertEnabled": loc.AlertEnabled,
		"addedAt":      loc.AddedAt,
	})
}

// SetLocationAlerts toggles alerting for a monitored location.
func (h *Handler) SetLocationAlerts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AlertEnabled *bool `json:"alertEnabled"`
	}
	if err := decodeJSON(w, r, &req); err != nil || req.AlertEnabled == nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "alertEnabled is required")
		return
	}

	name := locationName(r)
	if err := h.store.SetLocationAlerts(r.Context(), chi.URLParam(r, "userID"), name, *req.AlertEnabled); err != nil {
		h.storeError(w, err, "update location")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         name,
		"alertEnabled": *req.AlertEnabled,
	})
}

// RemoveLocation stops monitoring a location. Its alerts are kept.
func (h *Handler) RemoveLocation(w http.ResponseWriter, r *http.Request) {
	if err := h.store.RemoveLocation(r.Context(), chi.URLParam(r, "userID"), locationName(r)); err != nil {
		h.storeError(w, err, "remove location")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, op string) {
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}
	h.log.Error().Err(err).Str("op", op).Msg("store error")
	writeError(w, http.StatusInternalServerError, "store_error", "failed to "+op)
}

// locationName returns the decoded {name} parameter. chi routes on the raw
// path when the name contains escaped separators.
func locationName(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if r.URL.RawPath != "" {
		if decoded, err := url.PathUnescape(name); err == nil {
			return decoded
		}
	}
	return name
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
