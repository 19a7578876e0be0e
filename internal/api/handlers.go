// Package api exposes HTTP handlers for the tracking relay.
package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"example.com/tracking/internal/auth"
	"example.com/tracking/internal/domain"
	"example.com/tracking/internal/tracking"
)

// TrackingView is the HTTP representation of a delivery's tracking state.
type TrackingView struct {
	DeliveryID           string     `json:"deliveryId"`
	TransporterID        string     `json:"transporterId"`
	IsActive             bool       `json:"isActive"`
	LastUpdate           time.Time  `json:"lastUpdate"`
	LastDisconnect       *time.Time `json:"lastDisconnect,omitempty"`
	ResumeCount          int64      `json:"resumeCount"`
	TotalDowntimeMinutes int64      `json:"totalDowntimeMinutes"`
}

// NotificationRequest asks the relay to push Payload to UserID.
type NotificationRequest struct {
	UserID  string          `json:"userId"`
	Payload json.RawMessage `json:"payload"`
}

// NotificationResponse reports whether the user had a live connection.
type NotificationResponse struct {
	Delivered bool `json:"delivered"`
}

// Handler coordinates HTTP requests with the tracking service.
type Handler struct {
	service  *domain.Service
	notifier *domain.Notifier
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, notifier *domain.Notifier) *Handler {
	return &Handler{service: service, notifier: notifier}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/deliveries/", h.deliveryTracking)
	mux.HandleFunc("/v1/notifications", h.notifications)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) deliveryTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/v1/deliveries/")
	id, suffix, found := strings.Cut(rest, "/")
	if !found || suffix != "tracking" {
		writeError(w, http.StatusNotFound, "not_found", "unknown route")
		return
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing delivery id")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTrackingRead) {
		writeError(w, http.StatusForbidden, "forbidden", "scope tracking:read required")
		return
	}

	record, ok := h.service.TrackingState(id)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no tracking state for delivery")
		return
	}
	writeJSON(w, http.StatusOK, toTrackingView(record))
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeNotificationsWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope notifications:write required")
		return
	}

	var req NotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "userId is required")
		return
	}
	if len(req.Payload) == 0 {
		req.Payload = json.RawMessage("null")
	}

	delivered := h.notifier.Notify(req.UserID, req.Payload)
	writeJSON(w, http.StatusAccepted, NotificationResponse{Delivered: delivered})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toTrackingView(record tracking.Record) TrackingView {
	return TrackingView{
		DeliveryID:           record.DeliveryID,
		TransporterID:        record.Owner,
		IsActive:             record.Active,
		LastUpdate:           record.LastUpdate,
		LastDisconnect:       record.LastDisconnect,
		ResumeCount:          record.ResumeCount,
		TotalDowntimeMinutes: record.TotalDowntimeMinutes,
	}
}
