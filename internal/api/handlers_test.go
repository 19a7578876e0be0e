package api

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"example.com/tracking/internal/auth"
	"example.com/tracking/internal/domain"
	"example.com/tracking/internal/persistence/memory"
	"example.com/tracking/internal/registry"
	"example.com/tracking/internal/tracking"
)

func TestDeliveryTrackingSuccess(t *testing.T) {
	now := time.Date(2024, time.May, 1, 10, 0, 0, 0, time.UTC)
	handler, store, _ := newTestHandler()
	store.ApplyLocationUpdate("D1", "transporter-1", now)

	req := httptest.NewRequest(http.MethodGet, "/v1/deliveries/D1/tracking", nil)
	req = withScopes(req, auth.ScopeTrackingRead)

	rr := httptest.NewRecorder()
	handler.deliveryTracking(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp TrackingView
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DeliveryID != "D1" || resp.TransporterID != "transporter-1" {
		t.Fatalf("unexpected identity: %+v", resp)
	}
	if !resp.IsActive {
		t.Fatalf("expected delivery to be active")
	}
	if !resp.LastUpdate.Equal(now) {
		t.Fatalf("expected last update %s got %s", now, resp.LastUpdate)
	}
}

func TestDeliveryTrackingNotFound(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/deliveries/missing/tracking", nil), auth.ScopeTrackingRead)
	rr := httptest.NewRecorder()
	handler.deliveryTracking(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestDeliveryTrackingRequiresScope(t *testing.T) {
	handler, store, _ := newTestHandler()
	store.ApplyLocationUpdate("D1", "transporter-1", time.Now())

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/deliveries/D1/tracking", nil), auth.ScopeNotificationsWrite)
	rr := httptest.NewRecorder()
	handler.deliveryTracking(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 got %d", rr.Code)
	}
}

func TestDeliveryTrackingUnknownRoute(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := withScopes(httptest.NewRequest(http.MethodGet, "/v1/deliveries/D1/route", nil), auth.ScopeTrackingRead)
	rr := httptest.NewRecorder()
	handler.deliveryTracking(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
}

func TestNotificationsDeliveredToLiveConnection(t *testing.T) {
	handler, _, connections := newTestHandler()
	conn := &recordingConn{id: "conn-1"}
	connections.Bind("user-1", conn)

	body := strings.NewReader(`{"userId":"user-1","payload":{"title":"Courier nearby"}}`)
	req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/notifications", body), auth.ScopeNotificationsWrite)
	rr := httptest.NewRecorder()
	handler.notifications(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp NotificationResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Delivered {
		t.Fatalf("expected notification to be delivered")
	}
	if len(conn.events) != 1 || conn.events[0] != domain.EventNotification {
		t.Fatalf("expected one notification event, got %v", conn.events)
	}
}

func TestNotificationsOfflineUser(t *testing.T) {
	handler, _, _ := newTestHandler()

	body := strings.NewReader(`{"userId":"ghost","payload":{}}`)
	req := withScopes(httptest.NewRequest(http.MethodPost, "/v1/notifications", body), auth.ScopeNotificationsWrite)
	rr := httptest.NewRecorder()
	handler.notifications(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"delivered":false`) {
		t.Fatalf("expected delivered=false, got %s", rr.Body.String())
	}
}

func TestNotificationsValidation(t *testing.T) {
	handler, _, _ := newTestHandler()

	cases := map[string]struct {
		method string
		body   string
		scopes []string
		status int
	}{
		"missing user":  {http.MethodPost, `{"payload":{}}`, []string{auth.ScopeNotificationsWrite}, http.StatusBadRequest},
		"bad body":      {http.MethodPost, `{`, []string{auth.ScopeNotificationsWrite}, http.StatusBadRequest},
		"missing scope": {http.MethodPost, `{"userId":"u"}`, []string{auth.ScopeTrackingRead}, http.StatusForbidden},
		"wrong method":  {http.MethodGet, ``, []string{auth.ScopeNotificationsWrite}, http.StatusMethodNotAllowed},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req := withScopes(httptest.NewRequest(tc.method, "/v1/notifications", strings.NewReader(tc.body)), tc.scopes...)
			rr := httptest.NewRecorder()
			handler.notifications(rr, req)
			if rr.Code != tc.status {
				t.Fatalf("expected %d got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestNotificationsUnauthenticated(t *testing.T) {
	handler, _, _ := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/v1/notifications", strings.NewReader(`{"userId":"u"}`))
	rr := httptest.NewRecorder()
	handler.notifications(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rr.Code)
	}
}

func newTestHandler() (*Handler, *tracking.Store, *registry.Registry) {
	logger := log.New(io.Discard, "", 0)
	store := tracking.NewStore(4)
	connections := registry.New(4)
	service := domain.NewService(memory.NewRepository(), store, connections, nil, domain.WithLogger(logger))
	return NewHandler(service, domain.NewNotifier(connections, logger)), store, connections
}

func withScopes(req *http.Request, scopes ...string) *http.Request {
	set := make(map[string]struct{}, len(scopes))
	for _, scope := range scopes {
		set[scope] = struct{}{}
	}
	claims := &auth.Claims{
		Subject:   "tester",
		Scopes:    set,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	return req.WithContext(auth.WithClaims(req.Context(), claims))
}

type recordingConn struct {
	id     string
	events []string
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(event string, _ any) error {
	c.events = append(c.events, event)
	return nil
}
