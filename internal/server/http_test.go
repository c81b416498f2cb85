package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/fanout"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/session"
	"github.com/Strange-Jackle/meeting-monitor/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type audioPush struct {
	samples    []int16
	capturedAt time.Time
}

type deviceLoss struct {
	source    string
	permanent bool
	detail    string
}

// fakeControl records control and capture calls
type fakeControl struct {
	mu sync.Mutex

	startErr error
	stopErr  error
	starErr  error
	cardErr  error
	pushErr  error

	started     []session.StartOptions
	stops       int
	resets      int
	stars       []session.StarRequest
	battlecards []string
	audio       []audioPush
	screens     []insight.Screen
	losses      []deviceLoss
}

func (f *fakeControl) Start(_ context.Context, opts session.StartOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, opts)
	return "s-1", f.startErr
}

func (f *fakeControl) Stop(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return "s-1", f.stopErr
}

func (f *fakeControl) Reset(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return "s-1", nil
}

func (f *fakeControl) Status(context.Context) (session.Status, error) {
	return session.Status{SessionID: "s-1", State: event.StateActive, Subscribers: 2, Segments: 3}, nil
}

func (f *fakeControl) StarHint(_ context.Context, req session.StarRequest) (store.StarredHint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stars = append(f.stars, req)
	if f.starErr != nil {
		return store.StarredHint{}, f.starErr
	}
	return store.StarredHint{ID: "h-1", SessionID: "s-1", InsightID: req.InsightID, Text: "Ask about budget", Status: "starred"}, nil
}

func (f *fakeControl) RequestBattlecard(_ context.Context, competitor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.battlecards = append(f.battlecards, competitor)
	return f.cardErr
}

func (f *fakeControl) Subscribe(context.Context) (*fanout.Subscriber, error) {
	return nil, session.ErrStopped
}

func (f *fakeControl) PushAudio(_ context.Context, samples []int16, capturedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pushErr != nil {
		return f.pushErr
	}
	f.audio = append(f.audio, audioPush{samples: samples, capturedAt: capturedAt})
	return nil
}

func (f *fakeControl) PushScreen(_ context.Context, screen insight.Screen) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.screens = append(f.screens, screen)
	return nil
}

func (f *fakeControl) ReportDeviceLost(_ context.Context, source string, permanent bool, detail string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.losses = append(f.losses, deviceLoss{source: source, permanent: permanent, detail: detail})
	return nil
}

// fakeHistory serves one stored session
type fakeHistory struct {
	limits   []int
	statuses []string
}

func (f *fakeHistory) RecentSessions(_ context.Context, limit int) ([]store.SessionRecord, error) {
	f.limits = append(f.limits, limit)
	return []store.SessionRecord{{ID: "s-0", Title: "Weekly sync", State: event.StateStopped}}, nil
}

func (f *fakeHistory) SessionHistory(_ context.Context, id string) (*store.History, error) {
	if id != "s-0" {
		return nil, fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	return &store.History{Session: store.SessionRecord{ID: "s-0", Summary: "Went well"}}, nil
}

func (f *fakeHistory) SetHintStatus(_ context.Context, id, status string) error {
	if id != "h-1" {
		return fmt.Errorf("hint %s: %w", id, store.ErrNotFound)
	}
	if status != store.HintExported && status != store.HintFailed && status != store.HintPending {
		return fmt.Errorf("invalid hint status %q", status)
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func newTestServer(t *testing.T) (*HTTPServer, *fakeControl, *fakeHistory) {
	t.Helper()
	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.HTTP.MCPEnabled = true

	reg := prometheus.NewRegistry()
	control := &fakeControl{}
	history := &fakeHistory{}
	srv := NewHTTPServer(HTTPServerConfig{
		Config:   cfg,
		Control:  control,
		History:  history,
		Broker:   fanout.NewBroker(8, testLogger(), nil),
		Gatherer: reg,
	}, testLogger(), metrics.NewMetrics(reg))
	return srv, control, history
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSessionControlEndpoints(t *testing.T) {
	srv, control, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/session/start", `{"simulation":true,"title":"Demo"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON(t, rec)["session_id"]; got != "s-1" {
		t.Errorf("start: expected session_id s-1, got %v", got)
	}
	if len(control.started) != 1 || !control.started[0].Simulation || control.started[0].Title != "Demo" {
		t.Errorf("start options not forwarded: %+v", control.started)
	}

	rec = doRequest(t, h, http.MethodPost, "/session/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/session/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", rec.Code)
	}
	if control.stops != 1 || control.resets != 1 {
		t.Errorf("expected one stop and one reset, got %d and %d", control.stops, control.resets)
	}

	rec = doRequest(t, h, http.MethodGet, "/session/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rec.Code)
	}
	status := decodeJSON(t, rec)
	if status["state"] != string(event.StateActive) {
		t.Errorf("status: expected state active, got %v", status["state"])
	}
	if status["segments"] != float64(3) {
		t.Errorf("status: expected 3 segments, got %v", status["segments"])
	}
}

func TestControlErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"invalid state", session.ErrInvalidState, http.StatusConflict},
		{"no session", session.ErrNoSession, http.StatusConflict},
		{"reset", session.ErrReset, http.StatusConflict},
		{"failed start", fmt.Errorf("%w: model unavailable", session.ErrSessionFailed), http.StatusServiceUnavailable},
		{"machine stopped", session.ErrStopped, http.StatusServiceUnavailable},
		{"unknown hint", session.ErrUnknownHint, http.StatusNotFound},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, control, _ := newTestServer(t)
			control.startErr = tt.err

			rec := doRequest(t, srv.Handler(), http.MethodPost, "/session/start", "")
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if decodeJSON(t, rec)["error"] == nil {
				t.Error("expected an error message in the response")
			}
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/session/start"},
		{http.MethodGet, "/session/stop"},
		{http.MethodPost, "/session/status"},
		{http.MethodGet, "/hints/star"},
		{http.MethodDelete, "/sessions"},
	}

	for _, tt := range tests {
		rec := doRequest(t, srv.Handler(), tt.method, tt.path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: expected 405, got %d", tt.method, tt.path, rec.Code)
		}
	}
}

func TestStarHintEndpoint(t *testing.T) {
	srv, control, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/hints/star", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty request: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/hints/star", `{"hint_id":"i-9"`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/hints/star", `{"hint_id":"i-9"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := decodeJSON(t, rec)["insight_id"]; got != "i-9" {
		t.Errorf("expected insight_id i-9, got %v", got)
	}

	control.starErr = session.ErrUnknownHint
	rec = doRequest(t, h, http.MethodPost, "/hints/star", `{"hint_id":"expired"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown hint: expected 404, got %d", rec.Code)
	}
}

func TestBattlecardEndpoint(t *testing.T) {
	srv, control, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodPost, "/battlecards", `{"competitor":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank competitor: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/battlecards", `{"competitor":"Acme"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if len(control.battlecards) != 1 || control.battlecards[0] != "Acme" {
		t.Errorf("competitor not forwarded: %v", control.battlecards)
	}

	control.cardErr = session.ErrNoSession
	rec = doRequest(t, h, http.MethodPost, "/battlecards", `{"competitor":"Acme"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("no session: expected 409, got %d", rec.Code)
	}
}

func TestSessionHistoryEndpoints(t *testing.T) {
	srv, _, history := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/sessions?limit=5000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	if got := decodeJSON(t, rec)["total_sessions"]; got != float64(1) {
		t.Errorf("expected 1 session, got %v", got)
	}
	if len(history.limits) != 1 || history.limits[0] != maxSessionsLimit {
		t.Errorf("expected limit capped at %d, got %v", maxSessionsLimit, history.limits)
	}

	rec = doRequest(t, h, http.MethodGet, "/sessions?limit=zero", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, h, http.MethodGet, "/sessions/s-0", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("detail: expected 200, got %d", rec.Code)
	}
	body := decodeJSON(t, rec)
	sess, _ := body["session"].(map[string]interface{})
	if sess["summary"] != "Went well" {
		t.Errorf("expected stored summary, got %v", body)
	}

	rec = doRequest(t, h, http.MethodGet, "/sessions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing session: expected 404, got %d", rec.Code)
	}
}

func TestHealthAndRoot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	rec := doRequest(t, h, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rec.Code)
	}
	health := decodeJSON(t, rec)
	if health["status"] != "healthy" {
		t.Errorf("expected healthy, got %v", health["status"])
	}

	rec = doRequest(t, h, http.MethodGet, "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("root: expected 200, got %d", rec.Code)
	}
	if _, ok := decodeJSON(t, rec)["endpoints"]; !ok {
		t.Error("root: expected endpoint documentation")
	}

	rec = doRequest(t, h, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown path: expected 404, got %d", rec.Code)
	}
}

func TestConfigOmitsSecrets(t *testing.T) {
	srv, _, _ := newTestServer(t)
	srv.config.Transcription.APIKey = "tx-secret"
	srv.config.Insight.APIKey = "llm-secret"
	srv.config.Storage.DSN = "postgres://user:pw@db/meetings"

	rec := doRequest(t, srv.Handler(), http.MethodGet, "/config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	for _, secret := range []string{"tx-secret", "llm-secret", "user:pw"} {
		if strings.Contains(rec.Body.String(), secret) {
			t.Errorf("config response leaks %q", secret)
		}
	}
}

func TestMetricsEndpointRecordsRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)
	h := srv.Handler()

	doRequest(t, h, http.MethodGet, "/session/status", "")
	rec := doRequest(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `endpoint="/session/status"`) {
		t.Errorf("expected request metrics for /session/status, got:\n%s", rec.Body.String())
	}
}

func TestHintStatusEndpoint(t *testing.T) {
	srv, _, history := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"exported", http.MethodPost, "/hints/h-1/status", `{"status":"exported"}`, http.StatusOK},
		{"invalid status", http.MethodPost, "/hints/h-1/status", `{"status":"done"}`, http.StatusBadRequest},
		{"unknown hint", http.MethodPost, "/hints/h-9/status", `{"status":"failed"}`, http.StatusNotFound},
		{"wrong method", http.MethodGet, "/hints/h-1/status", "", http.StatusMethodNotAllowed},
		{"bad path", http.MethodPost, "/hints/h-1", `{"status":"failed"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, h, tt.method, tt.path, tt.body)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}

	if len(history.statuses) != 1 || history.statuses[0] != store.HintExported {
		t.Errorf("expected one exported update, got %v", history.statuses)
	}
}
