package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/fanout"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/session"
	"github.com/Strange-Jackle/meeting-monitor/internal/store"
)

const (
	serviceName    = "meeting-monitor"
	serviceVersion = "1.0.0"

	defaultSessionsLimit = 20
	maxSessionsLimit     = 200
	maxRequestBody       = 1 << 20
)

// Controller is the session control surface
type Controller interface {
	Start(ctx context.Context, opts session.StartOptions) (string, error)
	Stop(ctx context.Context) (string, error)
	Reset(ctx context.Context) (string, error)
	Status(ctx context.Context) (session.Status, error)
	StarHint(ctx context.Context, req session.StarRequest) (store.StarredHint, error)
	RequestBattlecard(ctx context.Context, competitor string) error
	Subscribe(ctx context.Context) (*fanout.Subscriber, error)

	PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error
	PushScreen(ctx context.Context, screen insight.Screen) error
	ReportDeviceLost(ctx context.Context, source string, permanent bool, detail string) error
}

// History reads finished sessions
type History interface {
	RecentSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	SessionHistory(ctx context.Context, id string) (*store.History, error)
	SetHintStatus(ctx context.Context, id, status string) error
}

// HTTPServer provides the control API, capture ingress and subscriber feed
type HTTPServer struct {
	server  *http.Server
	logger  *slog.Logger
	config  *config.Config
	control Controller
	history History
	capture *CaptureHandler
	metrics *metrics.Metrics

	// Server state
	startTime time.Time
}

// HTTPServerConfig wires the server to its dependencies
type HTTPServerConfig struct {
	Config   *config.Config
	Control  Controller
	History  History
	Broker   *fanout.Broker
	Gatherer prometheus.Gatherer // nil serves the default registry
}

// NewHTTPServer creates the HTTP API server
func NewHTTPServer(cfg HTTPServerConfig, logger *slog.Logger, m *metrics.Metrics) *HTTPServer {
	if logger == nil {
		logger = slog.Default()
	}

	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    cfg.Config,
		control:   cfg.Control,
		history:   cfg.History,
		metrics:   m,
		startTime: time.Now(),
	}

	h.capture = NewCaptureHandler(cfg.Control, CaptureConfig{
		MaxConns: cfg.Config.HTTP.MaxCaptureConns,
	}, logger, m)

	subscribe := fanout.NewHandler(cfg.Control.Subscribe, cfg.Broker, fanout.HandlerConfig{
		WriteTimeout:   cfg.Config.Fanout.GetWriteTimeout(),
		MaxSubscribers: cfg.Config.HTTP.MaxSubscribers,
	}, logger)

	mux := http.NewServeMux()
	h.setupRoutes(mux, subscribe, cfg.Gatherer)

	h.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Config.HTTP.Address, cfg.Config.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		// No write timeout: /subscribe, /capture and /mcp hold long lived
		// connections and set their own deadlines
		IdleTimeout: 60 * time.Second,
	}

	return h
}

// Handler returns the root handler
func (h *HTTPServer) Handler() http.Handler {
	return h.server.Handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux, subscribe http.Handler, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Session control
	mux.HandleFunc("/session/start", h.withMetrics("/session/start", h.handleStart))
	mux.HandleFunc("/session/stop", h.withMetrics("/session/stop", h.handleStop))
	mux.HandleFunc("/session/reset", h.withMetrics("/session/reset", h.handleReset))
	mux.HandleFunc("/session/status", h.withMetrics("/session/status", h.handleStatus))
	mux.HandleFunc("/hints/star", h.withMetrics("/hints/star", h.handleStarHint))
	mux.HandleFunc("/hints/", h.withMetrics("/hints/{id}/status", h.handleHintStatus))
	mux.HandleFunc("/battlecards", h.withMetrics("/battlecards", h.handleBattlecard))

	// History
	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	// Streams
	mux.Handle("/capture", h.capture)
	mux.Handle("/subscribe", subscribe)
	if h.config.HTTP.MCPEnabled {
		mux.Handle("/mcp", NewMCPHandler(h.control, h.history, h.logger))
	}

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: 200}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := strconv.Itoa(ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// CaptureStats returns capture ingress statistics
func (h *HTTPServer) CaptureStats() CaptureStatistics {
	return h.capture.GetStatistics()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps control errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrNoSession),
		errors.Is(err, session.ErrReset):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownHint), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrSessionFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadRequest
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	captureStats := h.capture.GetStatistics()

	sessionHealth := map[string]interface{}{"status": "running"}
	status := "healthy"
	if st, err := h.control.Status(r.Context()); err != nil {
		status = "degraded"
		sessionHealth["status"] = "unavailable"
		sessionHealth["error"] = err.Error()
	} else {
		sessionHealth["state"] = st.State
		sessionHealth["session_id"] = st.SessionID
		sessionHealth["subscribers"] = st.Subscribers
		sessionHealth["degraded"] = st.Degraded
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"session": sessionHealth,
			"capture": map[string]interface{}{
				"status":           "running",
				"connections":      captureStats.Connections,
				"frames_received":  captureStats.FramesReceived,
				"frames_processed": captureStats.FramesProcessed,
				"decode_errors":    captureStats.DecodeErrors,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

// handleStart implements POST /session/start
func (h *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var opts session.StartOptions
	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.control.Start(r.Context(), opts)
	if err != nil {
		h.logger.Warn("Session start failed", slog.String("session_id", id), slog.String("error", err.Error()))
		writeJSON(w, statusFor(err), map[string]string{"session_id": id, "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleStop implements POST /session/stop
func (h *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := h.control.Stop(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleReset implements POST /session/reset
func (h *HTTPServer) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := h.control.Reset(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

// handleStatus implements GET /session/status
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	st, err := h.control.Status(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, st)
}

// handleStarHint implements POST /hints/star
func (h *HTTPServer) handleStarHint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req session.StarRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.InsightID == "" && strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "hint_id or text is required")
		return
	}

	hint, err := h.control.StarHint(r.Context(), req)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, hint)
}

// handleHintStatus implements POST /hints/{id}/status for export tooling
func (h *HTTPServer) handleHintStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := strings.CutSuffix(strings.TrimPrefix(r.URL.Path, "/hints/"), "/status")
	if !ok || id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.history.SetHintStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"hint_id": id, "status": req.Status})
}

// handleBattlecard implements POST /battlecards
func (h *HTTPServer) handleBattlecard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Competitor string `json:"competitor"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Competitor) == "" {
		writeError(w, http.StatusBadRequest, "competitor is required")
		return
	}

	if err := h.control.RequestBattlecard(r.Context(), req.Competitor); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"competitor": req.Competitor})
}

// handleSessions implements GET /sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := defaultSessionsLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxSessionsLimit)
	}

	sessions, err := h.history.RecentSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list sessions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(sessions),
		"timestamp":      time.Now().UTC(),
		"sessions":       sessions,
	})
}

// handleSessionDetail implements GET /sessions/{id}
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "session id required")
		return
	}

	history, err := h.history.SessionHistory(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load session",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	writeJSON(w, http.StatusOK, history)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config
	// API keys, passwords and DSNs are left out
	sanitizedConfig := map[string]interface{}{
		"session": c.Session,
		"audio":   c.Audio,
		"transcription": map[string]interface{}{
			"backend":        c.Transcription.Backend,
			"endpoint":       c.Transcription.Endpoint,
			"fallback":       c.Transcription.FallbackEndpoint != "",
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
			"workers":        c.Transcription.Workers,
			"diarization":    c.Transcription.Diarization,
		},
		"insight": map[string]interface{}{
			"provider":                  c.Insight.Provider,
			"model":                     c.Insight.Model,
			"timeout":                   c.Insight.Timeout,
			"max_hints":                 c.Insight.MaxHints,
			"max_battlecards_per_cycle": c.Insight.MaxBattlecardsPerCycle,
			"research":                  c.Insight.Research.Enabled,
		},
		"storage": map[string]interface{}{
			"driver":     c.Storage.Driver,
			"queue_size": c.Storage.QueueSize,
		},
		"fanout": map[string]interface{}{
			"subscriber_buffer": c.Fanout.SubscriberBuffer,
			"redis":             c.Fanout.RedisAddr != "",
		},
		"logging": c.Logging,
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Meeting Monitor",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                   "API documentation",
			"GET /health":             "Service health check",
			"POST /session/start":     "Start a session {simulation, title}",
			"POST /session/stop":      "Stop the current session",
			"POST /session/reset":     "Force the machine back to idle",
			"GET /session/status":     "Current session status",
			"POST /hints/star":        "Star a hint {hint_id | text, session_id}",
			"POST /hints/{id}/status": "Set a starred hint's export status {status}",
			"POST /battlecards":       "Request a battlecard {competitor}",
			"GET /sessions":           "Recent sessions",
			"GET /sessions/{id}":      "Stored session history",
			"GET /capture":            "Capture ingress (WebSocket, binary frames)",
			"GET /subscribe":          "Live event feed (WebSocket)",
			"POST /mcp":               "MCP tools",
			"GET /config":             "Service configuration",
			"GET /metrics":            "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
