package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
)

// HTTPConfig contains HTTP backend configuration
type HTTPConfig struct {
	Name          string
	Endpoint      string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	MaxConcurrent int
	BaseBackoff   time.Duration // first retry delay, doubled per attempt
}

// HTTPBackend uploads windows as WAV files to a remote ASR endpoint
type HTTPBackend struct {
	config     HTTPConfig
	httpClient *http.Client
	semaphore  chan struct{} // admission control
	logger     *slog.Logger
	m          *metrics.Metrics

	// Statistics
	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// HTTPStats represents backend statistics
type HTTPStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// statusError carries a non-2xx HTTP response
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP error %d: %s", e.code, e.body)
}

// NewHTTPBackend creates a new HTTP transcription backend
func NewHTTPBackend(config HTTPConfig, logger *slog.Logger, m *metrics.Metrics) (*HTTPBackend, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if _, err := url.ParseRequestURI(config.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", config.Endpoint, err)
	}

	if config.Name == "" {
		config.Name = "http"
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}

	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 500 * time.Millisecond
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPBackend{
		config:     config,
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger.With(slog.String("component", "transcription"), slog.String("backend", config.Name)),
		m:          m,
	}, nil
}

// Name returns the backend name
func (b *HTTPBackend) Name() string {
	return b.config.Name
}

// Ready probes the endpoint health route. A 503 or 507 answer means the
// inference device is unavailable.
func (b *HTTPBackend) Ready(ctx context.Context) error {
	healthURL, err := healthURL(b.config.Endpoint)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	b.setAuth(req)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("transcription backend unreachable: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusInsufficientStorage:
		return fmt.Errorf("%w: %s", ErrResourceExhausted, string(body))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("transcription backend not ready: %w", &statusError{code: resp.StatusCode, body: string(body)})
	}

	return nil
}

// Transcribe sends a window for transcription
func (b *HTTPBackend) Transcribe(ctx context.Context, request *Request) (*Result, error) {
	if request == nil || request.Window == nil {
		return nil, fmt.Errorf("request window is required")
	}

	// Acquire semaphore for admission control
	select {
	case b.semaphore <- struct{}{}:
		defer func() { <-b.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	wav, err := request.Window.WAV()
	if err != nil {
		return nil, fmt.Errorf("failed to encode window %d: %w", request.Window.Index, err)
	}

	startTime := time.Now()
	b.incrementTotalRequests()
	b.m.RecordTranscriptionRequest()

	var lastErr error

	// Retry loop with exponential backoff
	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if attempt > 0 {
			b.incrementTotalRetries()
			b.m.RecordTranscriptionRetry()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * b.config.BaseBackoff
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				b.incrementFailedRequests()
				b.m.RecordTranscriptionFailure(time.Since(startTime).Seconds())
				return nil, ctx.Err()
			}
		}

		result, err := b.doRequest(ctx, request, wav)
		if err == nil {
			b.incrementSuccessRequests()
			b.updateAvgResponseTime(time.Since(startTime))
			b.m.RecordTranscriptionSuccess(time.Since(startTime).Seconds())
			return result, nil
		}

		lastErr = err

		if !isRetryableError(err) {
			break
		}

		b.logger.Debug("Retrying transcription request",
			slog.Int("window", request.Window.Index),
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
	}

	b.incrementFailedRequests()
	b.m.RecordTranscriptionFailure(time.Since(startTime).Seconds())

	if errors.Is(lastErr, ErrResourceExhausted) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("transcription failed after %d attempts: %w", b.config.MaxRetries+1, lastErr)
}

// doRequest performs a single HTTP request to the transcription API
func (b *HTTPBackend) doRequest(ctx context.Context, request *Request, wav []byte) (*Result, error) {
	body, contentType, err := b.createMultipartRequest(request, wav)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Meeting-Monitor/1.0")
	b.setAuth(httpReq)

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusInsufficientStorage {
		return nil, fmt.Errorf("%w: %s", ErrResourceExhausted, string(respBody))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: string(respBody)}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}

	// Backends that only return text get one segment spanning the window
	if len(result.Segments) == 0 {
		var plain struct {
			Text       string  `json:"text"`
			Confidence float32 `json:"confidence"`
		}
		if err := json.Unmarshal(respBody, &plain); err == nil && plain.Text != "" {
			result.Segments = []Segment{{
				Start:      0,
				End:        request.Window.End - request.Window.Start,
				Text:       plain.Text,
				Confidence: plain.Confidence,
			}}
		}
	}

	return &result, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (b *HTTPBackend) createMultipartRequest(request *Request, wav []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	w := request.Window
	filename := fmt.Sprintf("%s_%06d.wav", request.SessionID, w.Index)
	fileWriter, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(wav); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"session_id", request.SessionID},
		{"window", strconv.Itoa(w.Index)},
		{"sample_rate", strconv.Itoa(w.SampleRate)},
		{"start", strconv.FormatFloat(w.Start, 'f', 3, 64)},
		{"end", strconv.FormatFloat(w.End, 'f', 3, 64)},
		{"overlap", strconv.FormatFloat(w.Overlap, 'f', 3, 64)},
		{"final", strconv.FormatBool(w.Final)},
		{"diarize", strconv.FormatBool(request.Diarize)},
		{"response_format", "json"},
	}
	if request.Language != "" {
		fields = append(fields, [2]string{"language", request.Language})
	}
	if request.Model != "" {
		fields = append(fields, [2]string{"model", request.Model})
	}

	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", field[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func (b *HTTPBackend) setAuth(req *http.Request) {
	if b.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.config.APIKey)
	}
}

// isRetryableError reports whether a failed attempt is worth repeating:
// 5xx other than 507, 429, timeouts and connection errors
func isRetryableError(err error) bool {
	if errors.Is(err, ErrResourceExhausted) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// healthURL replaces the endpoint path with /health
func healthURL(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}

// Statistics methods
func (b *HTTPBackend) incrementTotalRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRequests++
}

func (b *HTTPBackend) incrementSuccessRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.successRequests++
}

func (b *HTTPBackend) incrementFailedRequests() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failedRequests++
}

func (b *HTTPBackend) incrementTotalRetries() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalRetries++
}

func (b *HTTPBackend) updateAvgResponseTime(responseTime time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.avgResponseTime == 0 {
		b.avgResponseTime = responseTime
	} else {
		b.avgResponseTime = (b.avgResponseTime + responseTime) / 2
	}
}

// GetStats returns current backend statistics
func (b *HTTPBackend) GetStats() HTTPStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	successRate := float64(0)
	if b.totalRequests > 0 {
		successRate = float64(b.successRequests) / float64(b.totalRequests) * 100
	}

	return HTTPStats{
		TotalRequests:   b.totalRequests,
		SuccessRequests: b.successRequests,
		FailedRequests:  b.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    b.totalRetries,
		AvgResponseTime: b.avgResponseTime,
		ActiveRequests:  len(b.semaphore),
	}
}
