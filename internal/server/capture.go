package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/protocol"
	"github.com/Strange-Jackle/meeting-monitor/internal/session"
)

const (
	defaultCaptureQueue = 256
	captureReadLimit    = protocol.HeaderSize + protocol.MaxPayloadSize

	sourceAudio = "audio"
)

// CaptureSink receives decoded capture input
type CaptureSink interface {
	PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error
	PushScreen(ctx context.Context, screen insight.Screen) error
	ReportDeviceLost(ctx context.Context, source string, permanent bool, detail string) error
}

// CaptureConfig controls the capture ingress
type CaptureConfig struct {
	MaxConns  int // 0 means unlimited
	QueueSize int // frames buffered per connection
}

// CaptureHandler serves GET /capture. Each connection carries binary
// capture frames from one client. A receive loop queues frames and a
// single processor hands them to the session in arrival order.
type CaptureHandler struct {
	sink     CaptureSink
	config   CaptureConfig
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	// Statistics
	mu              sync.RWMutex
	connections     int
	framesReceived  uint64
	framesProcessed uint64
	framesDropped   uint64
	framesRejected  uint64
	decodeErrors    uint64
}

// captureFrame is a received frame with its arrival time
type captureFrame struct {
	data      []byte
	timestamp time.Time
}

// NewCaptureHandler creates the capture ingress handler
func NewCaptureHandler(sink CaptureSink, cfg CaptureConfig, logger *slog.Logger, m *metrics.Metrics) *CaptureHandler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultCaptureQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureHandler{
		sink:    sink,
		config:  cfg,
		logger:  logger.With(slog.String("component", "capture")),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 << 10,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (c *CaptureHandler) acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.MaxConns > 0 && c.connections >= c.config.MaxConns {
		return false
	}
	c.connections++
	return true
}

func (c *CaptureHandler) release() {
	c.mu.Lock()
	c.connections--
	c.mu.Unlock()
}

func (c *CaptureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !c.acquire() {
		http.Error(w, "too many capture connections", http.StatusServiceUnavailable)
		return
	}
	defer c.release()

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(captureReadLimit)

	// Queued frames are still delivered after the client hangs up
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	remote := r.RemoteAddr
	c.logger.Info("Capture client connected", slog.String("remote_addr", remote))

	frames := make(chan *captureFrame, c.config.QueueSize)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.frameProcessor(ctx, frames, remote)
	}()

	abnormal := c.receiveLoop(conn, frames, remote)
	close(frames)
	wg.Wait()

	if abnormal {
		// The client vanished without a close frame: the capture device
		// is gone until it reconnects
		err := c.sink.ReportDeviceLost(ctx, sourceAudio, false, "capture connection lost")
		if err != nil && !errors.Is(err, session.ErrNoSession) {
			c.logger.Warn("Failed to report capture loss", slog.String("error", err.Error()))
		}
	}

	c.logger.Info("Capture client disconnected", slog.String("remote_addr", remote))
}

// receiveLoop reads frames until the connection ends. It reports whether
// the connection ended without a normal close.
func (c *CaptureHandler) receiveLoop(conn *websocket.Conn, frames chan<- *captureFrame, remote string) bool {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return false
			}
			c.logger.Debug("Capture read ended",
				slog.String("remote_addr", remote),
				slog.String("error", err.Error()))
			return true
		}

		if msgType != websocket.BinaryMessage {
			c.logger.Debug("Ignoring non-binary capture message", slog.String("remote_addr", remote))
			continue
		}

		c.mu.Lock()
		c.framesReceived++
		c.mu.Unlock()

		select {
		case frames <- &captureFrame{data: data, timestamp: time.Now()}:
		default:
			c.mu.Lock()
			c.framesDropped++
			c.mu.Unlock()
			c.logger.Warn("Capture queue full, dropping frame",
				slog.String("remote_addr", remote),
				slog.Int("frame_size", len(data)),
			)
		}
	}
}

// frameProcessor drains the queue in order
func (c *CaptureHandler) frameProcessor(ctx context.Context, frames <-chan *captureFrame, remote string) {
	for f := range frames {
		c.handleFrame(ctx, f, remote)
	}
}

// handleFrame decodes one frame and forwards it to the session
func (c *CaptureHandler) handleFrame(ctx context.Context, f *captureFrame, remote string) {
	frame, err := protocol.Decode(f.data)
	if err != nil {
		c.mu.Lock()
		c.decodeErrors++
		c.mu.Unlock()
		c.metrics.RecordDecodeError()

		c.logger.Warn("Failed to decode capture frame",
			slog.String("remote_addr", remote),
			slog.Int("frame_size", len(f.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	typeName := protocol.TypeName(frame.Header.Type)
	c.metrics.RecordCaptureFrame(typeName)

	capturedAt := frame.Header.CapturedAt()
	if frame.Header.CapturedAtMs == 0 {
		capturedAt = f.timestamp
	}

	switch frame.Header.Type {
	case protocol.FrameTypeAudio:
		samples, serr := audio.SamplesFromPCM16(frame.Audio)
		if serr != nil {
			err = serr
			break
		}
		err = c.sink.PushAudio(ctx, samples, capturedAt)
	case protocol.FrameTypeScreen:
		err = c.sink.PushScreen(ctx, insight.Screen{
			Text:       frame.Screen.Text,
			MIME:       frame.Screen.MIME,
			Image:      frame.Screen.Image,
			CapturedAt: capturedAt,
		})
	case protocol.FrameTypeDeviceLost:
		source, detail := deviceLostSource(frame.Reason)
		err = c.sink.ReportDeviceLost(ctx, source, frame.Header.Permanent(), detail)
	}

	if err != nil {
		c.mu.Lock()
		c.framesRejected++
		c.mu.Unlock()

		level := slog.LevelWarn
		if errors.Is(err, session.ErrNoSession) || errors.Is(err, context.Canceled) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "Capture frame rejected",
			slog.String("type", typeName),
			slog.Uint64("sequence", uint64(frame.Header.Sequence)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.mu.Lock()
	c.framesProcessed++
	c.mu.Unlock()
}

// deviceLostSource splits an optional "screen:" or "audio:" prefix off a
// device-lost reason. Unprefixed reasons refer to the audio device.
func deviceLostSource(reason string) (string, string) {
	for _, source := range []string{sourceAudio, event.SourceScreen} {
		if rest, ok := strings.CutPrefix(reason, source+":"); ok {
			return source, strings.TrimSpace(rest)
		}
	}
	return sourceAudio, reason
}

// GetStatistics returns current capture statistics
func (c *CaptureHandler) GetStatistics() CaptureStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CaptureStatistics{
		Connections:     c.connections,
		FramesReceived:  c.framesReceived,
		FramesProcessed: c.framesProcessed,
		FramesDropped:   c.framesDropped,
		FramesRejected:  c.framesRejected,
		DecodeErrors:    c.decodeErrors,
	}
}

// CaptureStatistics represents capture ingress counters
type CaptureStatistics struct {
	Connections     int    `json:"connections"`
	FramesReceived  uint64 `json:"frames_received"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesRejected  uint64 `json:"frames_rejected"`
	DecodeErrors    uint64 `json:"decode_errors"`
}
