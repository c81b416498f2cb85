package fanout

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// SubscribeFunc registers a feed at a consistent cut point
type SubscribeFunc func(ctx context.Context) (*Subscriber, error)

// HandlerConfig controls the subscriber WebSocket
type HandlerConfig struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxSubscribers int
}

// Handler serves GET /subscribe. The first message is the snapshot event,
// then live events as JSON text frames until the feed closes.
type Handler struct {
	subscribe   SubscribeFunc
	unsubscribe func(*Subscriber)
	count       func() int
	config      HandlerConfig
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewHandler creates the subscriber endpoint for broker feeds
func NewHandler(subscribe SubscribeFunc, broker *Broker, config HandlerConfig, logger *slog.Logger) *Handler {
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 20 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		subscribe:   subscribe,
		unsubscribe: broker.Unsubscribe,
		count:       broker.Count,
		config:      config,
		logger:      logger.With(slog.String("component", "subscribe_handler")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.config.MaxSubscribers > 0 && h.count() >= h.config.MaxSubscribers {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sub, err := h.subscribe(r.Context())
	if err != nil {
		h.closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}
	defer h.unsubscribe(sub)

	h.logger.Info("Subscriber connected",
		slog.Uint64("subscriber", sub.ID),
		slog.String("remote_addr", r.RemoteAddr))

	// Reads only detect the client going away
	left := make(chan struct{})
	go func() {
		defer close(left)
		conn.SetReadLimit(4096)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(h.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.C:
			if !ok {
				h.logger.Info("Subscriber feed closed",
					slog.Uint64("subscriber", sub.ID),
					slog.String("reason", sub.Reason()))
				code := websocket.CloseNormalClosure
				if sub.Reason() == ReasonSlow {
					code = websocket.ClosePolicyViolation
				}
				h.closeWith(conn, code, sub.Reason())
				return
			}
			if err := h.write(conn, ev); err != nil {
				h.logger.Debug("Subscriber write failed",
					slog.Uint64("subscriber", sub.ID),
					slog.String("error", err.Error()))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.config.WriteTimeout)); err != nil {
				return
			}
		case <-left:
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (h *Handler) closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(h.config.WriteTimeout))
}
