package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// RedisConfig selects the relay target
type RedisConfig struct {
	Addr     string
	Password string
	Channel  string
	Buffer   int
	Timeout  time.Duration
}

// RedisRelay republishes every event as JSON on a Redis pub/sub channel.
// Events are queued and published by one goroutine, so order is kept and
// a slow Redis never reaches the session owner.
type RedisRelay struct {
	client  *redis.Client
	channel string
	timeout time.Duration
	logger  *slog.Logger

	queue   chan event.Event
	stopped chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRedisRelay connects to Redis and starts the publisher
func NewRedisRelay(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*RedisRelay, error) {
	if cfg.Channel == "" {
		cfg.Channel = "meeting-monitor:events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}

	r := &RedisRelay{
		client:  client,
		channel: cfg.Channel,
		timeout: cfg.Timeout,
		logger:  logger.With(slog.String("component", "redis_relay")),
		queue:   make(chan event.Event, cfg.Buffer),
		stopped: make(chan struct{}),
	}
	go r.run()

	r.logger.Info("Redis relay connected",
		slog.String("addr", cfg.Addr),
		slog.String("channel", cfg.Channel))

	return r, nil
}

// Publish queues ev, dropping it when the queue is full
func (r *RedisRelay) Publish(ev event.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- ev:
	default:
		r.logger.Warn("Redis relay queue full, dropping event",
			slog.String("session_id", ev.SessionID),
			slog.Uint64("seq", ev.Seq))
	}
}

// Close drains the queue and closes the client
func (r *RedisRelay) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.stopped:
	case <-ctx.Done():
	}
	return r.client.Close()
}

func (r *RedisRelay) run() {
	defer close(r.stopped)

	for ev := range r.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			r.logger.Error("Failed to encode event", slog.String("error", err.Error()))
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err = r.client.Publish(ctx, r.channel, payload).Err()
		cancel()
		if err != nil {
			r.logger.Warn("Redis publish failed",
				slog.Uint64("seq", ev.Seq),
				slog.String("error", err.Error()))
		}
	}
}
