package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
)

// Disconnect reasons
const (
	ReasonSlow   = "slow_consumer"
	ReasonClosed = "feed_closed"
	ReasonLeft   = "client_left"
)

// Relay forwards events outside the process. Publish must not block.
type Relay interface {
	Publish(ev event.Event)
	Close(ctx context.Context) error
}

// Subscriber is one live feed. C is closed when the feed ends; Reason
// then tells why.
type Subscriber struct {
	ID uint64
	C  <-chan event.Event

	ch     chan event.Event
	mu     sync.Mutex
	reason string
}

// Reason returns why the feed was closed, or "" while it is open
func (s *Subscriber) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Broker holds the subscriber set. Publish, Subscribe and CloseAll are
// called by the session owner; Unsubscribe may be called from any goroutine.
type Broker struct {
	buffer int
	logger *slog.Logger
	m      *metrics.Metrics
	relays []Relay

	mu     sync.Mutex
	subs   map[uint64]*Subscriber
	nextID uint64
}

// NewBroker creates a broker with per subscriber buffers of size buffer
func NewBroker(buffer int, logger *slog.Logger, m *metrics.Metrics, relays ...Relay) *Broker {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		buffer: buffer,
		logger: logger.With(slog.String("component", "fanout")),
		m:      m,
		relays: relays,
		subs:   make(map[uint64]*Subscriber),
	}
}

// Subscribe registers a feed whose first message is snapshot. Events
// published after this call follow it with no gap.
func (b *Broker) Subscribe(snapshot event.Event) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ch := make(chan event.Event, b.buffer+1)
	ch <- snapshot
	sub := &Subscriber{ID: b.nextID, C: ch, ch: ch}
	b.subs[sub.ID] = sub
	b.m.SetSubscribers(len(b.subs))

	b.logger.Debug("Subscriber added",
		slog.Uint64("subscriber", sub.ID),
		slog.Uint64("snapshot_seq", snapshot.Seq),
		slog.Int("subscribers", len(b.subs)))

	return sub
}

// Publish delivers ev to every subscriber and relay. A subscriber whose
// buffer is full is disconnected instead of delaying the others.
func (b *Broker) Publish(ev event.Event) {
	b.mu.Lock()
	for id, sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			b.logger.Warn("Disconnecting slow subscriber",
				slog.Uint64("subscriber", id),
				slog.Uint64("seq", ev.Seq),
				slog.Int("buffer", b.buffer))
			b.remove(id, ReasonSlow)
		}
	}
	b.mu.Unlock()

	for _, r := range b.relays {
		r.Publish(ev)
	}
}

// Unsubscribe removes a feed. It is safe to call more than once.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remove(sub.ID, ReasonLeft)
}

// CloseAll ends every feed, normally right after the terminal event
func (b *Broker) CloseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id := range b.subs {
		b.remove(id, ReasonClosed)
	}
}

// Count returns the number of connected subscribers
func (b *Broker) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every feed and stops the relays
func (b *Broker) Close(ctx context.Context) error {
	b.CloseAll()

	var firstErr error
	for _, r := range b.relays {
		if err := r.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// remove closes and forgets a subscriber. Caller holds mu.
func (b *Broker) remove(id uint64, reason string) {
	sub, ok := b.subs[id]
	if !ok {
		return
	}
	delete(b.subs, id)

	sub.mu.Lock()
	sub.reason = reason
	sub.mu.Unlock()
	close(sub.ch)

	b.m.SetSubscribers(len(b.subs))
	b.m.RecordSubscriberDisconnected(reason)
}
