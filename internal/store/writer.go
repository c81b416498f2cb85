package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
)

// ErrWriterClosed is returned for writes submitted after Close
var ErrWriterClosed = errors.New("persistence writer closed")

var errQueueFull = errors.New("persistence queue full")

// WriterConfig controls the asynchronous sink
type WriterConfig struct {
	QueueSize  int
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
}

type job struct {
	name string
	run  func(ctx context.Context) error
	done chan error // nil for fire and forget
}

// Writer applies store writes in submission order on one goroutine so the
// session loop never waits on the database. Failed writes are retried with
// capped exponential backoff.
type Writer struct {
	store  *Store
	config WriterConfig
	logger *slog.Logger
	m      *metrics.Metrics

	jobs    chan job
	stopped chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewWriter starts the drain goroutine
func NewWriter(store *Store, config WriterConfig, logger *slog.Logger, m *metrics.Metrics) *Writer {
	if config.QueueSize <= 0 {
		config.QueueSize = 512
	}
	if config.RetryBase <= 0 {
		config.RetryBase = 200 * time.Millisecond
	}
	if config.RetryMax <= 0 {
		config.RetryMax = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Writer{
		store:   store,
		config:  config,
		logger:  logger.With(slog.String("component", "persistence")),
		m:       m,
		jobs:    make(chan job, config.QueueSize),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	go w.drain()

	return w
}

// Append queues an accepted event without blocking. When the queue is full
// the event is dropped and counted.
func (w *Writer) Append(ev event.Event) {
	err := w.trySubmit(job{
		name: "append_event",
		run: func(ctx context.Context) error {
			return w.store.AppendEvent(ctx, ev)
		},
	})
	if err != nil {
		w.m.RecordPersistenceDropped()
		w.logger.Warn("Dropping event write",
			slog.String("session_id", ev.SessionID),
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()))
	}
}

// CreateSession queues the session row. It blocks only while the queue is full.
func (w *Writer) CreateSession(ctx context.Context, rec SessionRecord) error {
	return w.submit(ctx, job{
		name: "create_session",
		run: func(ctx context.Context) error {
			return w.store.CreateSession(ctx, rec)
		},
	})
}

// Finalize queues the final session record behind every earlier write and
// waits until it is stored or ctx expires
func (w *Writer) Finalize(ctx context.Context, rec SessionRecord) error {
	return w.wait(ctx, job{
		name: "finalize_session",
		run: func(ctx context.Context) error {
			return w.store.Finalize(ctx, rec)
		},
	})
}

// StarHint stores a starred hint behind every earlier write, so a hint
// starred right after start finds its session row
func (w *Writer) StarHint(ctx context.Context, hint StarredHint) error {
	return w.wait(ctx, job{
		name: "star_hint",
		run: func(ctx context.Context) error {
			return w.store.StarHint(ctx, hint)
		},
	})
}

// Flush waits until every write queued before it has been applied
func (w *Writer) Flush(ctx context.Context) error {
	return w.wait(ctx, job{
		name: "flush",
		run:  func(context.Context) error { return nil },
	})
}

// Close stops accepting writes and drains the queue. Writes still queued
// when ctx expires are abandoned.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()

	select {
	case <-w.stopped:
		return nil
	case <-ctx.Done():
		w.cancel()
		<-w.stopped
		return fmt.Errorf("persistence drain: %w", ctx.Err())
	}
}

// trySubmit queues j without blocking
func (w *Writer) trySubmit(j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.jobs <- j:
	default:
		return errQueueFull
	}
	w.m.SetPersistenceQueue(len(w.jobs))
	return nil
}

// submit queues j, waiting for room until ctx expires
func (w *Writer) submit(ctx context.Context, j job) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrWriterClosed
	}

	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}
	w.m.SetPersistenceQueue(len(w.jobs))
	return nil
}

func (w *Writer) wait(ctx context.Context, j job) error {
	j.done = make(chan error, 1)
	if err := w.submit(ctx, j); err != nil {
		return err
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) drain() {
	defer close(w.stopped)

	for j := range w.jobs {
		w.m.SetPersistenceQueue(len(w.jobs))
		err := w.apply(j)
		if j.done != nil {
			j.done <- err
		}
	}
}

func (w *Writer) apply(j job) error {
	backoff := retry.NewExponential(w.config.RetryBase)
	backoff = retry.WithCappedDuration(w.config.RetryMax, backoff)
	backoff = retry.WithMaxRetries(uint64(max(w.config.MaxRetries, 0)), backoff)

	attempt := 0
	err := retry.Do(w.ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			w.m.RecordPersistenceRetry()
		}

		err := j.run(ctx)
		if err == nil || errors.Is(err, ErrNotFound) {
			return err
		}
		w.logger.Debug("Persistence write failed",
			slog.String("operation", j.name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		return retry.RetryableError(err)
	})

	w.m.RecordPersistenceWrite(j.name, err == nil)
	if err != nil {
		w.logger.Error("Persistence write abandoned",
			slog.String("operation", j.name),
			slog.Int("attempts", attempt),
			slog.String("error", err.Error()))
	}
	return err
}
