package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
)

// ErrClosed is returned by Next once the assembler is closed and every
// pending window has been consumed, and by Push after Flush or Close.
var ErrClosed = errors.New("audio assembler closed")

// AssemblerConfig contains window assembly parameters
type AssemblerConfig struct {
	SampleRate   int
	Window       time.Duration
	Overlap      time.Duration
	MaxPending   int
	StallTimeout time.Duration
}

// PushResult reports what a single Push changed
type PushResult struct {
	Emitted []int         // indices of windows queued by this push
	Dropped []int         // indices of unconsumed windows evicted by this push
	Resumed bool          // first frame after a reported stall
	Gap     time.Duration // capture timestamp gap before this frame, if larger than one frame
}

// AssemblerStats represents assembler statistics for monitoring
type AssemblerStats struct {
	Frames          uint64  `json:"frames"`
	WindowsEmitted  int     `json:"windows_emitted"`
	WindowsDropped  int     `json:"windows_dropped"`
	PendingWindows  int     `json:"pending_windows"`
	BufferedSamples int     `json:"buffered_samples"`
	CaptureGaps     int     `json:"capture_gaps"`
	AudioSeconds    float64 `json:"audio_seconds"`
	Stalled         bool    `json:"stalled"`
}

// Assembler buffers raw audio into overlapping windows of fixed length.
// Push, Flush and CheckStall are called by one producer; Next may be called
// concurrently by any number of consumers.
type Assembler struct {
	config AssemblerConfig
	logger *slog.Logger
	m      *metrics.Metrics

	windowSamples  int
	stepSamples    int
	overlapSamples int

	// Sample storage; samples[0] is absolute sample index base
	samples   []int16
	base      int
	total     int
	nextStart int
	lastEnd   int
	nextIndex int

	// Capture timing
	lastFrame       time.Time
	lastCapturedAt  time.Time
	lastFrameLength time.Duration
	firstCapturedAt time.Time
	stalled         bool

	// Pending queue of unconsumed windows
	pending []*Window
	notify  chan struct{}
	done    chan struct{}
	closed  bool

	// Statistics
	frames  uint64
	emitted int
	dropped int
	gaps    int

	mu sync.Mutex
}

// NewAssembler creates a new window assembler
func NewAssembler(config AssemblerConfig, logger *slog.Logger, m *metrics.Metrics) (*Assembler, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.Window <= 0 {
		return nil, fmt.Errorf("window duration must be positive, got %v", config.Window)
	}
	if config.Overlap < 0 || config.Overlap >= config.Window {
		return nil, fmt.Errorf("overlap %v must be in [0, %v)", config.Overlap, config.Window)
	}
	if config.MaxPending < 1 {
		return nil, fmt.Errorf("max pending windows must be at least 1, got %d", config.MaxPending)
	}
	if logger == nil {
		logger = slog.Default()
	}

	windowSamples := int(config.Window.Seconds() * float64(config.SampleRate))
	overlapSamples := int(config.Overlap.Seconds() * float64(config.SampleRate))

	return &Assembler{
		config:         config,
		logger:         logger.With(slog.String("component", "assembler")),
		m:              m,
		windowSamples:  windowSamples,
		overlapSamples: overlapSamples,
		stepSamples:    windowSamples - overlapSamples,
		samples:        make([]int16, 0, windowSamples*2),
		notify:         make(chan struct{}, 1),
		done:           make(chan struct{}),
		lastFrame:      time.Now(),
	}, nil
}

// Push appends a frame of samples captured at capturedAt. Every complete
// window becomes available to Next. When the pending queue is full the
// oldest unconsumed window is evicted.
func (a *Assembler) Push(samples []int16, capturedAt time.Time) (PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var result PushResult
	if a.closed {
		return result, ErrClosed
	}

	now := time.Now()
	a.lastFrame = now
	a.frames++

	if a.stalled {
		a.stalled = false
		result.Resumed = true
		a.logger.Info("Capture resumed")
	}

	// Detect capture gaps from timestamps; offsets stay sample based
	frameLength := time.Duration(float64(len(samples)) / float64(a.config.SampleRate) * float64(time.Second))
	if !capturedAt.IsZero() {
		if a.firstCapturedAt.IsZero() {
			a.firstCapturedAt = capturedAt
		} else if !a.lastCapturedAt.IsZero() {
			expected := a.lastCapturedAt.Add(a.lastFrameLength)
			if gap := capturedAt.Sub(expected); gap > frameLength && gap > a.lastFrameLength {
				a.gaps++
				result.Gap = gap
				a.logger.Warn("Capture gap detected",
					slog.Duration("gap", gap),
					slog.Int("sample_offset", a.total))
			}
		}
		a.lastCapturedAt = capturedAt
		a.lastFrameLength = frameLength
	}

	a.samples = append(a.samples, samples...)
	a.total += len(samples)

	// Emit every complete window
	for a.total-a.nextStart >= a.windowSamples {
		w := a.cut(a.nextStart, a.nextStart+a.windowSamples, false)
		a.nextStart += a.stepSamples
		if evicted := a.enqueue(w); evicted >= 0 {
			result.Dropped = append(result.Dropped, evicted)
		}
		result.Emitted = append(result.Emitted, w.Index)
	}

	a.trim()

	return result, nil
}

// Flush emits the final partial window, if any audio arrived after the last
// emitted window, and closes the assembler for further input. Pending
// windows remain available to Next.
func (a *Assembler) Flush() (*Window, []int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, nil
	}

	var final *Window
	var dropped []int
	if a.total > a.lastEnd {
		final = a.cut(a.nextStart, a.total, true)
		if evicted := a.enqueue(final); evicted >= 0 {
			dropped = append(dropped, evicted)
		}
	}

	a.closed = true
	a.samples = nil
	close(a.done)

	a.logger.Debug("Assembler flushed",
		slog.Int("windows_emitted", a.emitted),
		slog.Int("windows_dropped", a.dropped),
		slog.Int("pending", len(a.pending)))

	return final, dropped
}

// Close stops the assembler and discards pending windows
func (a *Assembler) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = nil
	a.samples = nil
	a.m.SetPendingWindows(0)
	if !a.closed {
		a.closed = true
		close(a.done)
	}
}

// Next blocks until a window is available. It returns ErrClosed once the
// assembler is closed and drained.
func (a *Assembler) Next(ctx context.Context) (*Window, error) {
	for {
		a.mu.Lock()
		if len(a.pending) > 0 {
			w := a.pending[0]
			a.pending[0] = nil
			a.pending = a.pending[1:]
			remaining := len(a.pending)
			a.mu.Unlock()

			a.m.SetPendingWindows(remaining)
			if remaining > 0 {
				a.signal()
			}
			return w, nil
		}
		closed := a.closed
		a.mu.Unlock()

		if closed {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-a.notify:
		case <-a.done:
		}
	}
}

// CheckStall reports true exactly once when no frame has arrived for the
// stall timeout while the assembler is open. The next Push reports Resumed.
func (a *Assembler) CheckStall(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.stalled || a.config.StallTimeout <= 0 {
		return false
	}

	if now.Sub(a.lastFrame) < a.config.StallTimeout {
		return false
	}

	a.stalled = true
	a.logger.Warn("Capture stalled",
		slog.Duration("silence", now.Sub(a.lastFrame)),
		slog.Duration("stall_timeout", a.config.StallTimeout))

	return true
}

// GetStats returns current assembler statistics
func (a *Assembler) GetStats() AssemblerStats {
	a.mu.Lock()
	defer a.mu.Unlock()

	return AssemblerStats{
		Frames:          a.frames,
		WindowsEmitted:  a.emitted,
		WindowsDropped:  a.dropped,
		PendingWindows:  len(a.pending),
		BufferedSamples: len(a.samples),
		CaptureGaps:     a.gaps,
		AudioSeconds:    float64(a.total) / float64(a.config.SampleRate),
		Stalled:         a.stalled,
	}
}

// cut copies samples [start, end) into a new window. Caller holds mu.
func (a *Assembler) cut(start, end int, final bool) *Window {
	samples := make([]int16, end-start)
	copy(samples, a.samples[start-a.base:end-a.base])

	overlap := 0
	if a.nextIndex > 0 && a.lastEnd > start {
		overlap = a.lastEnd - start
	}

	rate := float64(a.config.SampleRate)
	w := &Window{
		Index:      a.nextIndex,
		Samples:    samples,
		SampleRate: a.config.SampleRate,
		Start:      float64(start) / rate,
		End:        float64(end) / rate,
		Overlap:    float64(overlap) / rate,
		Final:      final,
		CapturedAt: time.Now(),
	}
	if !a.firstCapturedAt.IsZero() {
		w.CapturedAt = a.firstCapturedAt.Add(time.Duration(w.Start * float64(time.Second)))
	}

	a.nextIndex++
	a.lastEnd = end
	a.emitted++
	a.m.RecordWindowEmitted()

	return w
}

// enqueue appends w to the pending queue, evicting the oldest unconsumed
// window when full. It returns the evicted index or -1. Caller holds mu.
func (a *Assembler) enqueue(w *Window) int {
	evicted := -1
	if len(a.pending) >= a.config.MaxPending {
		oldest := a.pending[0]
		a.pending[0] = nil
		a.pending = a.pending[1:]
		evicted = oldest.Index
		a.dropped++
		a.m.RecordWindowDropped()
		a.logger.Warn("Dropping unconsumed audio window",
			slog.Int("window", oldest.Index),
			slog.Float64("start", oldest.Start),
			slog.Int("max_pending", a.config.MaxPending))
	}

	a.pending = append(a.pending, w)
	a.m.SetPendingWindows(len(a.pending))
	a.signal()

	return evicted
}

// trim releases samples no future window can reference. Caller holds mu.
func (a *Assembler) trim() {
	drop := a.nextStart - a.base
	if drop <= 0 || drop < a.windowSamples {
		return
	}

	copy(a.samples, a.samples[drop:])
	a.samples = a.samples[:len(a.samples)-drop]
	a.base += drop
}

// signal wakes one waiting consumer without blocking
func (a *Assembler) signal() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}
