package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/audio"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/vad"
)

// StageName identifies this stage in recoverable error reports
const StageName = "transcription"

// StageConfig contains per session stage parameters
type StageConfig struct {
	SessionID           string
	Timeout             time.Duration
	Language            string
	Model               string
	FallbackModel       string
	Diarize             bool
	RepetitionThreshold int
	SilenceThreshold    float64
}

// Output is the stage result for one window. Segments are already filtered
// and carry window relative times.
type Output struct {
	Window   *audio.Window
	Segments []Segment
	Silent   bool
	Filtered int
	Mode     *ModeChange
	Elapsed  time.Duration
}

// Stage wraps a transcription backend with a hard timeout, a silence gate,
// the hallucination filter and degraded mode switching. It is safe for use
// by several workers at once.
type Stage struct {
	config   StageConfig
	primary  Backend
	fallback Backend
	filter   *Filter
	gate     *vad.Processor
	logger   *slog.Logger
	m        *metrics.Metrics

	active   Backend
	model    string
	diarize  bool
	degraded bool

	mu sync.RWMutex
}

// NewStage creates a transcription stage. fallback may be nil, in which
// case degraded mode disables diarization on the primary backend.
func NewStage(primary, fallback Backend, config StageConfig, logger *slog.Logger, m *metrics.Metrics) (*Stage, error) {
	if primary == nil {
		return nil, fmt.Errorf("primary backend is required")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gate, err := vad.NewProcessor(config.SilenceThreshold, vad.DefaultFrameSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence gate: %w", err)
	}

	return &Stage{
		config:   config,
		primary:  primary,
		fallback: fallback,
		filter:   NewFilter(config.RepetitionThreshold),
		gate:     gate,
		logger:   logger.With(slog.String("component", "transcription"), slog.String("session_id", config.SessionID)),
		m:        m,
		active:   primary,
		model:    config.Model,
		diarize:  config.Diarize,
	}, nil
}

// Ready probes the primary backend
func (s *Stage) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	return s.primary.Ready(ctx)
}

// Degraded reports whether the stage has switched to degraded mode
func (s *Stage) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// Diarizing reports whether backend speaker tags are still requested
func (s *Stage) Diarizing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.diarize
}

// Transcribe converts one window into filtered segments. On failure it
// returns an Output with no segments and a *RecoverableError.
func (s *Stage) Transcribe(ctx context.Context, w *audio.Window) (*Output, error) {
	startTime := time.Now()
	out := &Output{Window: w}

	if !s.gate.Process(w.Samples).HasVoice {
		out.Silent = true
		s.m.RecordSilentWindow()
		s.logger.Debug("Skipping silent window",
			slog.Int("window", w.Index),
			slog.Float64("rms", w.RMS()))
		return out, nil
	}

	result, err := s.call(ctx, w)
	if errors.Is(err, ErrResourceExhausted) {
		if mode := s.degrade(err); mode != nil {
			out.Mode = mode
			result, err = s.call(ctx, w)
		}
	}
	out.Elapsed = time.Since(startTime)

	if err != nil {
		s.logger.Warn("Window transcription failed",
			slog.Int("window", w.Index),
			slog.Duration("elapsed", out.Elapsed),
			slog.String("error", err.Error()))
		return out, &RecoverableError{Stage: StageName, Window: w.Index, Err: err}
	}

	for _, seg := range result.Segments {
		seg.Text = strings.TrimSpace(seg.Text)
		if reason := s.filter.Check(seg.Text); reason != "" {
			out.Filtered++
			s.m.RecordSegmentFiltered(reason)
			s.logger.Debug("Dropping hallucinated segment",
				slog.Int("window", w.Index),
				slog.String("reason", reason),
				slog.String("text", seg.Text))
			continue
		}
		out.Segments = append(out.Segments, seg)
	}

	s.logger.Debug("Window transcribed",
		slog.Int("window", w.Index),
		slog.Int("segments", len(out.Segments)),
		slog.Int("filtered", out.Filtered),
		slog.Duration("elapsed", out.Elapsed))

	return out, nil
}

// call runs one backend request under the stage timeout
func (s *Stage) call(ctx context.Context, w *audio.Window) (*Result, error) {
	s.mu.RLock()
	backend, model, diarize := s.active, s.model, s.diarize
	s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	result, err := backend.Transcribe(ctx, &Request{
		SessionID: s.config.SessionID,
		Window:    w,
		Language:  s.config.Language,
		Model:     model,
		Diarize:   diarize,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", backend.Name(), err)
	}
	if result == nil {
		return &Result{}, nil
	}
	return result, nil
}

// degrade switches into degraded mode once. It returns nil when the stage
// was already degraded.
func (s *Stage) degrade(cause error) *ModeChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.degraded {
		return nil
	}
	s.degraded = true

	mode := &ModeChange{Reason: cause.Error()}
	if s.fallback != nil {
		s.active = s.fallback
		if s.config.FallbackModel != "" {
			s.model = s.config.FallbackModel
		}
		mode.Backend = s.fallback.Name()
	} else {
		s.diarize = false
		mode.Backend = s.active.Name()
		mode.DiarizationDisabled = true
	}

	s.logger.Warn("Entering degraded transcription mode", slog.String("mode", mode.String()))

	return mode
}
