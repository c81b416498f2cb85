package simulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
)

// Sink receives capture input
type Sink interface {
	PushAudio(ctx context.Context, samples []int16, capturedAt time.Time) error
	PushScreen(ctx context.Context, screen insight.Screen) error
}

// SourceConfig configures the synthetic capture source
type SourceConfig struct {
	SampleRate    int
	FrameDuration time.Duration // audio carried per frame
	FrameInterval time.Duration // wall clock pause between frames, 0 runs flat out
	AudioSeconds  float64
	Screens       []ScriptScreen
}

// Source produces tone audio and scripted screen snapshots. Scripted
// transcripts are keyed by window index, so the audio only needs to carry
// voice level energy.
type Source struct {
	config SourceConfig
	logger *slog.Logger
}

// NewSource creates a synthetic capture source
func NewSource(config SourceConfig, logger *slog.Logger) (*Source, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.FrameDuration <= 0 {
		config.FrameDuration = 100 * time.Millisecond
	}
	if config.AudioSeconds <= 0 {
		return nil, fmt.Errorf("audio duration must be positive, got %f", config.AudioSeconds)
	}
	if logger == nil {
		logger = slog.Default()
	}

	screens := append([]ScriptScreen(nil), config.Screens...)
	sort.SliceStable(screens, func(i, j int) bool { return screens[i].At < screens[j].At })
	config.Screens = screens

	return &Source{
		config: config,
		logger: logger.With(slog.String("component", "simulation")),
	}, nil
}

// Run feeds the sink until the scripted audio is exhausted or ctx ends
func (s *Source) Run(ctx context.Context, sink Sink) error {
	frameSamples := int(s.config.FrameDuration.Seconds() * float64(s.config.SampleRate))
	totalSamples := int(s.config.AudioSeconds * float64(s.config.SampleRate))
	start := time.Now()

	var ticker *time.Ticker
	if s.config.FrameInterval > 0 {
		ticker = time.NewTicker(s.config.FrameInterval)
		defer ticker.Stop()
	}

	s.logger.Info("Simulated capture started",
		slog.Float64("audio_seconds", s.config.AudioSeconds),
		slog.Int("screens", len(s.config.Screens)))

	nextScreen := 0
	for sent := 0; sent < totalSamples; {
		offset := float64(sent) / float64(s.config.SampleRate)
		for nextScreen < len(s.config.Screens) && s.config.Screens[nextScreen].At <= offset {
			screen := s.config.Screens[nextScreen]
			nextScreen++
			if err := sink.PushScreen(ctx, insight.Screen{
				Text:       screen.Text,
				CapturedAt: start.Add(seconds(screen.At)),
			}); err != nil {
				return fmt.Errorf("failed to push screen: %w", err)
			}
		}

		n := frameSamples
		if remaining := totalSamples - sent; n > remaining {
			n = remaining
		}
		if err := sink.PushAudio(ctx, Tone(sent, n, s.config.SampleRate), start.Add(seconds(offset))); err != nil {
			return fmt.Errorf("failed to push audio: %w", err)
		}
		sent += n

		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
	}

	s.logger.Info("Simulated capture finished", slog.Duration("elapsed", time.Since(start)))
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Tone returns n samples of a 220 Hz tone starting at sample offset
func Tone(offset, n, sampleRate int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		t := float64(offset+i) / float64(sampleRate)
		samples[i] = int16(0.3 * 32767 * math.Sin(2*math.Pi*220*t))
	}
	return samples
}
