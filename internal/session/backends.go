package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/extraction"
	"github.com/Strange-Jackle/meeting-monitor/internal/insight"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
	"github.com/Strange-Jackle/meeting-monitor/internal/simulation"
	"github.com/Strange-Jackle/meeting-monitor/internal/transcription"
)

// NewOptions derives pipeline parameters from the service configuration
func NewOptions(cfg *config.Config) Options {
	competitors := extraction.NewCompetitorList(cfg.Extraction.Competitors)
	extractor := extraction.Chain{
		extraction.NewLexiconExtractor(extraction.Lexicon(cfg.Extraction, competitors)),
		extraction.PatternExtractor{},
	}

	return Options{
		SampleRate:   cfg.Audio.SampleRate,
		Window:       cfg.Audio.GetWindowDuration(),
		Overlap:      cfg.Audio.GetOverlapDuration(),
		MaxPending:   cfg.Audio.MaxPendingWindows,
		StallTimeout: cfg.Session.GetStallTimeout(),

		Workers:     cfg.Transcription.Workers,
		Diarization: cfg.Transcription.Diarization,
		Transcription: transcription.StageConfig{
			Timeout:             cfg.Transcription.GetTimeoutDuration(),
			Language:            cfg.Transcription.Language,
			Model:               cfg.Transcription.Model,
			FallbackModel:       cfg.Transcription.FallbackModel,
			Diarize:             cfg.Transcription.Diarization == "labels",
			RepetitionThreshold: cfg.Transcription.RepetitionThreshold,
			SilenceThreshold:    cfg.Audio.SilenceThreshold,
		},

		Extractor:         extractor,
		Classifier:        competitors,
		ExtractionTimeout: cfg.Extraction.GetTimeoutDuration(),

		Insight: insight.StageConfig{
			Timeout:         cfg.Insight.GetTimeoutDuration(),
			ResearchTimeout: cfg.Insight.Research.GetTimeoutDuration(),
			MaxHints:        cfg.Insight.MaxHints,
			MaxConcurrent:   cfg.Insight.MaxConcurrent,
			PointWordBudget: cfg.Insight.PointWordBudget,
			InsightTTL:      cfg.Session.GetInsightTTL(),
		},
		InsightInterval:        cfg.Session.GetInsightInterval(),
		RecentContext:          cfg.Session.GetRecentContext(),
		MaxBattlecardsPerCycle: cfg.Insight.MaxBattlecardsPerCycle,

		DrainTimeout:   cfg.Session.GetDrainTimeout(),
		SummaryTimeout: cfg.Session.GetSummaryTimeout(),
	}
}

// ConfigBackends builds live and simulated components from configuration
type ConfigBackends struct {
	cfg    *config.Config
	script *simulation.Script
	logger *slog.Logger
	m      *metrics.Metrics
}

// NewConfigBackends loads the simulation script and checks that the
// configured backends can be built
func NewConfigBackends(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*ConfigBackends, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		script *simulation.Script
		err    error
	)
	if cfg.Simulation.ScriptPath != "" {
		script, err = simulation.Load(cfg.Simulation.ScriptPath)
	} else {
		script, err = simulation.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load simulation script: %w", err)
	}

	return &ConfigBackends{
		cfg:    cfg,
		script: script,
		logger: logger,
		m:      m,
	}, nil
}

// Components implements Backends
func (b *ConfigBackends) Components(ctx context.Context, sim bool) (*Components, error) {
	if sim {
		return b.simulated()
	}
	return b.live(ctx)
}

func (b *ConfigBackends) simulated() (*Components, error) {
	audioCfg := b.cfg.Audio
	source, err := simulation.NewSource(simulation.SourceConfig{
		SampleRate:    audioCfg.SampleRate,
		FrameInterval: b.cfg.Simulation.GetFrameInterval(),
		AudioSeconds:  b.script.AudioSeconds(audioCfg.WindowDuration, audioCfg.OverlapDuration),
		Screens:       b.script.Screens,
	}, b.logger)
	if err != nil {
		return nil, fmt.Errorf("simulation source: %w", err)
	}

	return &Components{
		Primary:    b.script.Backend(),
		Provider:   b.script.Provider(),
		Researcher: insight.NewScriptedResearcher(insight.DefaultMockCompetitors),
		Source:     source,
	}, nil
}

func (b *ConfigBackends) live(ctx context.Context) (*Components, error) {
	comps := &Components{}
	tc := b.cfg.Transcription

	switch tc.Backend {
	case "http":
		primary, err := transcription.NewHTTPBackend(transcription.HTTPConfig{
			Name:          "primary",
			Endpoint:      tc.Endpoint,
			APIKey:        tc.APIKey,
			Timeout:       tc.GetTimeoutDuration(),
			MaxRetries:    tc.MaxRetries,
			MaxConcurrent: tc.MaxConcurrent,
			BaseBackoff:   500 * time.Millisecond,
		}, b.logger, b.m)
		if err != nil {
			return nil, fmt.Errorf("transcription backend: %w", err)
		}
		comps.Primary = primary
	case "scripted":
		comps.Primary = b.script.Backend()
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", tc.Backend)
	}

	if tc.FallbackEndpoint != "" {
		fallback, err := transcription.NewHTTPBackend(transcription.HTTPConfig{
			Name:          "fallback",
			Endpoint:      tc.FallbackEndpoint,
			APIKey:        tc.APIKey,
			Timeout:       tc.GetTimeoutDuration(),
			MaxRetries:    tc.MaxRetries,
			MaxConcurrent: tc.MaxConcurrent,
			BaseBackoff:   500 * time.Millisecond,
		}, b.logger, b.m)
		if err != nil {
			return nil, fmt.Errorf("fallback transcription backend: %w", err)
		}
		comps.Fallback = fallback
	}

	ic := b.cfg.Insight
	switch ic.Provider {
	case "agent":
		provider, err := insight.NewAgentProvider(insight.AgentConfig{
			Model:     ic.Model,
			APIKey:    ic.APIKey,
			BaseURL:   ic.BaseURL,
			MaxTokens: ic.MaxTokens,
		}, b.logger)
		if err != nil {
			return nil, fmt.Errorf("insight provider: %w", err)
		}
		comps.Provider = provider
	case "gemini":
		provider, err := insight.NewGeminiProvider(ctx, insight.GeminiConfig{
			APIKey: ic.APIKey,
			Model:  ic.Model,
		}, b.logger)
		if err != nil {
			return nil, fmt.Errorf("insight provider: %w", err)
		}
		comps.Provider = provider
	case "scripted":
		comps.Provider = b.script.Provider()
	default:
		return nil, fmt.Errorf("unknown insight provider %q", ic.Provider)
	}

	if ic.Research.Enabled {
		switch ic.Research.Provider {
		case "gemini":
			researcher, err := insight.NewGeminiResearcher(ctx, insight.GeminiConfig{
				APIKey: ic.APIKey,
				Model:  ic.Research.Model,
			}, b.logger)
			if err != nil {
				return nil, fmt.Errorf("research provider: %w", err)
			}
			comps.Researcher = researcher
		default:
			comps.Researcher = insight.NewScriptedResearcher(insight.DefaultMockCompetitors)
		}
	}

	return comps, nil
}
