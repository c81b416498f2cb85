package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
	"github.com/Strange-Jackle/meeting-monitor/internal/metrics"
)

// StageName identifies this stage in recoverable error reports
const StageName = "insight"

// Operation names used in recoverable error reports and metrics
const (
	OpHints      = "hints"
	OpBattlecard = "battlecard"
	OpResearch   = "research"
	OpSummary    = "summary"
)

// ErrSkipped is returned when a hint cycle is not run
var ErrSkipped = errors.New("hint cycle skipped")

// StageConfig contains insight scheduling limits
type StageConfig struct {
	Timeout           time.Duration
	ResearchTimeout   time.Duration
	MaxHints          int
	MaxConcurrent     int
	PointWordBudget   int
	InsightTTL        time.Duration
	MinContext        int // characters of recent context needed for a hint cycle
	BattlecardContext int // trailing characters of transcript sent with a battlecard request
}

// HintOutcome is one finished hint cycle
type HintOutcome struct {
	Cycle       string
	Insights    []event.Insight
	Score       float64
	GeneratedAt time.Time // when the cycle was dispatched
	Fallback    bool
	Err         error // provider error behind a fallback
}

// Stage calls the provider with per kind concurrency limits and hard
// timeouts. Hints, battlecards and research never wait on each other.
type Stage struct {
	provider   Provider
	researcher Researcher
	config     StageConfig
	logger     *slog.Logger
	m          *metrics.Metrics

	cardSem     chan struct{}
	researchSem chan struct{}
	hintRunning atomic.Bool
}

// NewStage creates an insight stage. researcher may be nil to disable
// research.
func NewStage(provider Provider, researcher Researcher, config StageConfig, logger *slog.Logger, m *metrics.Metrics) (*Stage, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", config.Timeout)
	}
	if config.ResearchTimeout <= 0 {
		config.ResearchTimeout = config.Timeout
	}
	if config.MaxHints <= 0 {
		config.MaxHints = 3
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 2
	}
	if config.InsightTTL <= 0 {
		config.InsightTTL = 30 * time.Second
	}
	if config.MinContext <= 0 {
		config.MinContext = 20
	}
	if config.BattlecardContext <= 0 {
		config.BattlecardContext = 500
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Stage{
		provider:    provider,
		researcher:  researcher,
		config:      config,
		logger:      logger.With(slog.String("component", "insight"), slog.String("provider", provider.Name())),
		m:           m,
		cardSem:     make(chan struct{}, config.MaxConcurrent),
		researchSem: make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// HasResearcher reports whether battlecards get research amendments
func (s *Stage) HasResearcher() bool {
	return s.researcher != nil
}

// Hints runs one hint cycle. It returns ErrSkipped when the previous cycle
// is still running or the context is too short. Provider failures produce
// a fallback outcome.
func (s *Stage) Hints(ctx context.Context, req HintRequest) (*HintOutcome, error) {
	if len(strings.TrimSpace(req.Context)) < s.config.MinContext {
		s.m.RecordHintCycleSkipped()
		return nil, ErrSkipped
	}
	if !s.hintRunning.CompareAndSwap(false, true) {
		s.m.RecordHintCycleSkipped()
		s.logger.Debug("Previous hint cycle still running")
		return nil, ErrSkipped
	}
	defer s.hintRunning.Store(false)

	generatedAt := time.Now()
	if req.MaxHints <= 0 || req.MaxHints > s.config.MaxHints {
		req.MaxHints = s.config.MaxHints
	}

	callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	result, err := s.provider.Hints(callCtx, req)
	cancel()
	s.m.RecordInsightCall(OpHints, err == nil, time.Since(generatedAt).Seconds())

	outcome := &HintOutcome{Cycle: ulid.Make().String(), GeneratedAt: generatedAt}

	var hints []Hint
	if err == nil {
		hints = ClampHints(result.Hints, req.MaxHints)
		outcome.Score = ClampScore(result.Score)
		if len(hints) == 0 {
			err = fmt.Errorf("provider returned no usable hints")
		}
	}
	if err != nil {
		s.m.RecordInsightFallback(OpHints)
		s.logger.Warn("Hint generation failed, using fallback", slog.String("error", err.Error()))
		fallback := FallbackHints(req.MaxHints)
		hints = fallback.Hints
		outcome.Score = fallback.Score
		outcome.Fallback = true
		outcome.Err = err
	}

	for _, h := range hints {
		outcome.Insights = append(outcome.Insights, event.Insight{
			ID:          ulid.Make().String(),
			Cycle:       outcome.Cycle,
			Kind:        h.Kind,
			Text:        h.Text,
			Score:       outcome.Score,
			GeneratedAt: generatedAt,
			ExpiresAt:   generatedAt.Add(s.config.InsightTTL),
			Fallback:    outcome.Fallback,
		})
	}

	return outcome, nil
}

// Battlecard generates counter-points for a competitor from the trailing
// part of the transcript. The card is always returned; err reports the
// provider failure behind a fallback card.
func (s *Stage) Battlecard(ctx context.Context, sessionID, competitor, transcript string) (*event.Battlecard, error) {
	startTime := time.Now()
	card := &event.Battlecard{
		ID:          ulid.Make().String(),
		Competitor:  competitor,
		GeneratedAt: startTime,
		Revision:    1,
	}

	points, err := s.battlecardPoints(ctx, BattlecardRequest{
		SessionID:  sessionID,
		Competitor: competitor,
		Context:    TailChars(transcript, s.config.BattlecardContext),
		MaxPoints:  MaxPoints,
		WordBudget: s.config.PointWordBudget,
	})
	s.m.RecordInsightCall(OpBattlecard, err == nil, time.Since(startTime).Seconds())

	if err != nil {
		s.m.RecordInsightFallback(OpBattlecard)
		s.logger.Warn("Battlecard generation failed, using fallback",
			slog.String("competitor", competitor),
			slog.String("error", err.Error()))
		card.Points = ClampPoints(FallbackPoints(competitor), s.config.PointWordBudget)
		card.Fallback = true
		return card, err
	}

	card.Points = points
	return card, nil
}

func (s *Stage) battlecardPoints(ctx context.Context, req BattlecardRequest) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	select {
	case s.cardSem <- struct{}{}:
		defer func() { <-s.cardSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	result, err := s.provider.Battlecard(ctx, req)
	if err != nil {
		return nil, err
	}

	points := ClampPoints(result.Points, req.WordBudget)
	if len(points) == 0 {
		return nil, fmt.Errorf("provider returned no counter-points")
	}
	return points, nil
}

// Research looks up a competitor. It returns nil without error when no
// researcher is configured.
func (s *Stage) Research(ctx context.Context, competitor, transcript string) (*event.Research, error) {
	if s.researcher == nil {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ResearchTimeout)
	defer cancel()

	select {
	case s.researchSem <- struct{}{}:
		defer func() { <-s.researchSem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	startTime := time.Now()
	research, err := s.researcher.Research(ctx, ResearchRequest{
		Competitor: competitor,
		Context:    TailChars(transcript, s.config.BattlecardContext),
	})
	s.m.RecordInsightCall(OpResearch, err == nil, time.Since(startTime).Seconds())
	if err != nil {
		s.logger.Warn("Competitor research failed",
			slog.String("competitor", competitor),
			slog.String("error", err.Error()))
		return nil, err
	}

	return research, nil
}

// Summarize produces the session summary. When the provider fails or
// returns nothing the extractive summary is used and fallback is true.
func (s *Stage) Summarize(ctx context.Context, req SummaryRequest, timeout time.Duration) (summary string, fallback bool) {
	if strings.TrimSpace(req.Transcript) == "" {
		return ExtractiveSummary("", req.Entities), true
	}
	if timeout <= 0 {
		timeout = s.config.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	startTime := time.Now()
	summary, err := s.provider.Summarize(ctx, req)
	s.m.RecordInsightCall(OpSummary, err == nil, time.Since(startTime).Seconds())

	if err == nil && strings.TrimSpace(summary) != "" {
		return strings.TrimSpace(summary), false
	}

	if err != nil {
		s.logger.Warn("Summary generation failed, using extractive summary", slog.String("error", err.Error()))
	}
	s.m.RecordInsightFallback(OpSummary)
	return ExtractiveSummary(req.Transcript, req.Entities), true
}
