package extraction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// StageName identifies this stage in recoverable error reports
const StageName = "extraction"

// Stage runs an extractor under a timeout, tags competitors and removes
// duplicates within one batch
type Stage struct {
	extractor  Extractor
	classifier Classifier
	timeout    time.Duration
	logger     *slog.Logger
}

// NewStage creates an extraction stage. classifier may be nil.
func NewStage(extractor Extractor, classifier Classifier, timeout time.Duration, logger *slog.Logger) (*Stage, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %v", timeout)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{
		extractor:  extractor,
		classifier: classifier,
		timeout:    timeout,
		logger:     logger.With(slog.String("component", "extraction")),
	}, nil
}

// Extract returns the distinct candidates in text. Competitor mentions
// carry the canonical competitor name. On error the partial batch is
// still returned.
func (s *Stage) Extract(ctx context.Context, text string) ([]Candidate, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.extractor.Extract(ctx, text)
	if err != nil {
		s.logger.Warn("Entity extraction failed", slog.String("error", err.Error()))
	}

	seen := make(map[string]int)
	var out []Candidate
	for _, c := range raw {
		if s.classifier != nil {
			if name, ok := s.classifier.Competitor(c.Text); ok {
				c = Candidate{Text: name, Kind: event.KindCompetitor}
			}
		}

		k := key(c.Text)
		if k == "" {
			continue
		}
		if i, dup := seen[k]; dup {
			if c.Kind == event.KindCompetitor {
				out[i].Kind = event.KindCompetitor
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, c)
	}

	return out, err
}
