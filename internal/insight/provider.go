package insight

import (
	"context"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Screen is the most recent screen snapshot available as context
type Screen struct {
	Text       string
	MIME       string
	Image      []byte
	CapturedAt time.Time
}

// HintRequest asks for a round of periodic hints
type HintRequest struct {
	SessionID string
	Context   string // recent transcript
	Screen    *Screen
	MaxHints  int
}

// Hint is one provider suggestion before clamping
type Hint struct {
	Kind event.InsightKind `json:"kind"`
	Text string            `json:"text"`
}

// HintResult is the provider answer for one hint cycle
type HintResult struct {
	Hints []Hint  `json:"hints"`
	Score float64 `json:"score"`
}

// BattlecardRequest asks for counter-points against a competitor
type BattlecardRequest struct {
	SessionID  string
	Competitor string
	Context    string
	MaxPoints  int
	WordBudget int
}

// BattlecardResult is the provider answer for one battlecard
type BattlecardResult struct {
	Points []string `json:"points"`
}

// SummaryRequest asks for the end of session summary
type SummaryRequest struct {
	SessionID  string
	Transcript string
	Entities   []event.Entity
}

// Provider produces insights from conversation context
type Provider interface {
	Name() string
	Hints(ctx context.Context, req HintRequest) (*HintResult, error)
	Battlecard(ctx context.Context, req BattlecardRequest) (*BattlecardResult, error)
	Summarize(ctx context.Context, req SummaryRequest) (string, error)
}

// ResearchRequest asks for public sentiment about a competitor
type ResearchRequest struct {
	Competitor string
	Context    string
}

// Researcher looks up competitor research that amends a battlecard later
type Researcher interface {
	Research(ctx context.Context, req ResearchRequest) (*event.Research, error)
}
