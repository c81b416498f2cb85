package insight

import (
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Board is the active insight set of a session. Each accepted cycle
// replaces the previous one. Owned by the session goroutine.
type Board struct {
	active      []event.Insight
	generatedAt time.Time
	score       float64
	known       map[string]event.Insight // every insight shown this session
}

// NewBoard creates an empty board
func NewBoard() *Board {
	return &Board{known: make(map[string]event.Insight)}
}

// Apply installs a cycle. It returns false and changes nothing when the
// cycle was dispatched before the active one.
func (b *Board) Apply(o *HintOutcome) bool {
	if o == nil || o.GeneratedAt.Before(b.generatedAt) {
		return false
	}

	b.active = append([]event.Insight(nil), o.Insights...)
	b.generatedAt = o.GeneratedAt
	b.score = o.Score
	for _, in := range o.Insights {
		b.known[in.ID] = in
	}
	return true
}

// Active returns the unexpired insights of the current cycle
func (b *Board) Active(now time.Time) []event.Insight {
	out := make([]event.Insight, 0, len(b.active))
	for _, in := range b.active {
		if in.ExpiresAt.IsZero() || now.Before(in.ExpiresAt) {
			out = append(out, in)
		}
	}
	return out
}

// Find returns any insight shown this session, superseded or not
func (b *Board) Find(id string) (event.Insight, bool) {
	in, ok := b.known[id]
	return in, ok
}

// Score returns the score of the current cycle
func (b *Board) Score() float64 {
	return b.score
}
