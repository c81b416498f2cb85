package extraction

import (
	"strings"
	"time"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Tracker is the per-session entity set, keyed case insensitively. It is
// owned by the session goroutine.
type Tracker struct {
	entities map[string]*event.Entity
	order    []string
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{entities: make(map[string]*event.Entity)}
}

func key(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// IsNew reports whether text has not been seen in this session
func (t *Tracker) IsNew(text string) bool {
	_, ok := t.entities[key(text)]
	return !ok
}

// Observe records a mention. It returns the updated entity and whether this
// was its first mention.
func (t *Tracker) Observe(c Candidate, source string, at time.Time) (event.Entity, bool) {
	k := key(c.Text)
	if e, ok := t.entities[k]; ok {
		e.Mentions++
		return *e, false
	}

	e := &event.Entity{
		Text:      strings.TrimSpace(c.Text),
		Kind:      c.Kind,
		Source:    source,
		FirstSeen: at,
		Mentions:  1,
	}
	t.entities[k] = e
	t.order = append(t.order, k)
	return *e, true
}

// Get returns the tracked entity for text
func (t *Tracker) Get(text string) (event.Entity, bool) {
	e, ok := t.entities[key(text)]
	if !ok {
		return event.Entity{}, false
	}
	return *e, true
}

// Entities returns every tracked entity in discovery order
func (t *Tracker) Entities() []event.Entity {
	out := make([]event.Entity, 0, len(t.order))
	for _, k := range t.order {
		out = append(out, *t.entities[k])
	}
	return out
}

// Top returns up to n entities with the most mentions, ties in discovery
// order
func (t *Tracker) Top(n int) []event.Entity {
	all := t.Entities()
	for i := 1; i < len(all); i++ {
		for j := i; j > 0 && all[j].Mentions > all[j-1].Mentions; j-- {
			all[j], all[j-1] = all[j-1], all[j]
		}
	}
	if n < len(all) {
		all = all[:n]
	}
	return all
}

// Len returns the number of distinct entities
func (t *Tracker) Len() int {
	return len(t.order)
}
