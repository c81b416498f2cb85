package extraction

import (
	"strings"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Classifier decides whether a candidate names a competitor. It returns the
// canonical competitor name when it does.
type Classifier interface {
	Competitor(text string) (string, bool)
}

// CompetitorList is a Classifier over configured names and aliases
type CompetitorList struct {
	canonical map[string]string // lower-case name or alias to name
	names     []string
}

// NewCompetitorList builds the list from configuration entries
func NewCompetitorList(entries []config.CompetitorEntry) *CompetitorList {
	l := &CompetitorList{canonical: make(map[string]string)}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		l.names = append(l.names, name)
		l.canonical[strings.ToLower(name)] = name
		for _, alias := range e.Aliases {
			if alias = strings.TrimSpace(alias); alias != "" {
				l.canonical[strings.ToLower(alias)] = name
			}
		}
	}
	return l
}

// Competitor maps a name or alias to its canonical competitor name
func (l *CompetitorList) Competitor(text string) (string, bool) {
	name, ok := l.canonical[strings.ToLower(strings.TrimSpace(text))]
	return name, ok
}

// Names returns the canonical competitor names
func (l *CompetitorList) Names() []string {
	out := make([]string, len(l.names))
	copy(out, l.names)
	return out
}

// Terms returns every name and alias for lexicon matching
func (l *CompetitorList) Terms() []string {
	out := append(make([]string, 0, len(l.canonical)), l.names...)
	for term, name := range l.canonical {
		if term != strings.ToLower(name) {
			out = append(out, term)
		}
	}
	return out
}

// Lexicon assembles the lexicon for NewLexiconExtractor from configuration
func Lexicon(cfg config.ExtractionConfig, competitors *CompetitorList) map[event.EntityKind][]string {
	lexicon := map[event.EntityKind][]string{
		event.KindProduct:      cfg.Products,
		event.KindOrganization: cfg.Organizations,
		event.KindPerson:       cfg.People,
	}
	if competitors != nil {
		lexicon[event.KindCompetitor] = competitors.Terms()
	}
	return lexicon
}
