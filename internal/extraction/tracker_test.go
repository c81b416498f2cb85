package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/config"
	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

func TestTrackerDeduplicatesCaseInsensitively(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	e, isNew := tr.Observe(Candidate{"Acme Corp", event.KindCompetitor}, "segment:3", now)
	assert.True(t, isNew)
	assert.Equal(t, 1, e.Mentions)
	assert.Equal(t, "segment:3", e.Source)

	assert.False(t, tr.IsNew("ACME CORP"))
	assert.True(t, tr.IsNew("Globex"))

	e, isNew = tr.Observe(Candidate{"acme corp", event.KindCompetitor}, "segment:9", now.Add(time.Second))
	assert.False(t, isNew)
	assert.Equal(t, 2, e.Mentions)
	assert.Equal(t, "Acme Corp", e.Text, "first spelling is kept")
	assert.Equal(t, now, e.FirstSeen)
	assert.Equal(t, 1, tr.Len())
}

func TestTrackerTop(t *testing.T) {
	tr := NewTracker()
	now := time.Now()
	tr.Observe(Candidate{"Dana", event.KindPerson}, "segment:1", now)
	tr.Observe(Candidate{"Globex", event.KindOrganization}, "segment:2", now)
	tr.Observe(Candidate{"globex", event.KindOrganization}, "segment:3", now)
	tr.Observe(Candidate{"Cloud Suite", event.KindProduct}, "segment:4", now)

	top := tr.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "Globex", top[0].Text)
	assert.Equal(t, "Dana", top[1].Text)

	assert.Len(t, tr.Entities(), 3)
	assert.Len(t, tr.Top(10), 3)
}

func TestCompetitorList(t *testing.T) {
	l := NewCompetitorList([]config.CompetitorEntry{
		{Name: "Acme Corp", Aliases: []string{"Acme", "ACME Inc"}},
		{Name: "Globex"},
	})

	name, ok := l.Competitor("acme")
	assert.True(t, ok)
	assert.Equal(t, "Acme Corp", name)

	name, ok = l.Competitor(" ACME CORP ")
	assert.True(t, ok)
	assert.Equal(t, "Acme Corp", name)

	_, ok = l.Competitor("Initech")
	assert.False(t, ok)

	assert.Equal(t, []string{"Acme Corp", "Globex"}, l.Names())
	assert.ElementsMatch(t, []string{"Acme Corp", "Globex", "acme", "acme inc"}, l.Terms())
}

func TestStageTagsCompetitorsOnce(t *testing.T) {
	competitors := NewCompetitorList([]config.CompetitorEntry{{Name: "Acme Corp", Aliases: []string{"Acme"}}})
	lexicon := Lexicon(config.ExtractionConfig{People: []string{"Dana"}}, competitors)
	s, err := NewStage(Chain{NewLexiconExtractor(lexicon), PatternExtractor{}}, competitors, time.Second, nil)
	require.NoError(t, err)

	got, err := s.Extract(context.Background(), "Dana said Acme Corp undercut us, Acme always does")
	require.NoError(t, err)
	assert.Equal(t, []Candidate{
		{"Acme Corp", event.KindCompetitor},
		{"Dana", event.KindPerson},
	}, got)
}

func TestStageEmptyText(t *testing.T) {
	s, err := NewStage(PatternExtractor{}, nil, time.Second, nil)
	require.NoError(t, err)

	got, err := s.Extract(context.Background(), "   ")
	assert.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewStageValidation(t *testing.T) {
	_, err := NewStage(nil, nil, time.Second, nil)
	assert.Error(t, err)

	_, err = NewStage(PatternExtractor{}, nil, 0, nil)
	assert.Error(t, err)
}
