package extraction

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

func TestLexiconExtractor(t *testing.T) {
	l := NewLexiconExtractor(map[event.EntityKind][]string{
		event.KindProduct: {"Pro", "Pro Max", "Cloud Suite"},
		event.KindPerson:  {"Dana"},
	})

	tests := []struct {
		name string
		text string
		want []Candidate
	}{
		{"case insensitive", "we moved to cloud suite last year", []Candidate{{"Cloud Suite", event.KindProduct}}},
		{"longest name wins", "the Pro Max tier", []Candidate{{"Pro Max", event.KindProduct}}},
		{"both names", "Pro Max or plain pro?", []Candidate{{"Pro Max", event.KindProduct}, {"Pro", event.KindProduct}}},
		{"word boundary", "a professional approach", nil},
		{"punctuation boundary", "ask Dana, she knows", []Candidate{{"Dana", event.KindPerson}}},
		{"no match", "nothing here", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Extract(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPatternExtractor(t *testing.T) {
	got, err := PatternExtractor{}.Extract(context.Background(),
		"Email jane.doe@example.com or call +1 (415) 555-0100. We signed with Northwind Traders Ltd last week.")
	require.NoError(t, err)

	assert.Contains(t, got, Candidate{"jane.doe@example.com", event.KindEmail})
	assert.Contains(t, got, Candidate{"+1 (415) 555-0100", event.KindPhone})
	assert.Contains(t, got, Candidate{"Northwind Traders Ltd", event.KindOrganization})
}

func TestPatternExtractorDropsSentenceOpeners(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Yesterday Acme Corp sent a quote.", "Acme Corp"},
		{"Honestly Acme Corp was cheaper.", "Acme Corp"},
		{"And Then Globex Inc called back.", "Globex Inc"},
		{"Blue Sky Inc renewed.", "Blue Sky Inc"},
		{"So Corp", "So Corp"},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := PatternExtractor{}.Extract(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, []Candidate{{tt.want, event.KindOrganization}}, got)
		})
	}
}

func TestPatternExtractorIgnoresShortNumbers(t *testing.T) {
	got, err := PatternExtractor{}.Extract(context.Background(), "we grew 20 percent in 2024")
	require.NoError(t, err)
	assert.Empty(t, got)
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, string) ([]Candidate, error) {
	return nil, errors.New("model unavailable")
}

func TestChainKeepsPartialResults(t *testing.T) {
	chain := Chain{
		failingExtractor{},
		NewLexiconExtractor(map[event.EntityKind][]string{event.KindPerson: {"Dana"}}),
	}

	got, err := chain.Extract(context.Background(), "Dana joined")
	assert.Error(t, err)
	assert.Equal(t, []Candidate{{"Dana", event.KindPerson}}, got)
}

func TestExtractorsHonorCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := PatternExtractor{}.Extract(ctx, "x@y.io")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewLexiconExtractor(nil).Extract(ctx, "anything")
	assert.ErrorIs(t, err, context.Canceled)
}
