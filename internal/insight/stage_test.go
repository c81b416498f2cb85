package insight

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

const longContext = "We are comparing vendors for the rollout next quarter."

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStage(t *testing.T, p Provider, r Researcher) *Stage {
	t.Helper()
	s, err := NewStage(p, r, StageConfig{
		Timeout:         100 * time.Millisecond,
		MaxHints:        3,
		PointWordBudget: 8,
		InsightTTL:      time.Minute,
	}, testLogger(), nil)
	require.NoError(t, err)
	return s
}

func TestStageHints(t *testing.T) {
	p := NewScriptedProvider([]HintResult{{
		Hints: []Hint{
			{Kind: event.InsightHint, Text: "Ask about rollout timeline"},
			{Kind: event.InsightRisk, Text: "Too short"},
			{Kind: event.InsightOpportunity, Text: "Offer the annual plan"},
		},
		Score: 1.4,
	}}, nil, "")
	s := newTestStage(t, p, nil)

	out, err := s.Hints(context.Background(), HintRequest{Context: longContext})
	require.NoError(t, err)
	assert.False(t, out.Fallback)
	assert.Equal(t, 1.0, out.Score)
	require.Len(t, out.Insights, 2)
	for _, in := range out.Insights {
		assert.NotEmpty(t, in.ID)
		assert.Equal(t, out.Cycle, in.Cycle)
		assert.Equal(t, out.GeneratedAt.Add(time.Minute), in.ExpiresAt)
	}
	assert.NotEqual(t, out.Insights[0].ID, out.Insights[1].ID)
}

func TestStageHintsSkipShortContext(t *testing.T) {
	p := NewScriptedProvider(nil, nil, "")
	s := newTestStage(t, p, nil)

	_, err := s.Hints(context.Background(), HintRequest{Context: "   hi there   "})
	assert.ErrorIs(t, err, ErrSkipped)
	assert.Zero(t, p.Calls())
}

func TestStageHintsSkipWhilePreviousRuns(t *testing.T) {
	p := NewScriptedProvider([]HintResult{{Hints: []Hint{{Text: "Ask about rollout timeline"}}}}, nil, "")
	p.SetDelay(50 * time.Millisecond)
	s := newTestStage(t, p, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := s.Hints(context.Background(), HintRequest{Context: longContext})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return p.Calls() == 1 }, time.Second, time.Millisecond)
	_, err := s.Hints(context.Background(), HintRequest{Context: longContext})
	assert.ErrorIs(t, err, ErrSkipped)
	wg.Wait()

	_, err = s.Hints(context.Background(), HintRequest{Context: longContext})
	assert.NoError(t, err, "the next cycle runs once the previous one finished")
}

func TestStageHintsFallbackOnTimeout(t *testing.T) {
	p := NewScriptedProvider(nil, nil, "")
	p.SetDelay(time.Second)
	s := newTestStage(t, p, nil)

	start := time.Now()
	out, err := s.Hints(context.Background(), HintRequest{Context: longContext})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.True(t, out.Fallback)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
	require.Len(t, out.Insights, 3)
	for _, in := range out.Insights {
		assert.True(t, in.Fallback)
	}
}

func TestStageBattlecard(t *testing.T) {
	p := NewScriptedProvider(nil, map[string][]string{
		"Acme Corp": {
			"Acme lacks native CRM sync and needs costly consultants",
			"Our onboarding takes days",
			"Acme outages hit peak season",
			"This fourth point is dropped",
		},
	}, "")
	s := newTestStage(t, p, nil)

	card, err := s.Battlecard(context.Background(), "s1", "Acme Corp", strings.Repeat("word ", 300))
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", card.Competitor)
	assert.Equal(t, 1, card.Revision)
	assert.False(t, card.Fallback)
	require.Len(t, card.Points, 3)
	assert.Equal(t, "Acme lacks native CRM sync and needs costly", card.Points[0])
}

func TestStageBattlecardFallback(t *testing.T) {
	p := NewScriptedProvider(nil, nil, "")
	p.SetError(errors.New("rate limited"))
	s := newTestStage(t, p, nil)

	card, err := s.Battlecard(context.Background(), "s1", "Globex", longContext)
	assert.Error(t, err)
	require.NotNil(t, card)
	assert.True(t, card.Fallback)
	assert.LessOrEqual(t, len(card.Points), MaxPoints)
	assert.Contains(t, card.Points[0], "Globex")
}

func TestStageHintsAndBattlecardsRunIndependently(t *testing.T) {
	slow := NewScriptedProvider([]HintResult{{Hints: []Hint{{Text: "Ask about rollout timeline"}}}}, nil, "")
	slow.SetDelay(80 * time.Millisecond)
	s := newTestStage(t, slow, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Hints(context.Background(), HintRequest{Context: longContext})
	}()

	require.Eventually(t, func() bool { return slow.Calls() == 1 }, time.Second, time.Millisecond)
	card, _ := s.Battlecard(context.Background(), "s1", "Acme Corp", longContext)
	assert.NotNil(t, card, "battlecards are not gated by the running hint cycle")
	<-done
}

func TestStageResearch(t *testing.T) {
	s := newTestStage(t, NewScriptedProvider(nil, nil, ""), NewScriptedResearcher(nil))
	assert.True(t, s.HasResearcher())

	research, err := s.Research(context.Background(), "Acme Corp", longContext)
	require.NoError(t, err)
	assert.Equal(t, VerdictNegative, research.Verdict)

	none := newTestStage(t, NewScriptedProvider(nil, nil, ""), nil)
	research, err = none.Research(context.Background(), "Acme Corp", longContext)
	assert.NoError(t, err)
	assert.Nil(t, research)
}

func TestStageSummarize(t *testing.T) {
	p := NewScriptedProvider(nil, nil, "A productive pricing call.")
	s := newTestStage(t, p, nil)

	summary, fallback := s.Summarize(context.Background(), SummaryRequest{Transcript: longContext}, 0)
	assert.False(t, fallback)
	assert.Equal(t, "A productive pricing call.", summary)

	p.SetError(errors.New("down"))
	summary, fallback = s.Summarize(context.Background(), SummaryRequest{Transcript: longContext}, 0)
	assert.True(t, fallback)
	assert.Equal(t, longContext, summary)
}

func TestNewStageValidation(t *testing.T) {
	_, err := NewStage(nil, nil, StageConfig{Timeout: time.Second}, nil, nil)
	assert.Error(t, err)

	_, err = NewStage(NewScriptedProvider(nil, nil, ""), nil, StageConfig{}, nil, nil)
	assert.Error(t, err)
}
