package insight

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ScriptedProvider replays canned hints and battlecards. It backs simulation
// sessions and tests.
type ScriptedProvider struct {
	cycles      []HintResult
	battlecards map[string][]string // lower-case competitor to points
	summary     string
	err         error
	delay       time.Duration

	calls     int
	hintCalls int
	mu        sync.Mutex
}

// NewScriptedProvider creates a provider that returns cycles in order,
// repeating the last one
func NewScriptedProvider(cycles []HintResult, battlecards map[string][]string, summary string) *ScriptedProvider {
	cards := make(map[string][]string, len(battlecards))
	for name, points := range battlecards {
		cards[strings.ToLower(strings.TrimSpace(name))] = points
	}
	return &ScriptedProvider{cycles: cycles, battlecards: cards, summary: summary}
}

// SetError makes every call fail with err
func (p *ScriptedProvider) SetError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// SetDelay makes every call wait before answering
func (p *ScriptedProvider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// Calls returns how many calls the provider has served
func (p *ScriptedProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Name returns the provider name
func (p *ScriptedProvider) Name() string {
	return "scripted"
}

// wait applies the configured delay and error
func (p *ScriptedProvider) wait(ctx context.Context) error {
	p.mu.Lock()
	p.calls++
	delay, err := p.delay, p.err
	p.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Hints returns the next scripted cycle
func (p *ScriptedProvider) Hints(ctx context.Context, req HintRequest) (*HintResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.cycles) == 0 {
		return &HintResult{}, nil
	}

	i := p.hintCycle()
	result := p.cycles[i]
	result.Hints = append([]Hint(nil), result.Hints...)
	return &result, nil
}

// hintCycle returns the cycle index for the next hint call. Caller holds mu.
func (p *ScriptedProvider) hintCycle() int {
	i := p.hintCalls
	p.hintCalls++
	if i >= len(p.cycles) {
		i = len(p.cycles) - 1
	}
	return i
}

// Battlecard returns the scripted points for the competitor, or a generic
// card naming it
func (p *ScriptedProvider) Battlecard(ctx context.Context, req BattlecardRequest) (*BattlecardResult, error) {
	if err := p.wait(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	points, ok := p.battlecards[strings.ToLower(strings.TrimSpace(req.Competitor))]
	p.mu.Unlock()

	if !ok {
		points = []string{
			fmt.Sprintf("Ask why they are considering %s", req.Competitor),
			"Lead with our onboarding speed",
			"Offer a side by side pilot",
		}
	}
	return &BattlecardResult{Points: append([]string(nil), points...)}, nil
}

// Summarize returns the scripted summary, or an empty string so the stage
// falls back to the extractive summary
func (p *ScriptedProvider) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	if err := p.wait(ctx); err != nil {
		return "", err
	}
	return p.summary, nil
}
