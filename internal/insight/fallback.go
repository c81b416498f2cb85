package insight

import (
	"fmt"
	"strings"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Hint length bounds in words
const (
	MinHintWords = 3
	MaxHintWords = 6
)

// MaxPoints is the most counter-points a battlecard carries
const MaxPoints = 3

// fallbackHints are shown when the provider fails, so the feed still moves
var fallbackHints = []Hint{
	{Kind: event.InsightHint, Text: "Confirm their decision timeline"},
	{Kind: event.InsightHint, Text: "Ask who else decides"},
	{Kind: event.InsightStrategy, Text: "Summarize agreed next steps"},
	{Kind: event.InsightRisk, Text: "Check for unvoiced budget concerns"},
	{Kind: event.InsightOpportunity, Text: "Propose a short pilot"},
	{Kind: event.InsightHint, Text: "Ask about current tooling pain"},
}

// FallbackHints returns the deterministic placeholder cycle
func FallbackHints(max int) *HintResult {
	if max > len(fallbackHints) {
		max = len(fallbackHints)
	}
	return &HintResult{Hints: append([]Hint(nil), fallbackHints[:max]...), Score: 0.5}
}

// FallbackPoints returns deterministic counter-points naming the competitor
func FallbackPoints(competitor string) []string {
	return []string{
		fmt.Sprintf("Ask what they like about %s", competitor),
		"Highlight our integration depth",
		"Offer a side by side trial",
	}
}

// ClampHints keeps at most max hints of MinHintWords to MaxHintWords words.
// Longer hints are cut, shorter ones dropped and unknown kinds become hints.
func ClampHints(hints []Hint, max int) []Hint {
	out := make([]Hint, 0, max)
	for _, h := range hints {
		if len(out) >= max {
			break
		}
		words := strings.Fields(h.Text)
		if len(words) < MinHintWords {
			continue
		}
		if len(words) > MaxHintWords {
			words = words[:MaxHintWords]
		}
		switch h.Kind {
		case event.InsightHint, event.InsightRisk, event.InsightOpportunity, event.InsightStrategy:
		default:
			h.Kind = event.InsightHint
		}
		h.Text = strings.Join(words, " ")
		out = append(out, h)
	}
	return out
}

// ClampPoints keeps at most MaxPoints non-empty points of at most budget
// words each
func ClampPoints(points []string, budget int) []string {
	out := make([]string, 0, MaxPoints)
	for _, p := range points {
		if len(out) >= MaxPoints {
			break
		}
		words := strings.Fields(p)
		if len(words) == 0 {
			continue
		}
		if budget > 0 && len(words) > budget {
			words = words[:budget]
		}
		out = append(out, strings.Join(words, " "))
	}
	return out
}

// ClampScore bounds a score to [0, 1]
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

// ExtractiveSummary builds a summary from the first sentences of the
// transcript and the most mentioned entities
func ExtractiveSummary(transcript string, entities []event.Entity) string {
	var parts []string

	if sentences := firstSentences(transcript, 2); sentences != "" {
		parts = append(parts, sentences)
	}

	if len(entities) > 0 {
		names := make([]string, 0, 5)
		for _, e := range entities {
			if len(names) == 5 {
				break
			}
			names = append(names, e.Text)
		}
		parts = append(parts, "Mentioned: "+strings.Join(names, ", ")+".")
	}

	if len(parts) == 0 {
		return "No conversation was captured."
	}
	return strings.Join(parts, " ")
}

// firstSentences returns up to n sentences from the start of text
func firstSentences(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return ""
	}

	end := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			n--
			end = i + 1
			if n == 0 {
				break
			}
		}
	}
	if end == 0 {
		words := strings.Fields(text)
		if len(words) > 30 {
			words = words[:30]
		}
		return strings.Join(words, " ")
	}
	return strings.TrimSpace(text[:end])
}

// TailChars returns the last n bytes of text, moved forward to a word start
func TailChars(text string, n int) string {
	if len(text) <= n {
		return text
	}
	cut := len(text) - n
	tail := text[cut:]
	if text[cut-1] != ' ' {
		if i := strings.IndexByte(tail, ' '); i >= 0 {
			tail = tail[i+1:]
		}
	}
	return strings.TrimSpace(tail)
}
