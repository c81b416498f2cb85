package insight

import (
	"encoding/json"
	"fmt"
	"strings"
)

const hintInstructions = `You assist a salesperson during a live call. Reply with JSON only:
{"hints": [{"kind": "hint|risk|opportunity|strategy", "text": "3 to 6 words"}], "score": 0.0}
score is the probability the deal closes, between 0 and 1.`

const battlecardInstructions = `You write competitive battlecards. Reply with JSON only:
{"points": ["short counter-point"]}`

const summaryInstructions = `Summarize the sales call in at most five sentences. Plain text.`

func hintPrompt(req HintRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Give at most %d hints.\n\nRecent conversation:\n%s\n", req.MaxHints, req.Context)
	if req.Screen != nil && req.Screen.Text != "" {
		fmt.Fprintf(&b, "\nText visible on screen:\n%s\n", req.Screen.Text)
	}
	return b.String()
}

func battlecardPrompt(req BattlecardRequest) string {
	return fmt.Sprintf("Competitor: %s\nGive at most %d counter-points of at most %d words each.\n\nConversation:\n%s\n",
		req.Competitor, req.MaxPoints, req.WordBudget, req.Context)
}

func summaryPrompt(req SummaryRequest) string {
	var b strings.Builder
	b.WriteString("Transcript:\n")
	b.WriteString(req.Transcript)
	if len(req.Entities) > 0 {
		names := make([]string, 0, len(req.Entities))
		for _, e := range req.Entities {
			names = append(names, e.Text)
		}
		fmt.Fprintf(&b, "\n\nEntities mentioned: %s\n", strings.Join(names, ", "))
	}
	return b.String()
}

func researchPrompt(req ResearchRequest) string {
	return fmt.Sprintf(`Summarize recent public opinion about the company %q from reviews and developer discussions.
Reply with JSON only: {"summary": "2 to 3 sentences", "sentiment": -1.0 to 1.0, "sources": ["site"]}`, req.Competitor)
}

// decodeJSON parses a model reply, tolerating markdown code fences and
// text around the object
func decodeJSON(reply string, v any) error {
	s := strings.TrimSpace(reply)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}

	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to parse model reply: %w", err)
	}
	return nil
}
