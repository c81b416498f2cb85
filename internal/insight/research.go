package insight

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"google.golang.org/genai"

	"github.com/Strange-Jackle/meeting-monitor/internal/event"
)

// Research verdicts
const (
	VerdictPositive = "Positive"
	VerdictMixed    = "Mixed"
	VerdictNegative = "Negative"
)

// Verdict maps a sentiment score in [-1, 1] to a verdict
func Verdict(sentiment float64) string {
	switch {
	case sentiment > 0.05:
		return VerdictPositive
	case sentiment < -0.05:
		return VerdictNegative
	default:
		return VerdictMixed
	}
}

// researchReply is the JSON a research model answers with
type researchReply struct {
	Summary   string   `json:"summary"`
	Sentiment float64  `json:"sentiment"`
	Sources   []string `json:"sources"`
}

// GeminiResearcher researches competitors with Gemini grounded on Google
// Search
type GeminiResearcher struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiResearcher creates a search grounded researcher
func NewGeminiResearcher(ctx context.Context, config GeminiConfig, logger *slog.Logger) (*GeminiResearcher, error) {
	if config.Model == "" {
		config.Model = "gemini-2.0-flash"
	}
	client, err := newGeminiClient(ctx, config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GeminiResearcher{
		client: client,
		model:  config.Model,
		logger: logger.With(slog.String("component", "research")),
	}, nil
}

// Research runs one grounded lookup. Grounding sources are merged into the
// sources the model names.
func (r *GeminiResearcher) Research(ctx context.Context, req ResearchRequest) (*event.Research, error) {
	resp, err := r.client.Models.GenerateContent(ctx, r.model, genai.Text(researchPrompt(req)), &genai.GenerateContentConfig{
		Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini research: %w", err)
	}

	var reply researchReply
	if err := decodeJSON(resp.Text(), &reply); err != nil {
		return nil, err
	}

	sources := reply.Sources
	for _, c := range resp.Candidates {
		if c.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range c.GroundingMetadata.GroundingChunks {
			if chunk.Web != nil && chunk.Web.URI != "" {
				sources = append(sources, chunk.Web.URI)
			}
		}
	}

	return &event.Research{
		Summary: strings.TrimSpace(reply.Summary),
		Verdict: Verdict(reply.Sentiment),
		Sources: dedupe(sources),
	}, nil
}

// MockCompetitor is a canned research entry
type MockCompetitor struct {
	Summary   string
	Sentiment float64
	Sources   []string
}

// DefaultMockCompetitors is the research database used in simulation
var DefaultMockCompetitors = map[string]MockCompetitor{
	"microsoft azure": {
		Summary:   "Azure is praised for enterprise reliability and .NET integration, while users often complain about complex pricing.",
		Sentiment: 0.3,
		Sources:   []string{"Reddit (r/AZURE)", "Twitter"},
	},
	"datadog": {
		Summary:   "Datadog is seen as the observability standard, but teams consistently criticize its high and unpredictable costs.",
		Sentiment: 0,
		Sources:   []string{"Reddit (r/devops)", "Twitter"},
	},
	"salesforce": {
		Summary:   "Salesforce remains the market leader, with frequent complaints about a heavy legacy interface and steep customization curve.",
		Sentiment: 0.02,
		Sources:   []string{"Twitter", "Reddit"},
	},
	"slack": {
		Summary:   "Slack is the preferred team chat for its UX and integrations despite some backlash over recent UI changes.",
		Sentiment: 0.4,
		Sources:   []string{"Twitter", "Reddit"},
	},
	"microsoft teams": {
		Summary:   "Teams is widely adopted through Office 365 bundling, but sentiment is negative about performance and memory use.",
		Sentiment: -0.4,
		Sources:   []string{"Reddit (r/sysadmin)", "Twitter"},
	},
	"acme corp": {
		Summary:   "Acme Corp competes on price, but reviewers report slow support and frequent outages during peak load.",
		Sentiment: -0.2,
		Sources:   []string{"G2", "Reddit"},
	},
}

// ScriptedResearcher answers from a mock competitor database
type ScriptedResearcher struct {
	DB map[string]MockCompetitor
}

// NewScriptedResearcher creates a researcher over db, or the default
// database when db is nil
func NewScriptedResearcher(db map[string]MockCompetitor) *ScriptedResearcher {
	if db == nil {
		db = DefaultMockCompetitors
	}
	return &ScriptedResearcher{DB: db}
}

// Research matches the competitor against the database by containment in
// either direction
func (r *ScriptedResearcher) Research(ctx context.Context, req ResearchRequest) (*event.Research, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	k := strings.ToLower(strings.TrimSpace(req.Competitor))
	if entry, ok := r.DB[k]; ok {
		return mockResearch(entry), nil
	}
	names := make([]string, 0, len(r.DB))
	for name := range r.DB {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if k != "" && (strings.Contains(k, name) || strings.Contains(name, k)) {
			return mockResearch(r.DB[name]), nil
		}
	}

	return &event.Research{
		Summary: fmt.Sprintf("Public discussion of %s is limited, with mixed comments about recent updates.", req.Competitor),
		Verdict: VerdictMixed,
		Sources: []string{"General web search"},
	}, nil
}

func mockResearch(entry MockCompetitor) *event.Research {
	return &event.Research{
		Summary: entry.Summary,
		Verdict: Verdict(entry.Sentiment),
		Sources: append([]string(nil), entry.Sources...),
	}
}

func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
