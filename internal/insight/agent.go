package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/nlpodyssey/openai-agents-go/modelsettings"
	"github.com/openai/openai-go/v2/packages/param"
)

// AgentConfig configures an OpenAI compatible provider
type AgentConfig struct {
	Model     string
	APIKey    string
	BaseURL   string // empty uses api.openai.com
	MaxTokens int
}

// AgentProvider runs single turn agents against an OpenAI compatible
// endpoint and parses their JSON replies
type AgentProvider struct {
	config   AgentConfig
	provider agents.ModelProvider
	logger   *slog.Logger
}

// NewAgentProvider creates an agent backed provider
func NewAgentProvider(config AgentConfig, logger *slog.Logger) (*AgentProvider, error) {
	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = 400
	}
	if logger == nil {
		logger = slog.Default()
	}

	params := agents.OpenAIProviderParams{}
	if config.APIKey != "" {
		params.APIKey = param.NewOpt(config.APIKey)
	}
	if config.BaseURL != "" {
		params.BaseURL = param.NewOpt(config.BaseURL)
		// Local OpenAI compatible servers speak chat completions only
		params.UseResponses = param.NewOpt(false)
	}

	return &AgentProvider{
		config:   config,
		provider: agents.NewOpenAIProvider(params),
		logger:   logger.With(slog.String("component", "insight"), slog.String("provider", "agent")),
	}, nil
}

// Name returns the provider name
func (p *AgentProvider) Name() string {
	return "agent"
}

// Hints asks the model for a hint cycle
func (p *AgentProvider) Hints(ctx context.Context, req HintRequest) (*HintResult, error) {
	reply, err := p.complete(ctx, hintInstructions, hintPrompt(req))
	if err != nil {
		return nil, err
	}

	var result HintResult
	if err := decodeJSON(reply, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Battlecard asks the model for counter-points
func (p *AgentProvider) Battlecard(ctx context.Context, req BattlecardRequest) (*BattlecardResult, error) {
	reply, err := p.complete(ctx, battlecardInstructions, battlecardPrompt(req))
	if err != nil {
		return nil, err
	}

	var result BattlecardResult
	if err := decodeJSON(reply, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Summarize asks the model for a plain text summary
func (p *AgentProvider) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	reply, err := p.complete(ctx, summaryInstructions, summaryPrompt(req))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// complete streams one agent turn and returns the collected output text
func (p *AgentProvider) complete(ctx context.Context, instructions, prompt string) (string, error) {
	agent := agents.New("meeting-assistant").
		WithInstructions(instructions).
		WithModel(p.config.Model).
		WithModelSettings(modelsettings.ModelSettings{
			MaxTokens: param.NewOpt(int64(p.config.MaxTokens)),
		})

	runner := agents.Runner{Config: agents.RunConfig{
		ModelProvider:   p.provider,
		MaxTurns:        1,
		TracingDisabled: true,
	}}

	events, errCh, err := runner.RunStreamedChan(ctx, agent, prompt)
	if err != nil {
		return "", fmt.Errorf("agent stream start: %w", err)
	}

	var text strings.Builder
	for ev := range events {
		raw, ok := ev.(agents.RawResponsesStreamEvent)
		if !ok || raw.Data.Type != "response.output_text.delta" {
			continue
		}
		text.WriteString(raw.Data.Delta)
	}

	if streamErr := <-errCh; streamErr != nil {
		return "", fmt.Errorf("agent stream: %w", streamErr)
	}

	p.logger.Debug("Agent turn completed", slog.Int("chars", text.Len()))

	return text.String(), nil
}
