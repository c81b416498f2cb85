package insight

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini provider and researcher
type GeminiConfig struct {
	APIKey string
	Model  string
}

// GeminiProvider generates insights with the Gemini API. Hint requests
// attach the latest screen image when one is available.
type GeminiProvider struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// newGeminiClient creates a Gemini API client
func newGeminiClient(ctx context.Context, config GeminiConfig) (*genai.Client, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("api key cannot be empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiProvider creates a Gemini backed provider
func NewGeminiProvider(ctx context.Context, config GeminiConfig, logger *slog.Logger) (*GeminiProvider, error) {
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
	return &GeminiProvider{
		client: client,
		model:  config.Model,
		logger: logger.With(slog.String("component", "insight"), slog.String("provider", "gemini")),
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Hints asks for a hint cycle, with the screen image inline when present
func (p *GeminiProvider) Hints(ctx context.Context, req HintRequest) (*HintResult, error) {
	parts := []*genai.Part{genai.NewPartFromText(hintPrompt(req))}
	if req.Screen != nil && len(req.Screen.Image) > 0 && req.Screen.MIME != "" {
		parts = append(parts, genai.NewPartFromBytes(req.Screen.Image, req.Screen.MIME))
	}

	reply, err := p.generate(ctx, hintInstructions, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, true)
	if err != nil {
		return nil, err
	}

	var result HintResult
	if err := decodeJSON(reply, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Battlecard asks for counter-points
func (p *GeminiProvider) Battlecard(ctx context.Context, req BattlecardRequest) (*BattlecardResult, error) {
	reply, err := p.generate(ctx, battlecardInstructions, genai.Text(battlecardPrompt(req)), true)
	if err != nil {
		return nil, err
	}

	var result BattlecardResult
	if err := decodeJSON(reply, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Summarize asks for a plain text summary
func (p *GeminiProvider) Summarize(ctx context.Context, req SummaryRequest) (string, error) {
	reply, err := p.generate(ctx, summaryInstructions, genai.Text(summaryPrompt(req)), false)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

func (p *GeminiProvider) generate(ctx context.Context, instructions string, contents []*genai.Content, jsonReply bool) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
	}
	if jsonReply {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}
