package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/mpast043/IntoTheUnknown/internal/config"
)

const llmSystemPrompt = `You are a governed assistant. Respond to the user input.
You may additionally propose durable memory writes and predict the governance
verdict for this exchange. Reply with a single JSON object:
{
  "response_text": "...",
  "proposals": [{"key": "...", "content": "...", "utility": 0.5,
    "pointer_stability": 0.5,
    "cost_vector": {"geo": 1, "int": 1, "gauge": 1, "ptr": 1, "obs": 1}}],
  "predicted": {"tier": 1, "promote_allowed": false, "memory_enabled": true}
}
Omit "proposals" and "predicted" when you have nothing to propose.`

// LLM generates responses via an OpenAI-compatible endpoint. Calls are rate
// limited so a misbehaving client cannot burn the API quota.
type LLM struct {
	model   llms.Model
	limiter *rate.Limiter
}

// NewLLM builds the langchaingo-backed generator from config.
func NewLLM(cfg config.GeneratorConfig) (*LLM, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("generator api key required")
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
	}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	return &LLM{
		model:   model,
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
	}, nil
}

// Generate implements Generator.
func (l *LLM) Generate(ctx context.Context, sessionID, input string) (*Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	prompt := llmSystemPrompt + "\n\nSession: " + sessionID + "\nInput: " + input
	completion, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt,
		llms.WithTemperature(0.3),
		llms.WithMaxTokens(2048),
	)
	if err != nil {
		return nil, fmt.Errorf("generating completion: %w", err)
	}

	result, err := parseResult(completion)
	if err != nil {
		// A malformed reply still counts as a response; it just carries
		// no proposals for the gate to consider.
		return &Result{ResponseText: completion}, nil
	}
	return result, nil
}

// parseResult extracts the JSON object from a completion that may be wrapped
// in markdown fences or surrounding prose.
func parseResult(completion string) (*Result, error) {
	start := strings.Index(completion, "{")
	end := strings.LastIndex(completion, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in completion")
	}

	var result Result
	if err := json.Unmarshal([]byte(completion[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parsing completion: %w", err)
	}
	if result.ResponseText == "" {
		return nil, fmt.Errorf("completion missing response_text")
	}
	return &result, nil
}
