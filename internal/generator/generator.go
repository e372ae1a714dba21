// Package generator produces candidate responses and memory write proposals
// for a submitted command. The pipeline treats the generator as an untrusted
// collaborator: its output goes through the full decision pipeline and it is
// called exactly once per submission, before any stage runs.
package generator

import (
	"context"
	"fmt"

	"github.com/mpast043/IntoTheUnknown/internal/config"
	"github.com/mpast043/IntoTheUnknown/internal/governance"
	"github.com/mpast043/IntoTheUnknown/internal/memory"
)

// Result is the generator's untrusted output for one submission.
type Result struct {
	ResponseText string              `json:"response_text"`
	Proposals    []memory.Proposal   `json:"proposals,omitempty"`
	Predicted    *governance.Verdict `json:"predicted,omitempty"`
}

// Generator produces a response and optional memory proposals for an input.
type Generator interface {
	Generate(ctx context.Context, sessionID, input string) (*Result, error)
}

// New builds the generator named by cfg.Provider.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Provider {
	case "static":
		return &Static{}, nil
	case "openai":
		return NewLLM(cfg)
	default:
		return nil, fmt.Errorf("unknown generator provider %q", cfg.Provider)
	}
}

// Static is a deterministic generator for tests and offline operation. It
// echoes the input and never proposes memory writes or predicts a verdict.
type Static struct{}

// Generate implements Generator.
func (s *Static) Generate(_ context.Context, _ string, input string) (*Result, error) {
	return &Result{ResponseText: input}, nil
}
