package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrGenerationFailed = errors.New("answer generation failed")
)

// Answer is a generated reply to one question.
type Answer struct {
	// Text is the generated answer content
	Text string `json:"text"`

	// GeneratedAt is when this answer was created
	GeneratedAt time.Time `json:"generated_at"`

	// Model is the LLM model used to generate this answer
	Model string `json:"model"`
}

// Generator invokes an LLM on an already-assembled request.
// It does not perform retrieval or context merging.
type Generator struct {
	llm    LLM
	config LLMConfig
}

// NewGenerator creates a generator with the given LLM implementation.
func NewGenerator(llm LLM, config LLMConfig) *Generator {
	return &Generator{
		llm:    llm,
		config: config,
	}
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	return g.config.Model
}

// Generate produces an answer, bounded by the configured timeout.
// Every failure, including timeout, is wrapped in ErrGenerationFailed.
func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (*Answer, error) {
	if g.llm == nil {
		return nil, fmt.Errorf("%w: LLM is required", ErrGenerationFailed)
	}
	if req.Question == "" {
		return nil, fmt.Errorf("%w: question is required", ErrGenerationFailed)
	}
	if req.Context == "" {
		return nil, fmt.Errorf("%w: context is required", ErrGenerationFailed)
	}

	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	text, err := g.llm.Generate(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: timed out after %s", ErrGenerationFailed, g.config.Timeout)
		}
		return nil, fmt.Errorf("%w: LLM invocation failed: %w", ErrGenerationFailed, err)
	}

	return &Answer{
		Text:        text,
		GeneratedAt: time.Now(),
		Model:       g.config.Model,
	}, nil
}
