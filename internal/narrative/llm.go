// Package narrative turns a question, its retrieved context and the prior
// conversation into a model answer. It defines a provider-agnostic LLM
// interface with OpenAI and Gemini implementations, a deterministic mock for
// testing, the context merger and the fixed answering contract.
package narrative

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrLLMFailed     = errors.New("LLM request failed")
	ErrInvalidConfig = errors.New("invalid LLM configuration")
)

// Turn is one completed question/answer exchange.
type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at"`
}

// GenerationRequest is everything a model sees for one answer.
type GenerationRequest struct {
	// System is the fixed answering contract
	System string

	// History is the session's prior turns, oldest first
	History []Turn

	// Question is the user question for this turn
	Question string

	// Context is the merged, source-tagged retrieval context
	Context string
}

// UserMessage renders the final user turn sent to the model.
func (r GenerationRequest) UserMessage() string {
	return fmt.Sprintf("Question: %s\n\nContext:\n%s", r.Question, r.Context)
}

// LLM defines the interface for interacting with language models.
// Implementations must be stateless and thread-safe.
type LLM interface {
	// Generate produces an answer for the request using the configured model.
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Provider names a model vendor.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
)

// LLMConfig holds common configuration options for LLM providers.
type LLMConfig struct {
	// Provider selects the vendor implementation
	Provider Provider

	// Model specifies the model identifier (e.g., "gpt-4o-mini", "gemini-2.5-flash")
	Model string

	// Temperature controls randomness (0.0 = deterministic, 2.0 = very random)
	Temperature float32

	// MaxTokens limits the response length (0 = use provider default)
	MaxTokens int

	// APIKey is the authentication key for the provider
	APIKey string

	// Project and Location select Vertex AI for the Gemini provider
	Project  string
	Location string

	// Timeout bounds a single generation call (0 = no explicit bound)
	Timeout time.Duration
}

// DefaultLLMConfig returns the settings used for clinical answers.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o-mini",
		Temperature: 0.2,
		MaxTokens:   1024,
		Timeout:     60 * time.Second,
	}
}

// NewLLM builds the LLM implementation named by config.Provider.
func NewLLM(ctx context.Context, config LLMConfig) (LLM, error) {
	switch config.Provider {
	case ProviderOpenAI, "":
		llm, err := NewOpenAILLM(config)
		if err != nil {
			return nil, err
		}
		return llm, nil
	case ProviderGemini:
		llm, err := NewGeminiLLM(ctx, config)
		if err != nil {
			return nil, err
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, config.Provider)
	}
}
