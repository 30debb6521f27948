package rag

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// GeminiConfig selects how the genai client authenticates.
// APIKey uses the Gemini API backend; Project (with Location) uses Vertex AI.
type GeminiConfig struct {
	APIKey   string
	Project  string
	Location string
}

// NewGeminiClient creates a genai client for either backend.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*genai.Client, error) {
	if cfg.APIKey == "" && cfg.Project == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("GOOGLE_API_KEY")
		}
	}

	var clientCfg *genai.ClientConfig
	switch {
	case cfg.Project != "":
		location := cfg.Location
		if location == "" {
			location = "us-central1"
		}
		clientCfg = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: location,
			Backend:  genai.BackendVertexAI,
		}
	case cfg.APIKey != "":
		clientCfg = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	default:
		return nil, fmt.Errorf("%w: GOOGLE_API_KEY or GEMINI_PROJECT", ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// GeminiEmbedder implements the Embedder interface using the genai SDK
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
}

// NewGeminiEmbedder creates a new Gemini embedder instance
func NewGeminiEmbedder(ctx context.Context, cfg GeminiConfig, model string, dimension int) (*GeminiEmbedder, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	client, err := NewGeminiClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &GeminiEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
	}, nil
}

// GetModel returns the embedding model identifier
func (e *GeminiEmbedder) GetModel() string {
	return e.model
}

// GetDimension returns the embedding vector dimension
func (e *GeminiEmbedder) GetDimension() int {
	return e.dimension
}

// Embed generates one embedding per input text
func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	dim := int32(e.dimension)
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(resp.Embeddings))
	}

	records := make([]EmbeddingRecord, len(texts))
	for i, emb := range resp.Embeddings {
		records[i] = EmbeddingRecord{
			Text:      texts[i],
			Embedding: emb.Values,
			Index:     i,
			Model:     e.model,
		}
	}

	return records, nil
}
