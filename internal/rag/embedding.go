package rag

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

var (
	ErrEmptyTexts      = errors.New("no texts provided for embedding")
	ErrMissingAPIKey   = errors.New("embedding API key not set")
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// EmbeddingRecord is one chunk text and its vector. Index is the text's
// position in the batch passed to Embed.
type EmbeddingRecord struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
	Model     string    `json:"model"`
}

// Embedder turns chunk text and queries into vectors for the chunk stores.
// Helpbook and patient indexes must share one embedder so their vectors are
// comparable.
type Embedder interface {
	// Embed returns one record per text, in input order
	Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error)

	GetModel() string

	// GetDimension is the vector size the stores are created with
	GetDimension() int
}

// OpenAIEmbedder embeds through the OpenAI embeddings endpoint. It is the
// default embedder (text-embedding-3-small, 1536 dimensions).
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder requests vectors of exactly dimension floats so they
// match the configured store schema. An empty apiKey falls back to
// OPENAI_API_KEY.
func NewOpenAIEmbedder(apiKey, model string, dimension int) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingAPIKey)
	}
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))

	return &OpenAIEmbedder{
		client:    client,
		model:     model,
		dimension: dimension,
	}, nil
}

func (e *OpenAIEmbedder) GetModel() string {
	return e.model
}

func (e *OpenAIEmbedder) GetDimension() int {
	return e.dimension
}

// Embed embeds a batch in one request. A short or out-of-range response is
// an ErrEmbeddingFailed rather than a partially filled batch.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          e.model,
		Dimensions:     openai.Int(int64(e.dimension)),
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(texts), len(resp.Data))
	}

	// Items may arrive out of order.
	records := make([]EmbeddingRecord, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, idx)
		}

		records[idx] = EmbeddingRecord{
			Text:      texts[idx],
			Embedding: toFloat32(data.Embedding),
			Index:     idx,
			Model:     e.model,
		}
	}
	return records, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
