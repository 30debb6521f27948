package rag

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// MockEmbedder is a deterministic Embedder for testing.
// Each token is hashed into a bucket, so texts that share words have similar vectors.
type MockEmbedder struct {
	Dimension int
	Error     error
	Calls     int
}

// NewMockEmbedder creates a mock embedder producing vectors of the given dimension
func NewMockEmbedder(dimension int) *MockEmbedder {
	return &MockEmbedder{Dimension: dimension}
}

// GetModel returns the mock model name
func (m *MockEmbedder) GetModel() string {
	return "mock-embedding"
}

// GetDimension returns the configured dimension
func (m *MockEmbedder) GetDimension() int {
	return m.Dimension
}

// Embed returns hashed bag-of-words vectors, normalized to unit length
func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	m.Calls++
	if m.Error != nil {
		return nil, m.Error
	}
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	records := make([]EmbeddingRecord, len(texts))
	for i, text := range texts {
		records[i] = EmbeddingRecord{
			Text:      text,
			Embedding: m.vector(text),
			Index:     i,
			Model:     m.GetModel(),
		}
	}
	return records, nil
}

func (m *MockEmbedder) vector(text string) []float32 {
	vec := make([]float32, m.Dimension)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%m.Dimension]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}
