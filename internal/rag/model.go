package rag

import (
	"context"
	"errors"
)

// Kind identifies which logical index a chunk belongs to.
type Kind string

const (
	// KindPatient marks chunks derived from a session's uploaded documents.
	KindPatient Kind = "patient"
	// KindHelpbook marks chunks from the shared reference corpus.
	KindHelpbook Kind = "helpbook"
)

// ErrRetrievalUnavailable is returned when a backing index cannot be queried.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// Chunk is a retrievable text fragment with its provenance metadata.
// Chunks are immutable once ingested.
type Chunk struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	SessionID string    `json:"session_id,omitempty"` // empty for shared reference material
	Kind      Kind      `json:"kind"`
	Page      int       `json:"page,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a chunk returned by a vector backend along with its similarity to the query.
type ScoredChunk struct {
	Chunk
	Score float32 `json:"score"`
}

// SearchOptions provides filtering options for vector search
type SearchOptions struct {
	SessionID string `json:"session_id,omitempty"` // strict equality filter when non-empty
}

// VectorStore defines the interface for vector storage and similarity search.
// One instance backs one logical index (helpbook or patient).
type VectorStore interface {
	// Insert upserts chunks (which must carry embeddings) keyed by chunk ID
	Insert(ctx context.Context, chunks []Chunk) error

	// Search returns up to topK nearest chunks ordered by decreasing similarity.
	// Returned chunks include their embeddings so callers can re-rank them.
	Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ScoredChunk, error)

	// Query checks which chunk IDs exist in the store
	Query(ctx context.Context, ids []string) (map[string]bool, error)

	// DeleteSession removes every chunk tagged with the session ID
	DeleteSession(ctx context.Context, sessionID string) error

	// Drop removes all contents of the index and recreates it empty
	Drop(ctx context.Context) error

	// GetStats returns collection statistics (record count, backend, etc.)
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Close releases resources and closes connections
	Close() error
}

// IndexOptions provides configuration for chunk indexing
type IndexOptions struct {
	// BatchSize determines how many chunks to embed at once
	BatchSize int

	// SkipExisting will check if a chunk ID already exists and skip it if present
	SkipExisting bool
}

// DefaultIndexOptions returns sensible defaults for indexing
func DefaultIndexOptions() IndexOptions {
	return IndexOptions{
		BatchSize:    10,
		SkipExisting: true,
	}
}

// Scope describes one retrieval request against a single logical index.
type Scope struct {
	Index           Kind
	SessionFilter   string
	K               int
	FetchK          int
	DiversityWeight float64
}

// HelpbookScope returns the unscoped reference-corpus retrieval settings.
func HelpbookScope() Scope {
	return Scope{
		Index:           KindHelpbook,
		K:               6,
		FetchK:          100,
		DiversityWeight: 0.2,
	}
}

// PatientScope returns the session-filtered patient retrieval settings.
func PatientScope(sessionID string) Scope {
	return Scope{
		Index:           KindPatient,
		SessionFilter:   sessionID,
		K:               10,
		FetchK:          50,
		DiversityWeight: 0.35,
	}
}

// RetrievalResult is the outcome of a single scoped retrieval.
// When FallbackUsed is set, every chunk shares FallbackSessionID.
type RetrievalResult struct {
	Chunks            []Chunk `json:"chunks"`
	FallbackUsed      bool    `json:"fallback_used"`
	FallbackSessionID string  `json:"fallback_session_id,omitempty"`
}
