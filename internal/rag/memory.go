package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// InMemoryStore implements VectorStore with a brute-force cosine scan.
// Used for local runs without a vector database and in tests.
type InMemoryStore struct {
	mu     sync.RWMutex
	name   string
	chunks map[string]Chunk
	order  []string // insertion order, for deterministic tie-breaking
}

// NewInMemoryStore creates an empty in-memory index
func NewInMemoryStore(name string) *InMemoryStore {
	return &InMemoryStore{
		name:   name,
		chunks: make(map[string]Chunk),
	}
}

// Insert upserts chunks by ID
func (s *InMemoryStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return ErrEmptyRecords
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk id", ErrMissingMetadata)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("%w: chunk %s has no embedding", ErrInsertFailed, c.ID)
		}
		if _, exists := s.chunks[c.ID]; !exists {
			s.order = append(s.order, c.ID)
		}
		s.chunks[c.ID] = c
	}
	return nil
}

// Search scores every stored chunk against the query vector
func (s *InMemoryStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ScoredChunk, error) {
	if topK <= 0 {
		return []ScoredChunk{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]ScoredChunk, 0, len(s.chunks))
	for _, id := range s.order {
		c := s.chunks[id]
		if opts != nil && opts.SessionID != "" && c.SessionID != opts.SessionID {
			continue
		}
		if len(c.Embedding) != len(queryVector) {
			return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, len(c.Embedding), len(queryVector))
		}
		results = append(results, ScoredChunk{
			Chunk: c,
			Score: float32(CosineSimilarity(queryVector, c.Embedding)),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Query checks which chunk IDs exist in the store
func (s *InMemoryStore) Query(ctx context.Context, ids []string) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existence := make(map[string]bool, len(ids))
	for _, id := range ids {
		_, ok := s.chunks[id]
		existence[id] = ok
	}
	return existence, nil
}

// DeleteSession removes every chunk tagged with sessionID
func (s *InMemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	for _, id := range s.order {
		if s.chunks[id].SessionID == sessionID {
			delete(s.chunks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

// Drop empties the store
func (s *InMemoryStore) Drop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunks = make(map[string]Chunk)
	s.order = nil
	return nil
}

// GetStats returns the number of stored chunks
func (s *InMemoryStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"backend":   "memory",
		"index":     s.name,
		"row_count": len(s.chunks),
	}, nil
}

// Close is a no-op
func (s *InMemoryStore) Close() error {
	return nil
}
