package rag

import (
	"context"
	"fmt"
)

// IndexChunks embeds chunks in batches and stores them in the vector store.
// This function:
// 1. Skips chunk IDs already present (when SkipExisting is set)
// 2. Generates embeddings in batches
// 3. Upserts chunks with their embeddings and metadata
// It returns the number of chunks written.
func IndexChunks(
	ctx context.Context,
	chunks []Chunk,
	embedder Embedder,
	vectorStore VectorStore,
	opts IndexOptions,
) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	if embedder == nil {
		return 0, fmt.Errorf("embedder cannot be nil")
	}

	if vectorStore == nil {
		return 0, fmt.Errorf("vector store cannot be nil")
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultIndexOptions().BatchSize
	}

	toIndex := chunks
	if opts.SkipExisting {
		toIndex = filterNewChunks(ctx, chunks, vectorStore)
	}

	written := 0
	for batchStart := 0; batchStart < len(toIndex); batchStart += opts.BatchSize {
		batchEnd := min(batchStart+opts.BatchSize, len(toIndex))
		batch := toIndex[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}

		embeddingRecords, err := embedder.Embed(ctx, texts)
		if err != nil {
			return written, fmt.Errorf("failed to generate embeddings for batch starting at %d: %w", batchStart, err)
		}
		if len(embeddingRecords) != len(batch) {
			return written, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbeddingFailed, len(batch), len(embeddingRecords))
		}

		records := make([]Chunk, len(batch))
		for i, c := range batch {
			c.Embedding = embeddingRecords[i].Embedding
			records[i] = c
		}

		if err := vectorStore.Insert(ctx, records); err != nil {
			return written, fmt.Errorf("failed to insert batch starting at %d: %w", batchStart, err)
		}
		written += len(records)
	}

	return written, nil
}

// filterNewChunks removes chunks whose IDs already exist in the vector store
func filterNewChunks(
	ctx context.Context,
	chunks []Chunk,
	vectorStore VectorStore,
) []Chunk {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	existing, err := vectorStore.Query(ctx, ids)
	if err != nil {
		// Upserts are idempotent, so indexing everything is still correct
		return chunks
	}

	fresh := make([]Chunk, 0, len(chunks))
	for _, c := range chunks {
		if !existing[c.ID] {
			fresh = append(fresh, c)
		}
	}
	return fresh
}

// ChunkIndex is the text-level view of one logical index.
type ChunkIndex interface {
	Add(ctx context.Context, chunks []Chunk) (int, error)
	MaxMarginalRelevanceSearch(ctx context.Context, query string, k, fetchK int, diversityWeight float64, opts *SearchOptions) ([]Chunk, error)
	SimilaritySearch(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Reset(ctx context.Context) error
}

// Index binds an Embedder to a VectorStore.
type Index struct {
	name        string
	embedder    Embedder
	vectorStore VectorStore
	opts        IndexOptions
}

// NewIndex creates a searchable index over a vector store
func NewIndex(name string, embedder Embedder, vectorStore VectorStore) (*Index, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if vectorStore == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}

	return &Index{
		name:        name,
		embedder:    embedder,
		vectorStore: vectorStore,
		opts:        DefaultIndexOptions(),
	}, nil
}

// Name returns the logical index name
func (x *Index) Name() string {
	return x.name
}

// Add embeds and stores chunks, skipping IDs already present
func (x *Index) Add(ctx context.Context, chunks []Chunk) (int, error) {
	return IndexChunks(ctx, chunks, x.embedder, x.vectorStore, x.opts)
}

func (x *Index) embedQuery(ctx context.Context, query string) ([]float32, error) {
	records, err := x.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no embedding generated for query")
	}
	return records[0].Embedding, nil
}

// MaxMarginalRelevanceSearch fetches fetchK nearest candidates and
// re-ranks them down to k with MaxMarginalRelevance.
func (x *Index) MaxMarginalRelevanceSearch(
	ctx context.Context,
	query string,
	k, fetchK int,
	diversityWeight float64,
	opts *SearchOptions,
) ([]Chunk, error) {
	if fetchK < k {
		fetchK = k
	}

	queryVector, err := x.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates, err := x.vectorStore.Search(ctx, queryVector, fetchK, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", x.name, err)
	}

	// Backends that cannot return vectors fall back to plain similarity order
	for _, c := range candidates {
		if len(c.Embedding) != len(queryVector) {
			return toChunks(candidates[:min(k, len(candidates))]), nil
		}
	}

	return toChunks(MaxMarginalRelevance(queryVector, candidates, k, diversityWeight)), nil
}

// SimilaritySearch returns the k nearest chunks to the query text
func (x *Index) SimilaritySearch(ctx context.Context, query string, k int, opts *SearchOptions) ([]Chunk, error) {
	queryVector, err := x.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	results, err := x.vectorStore.Search(ctx, queryVector, k, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", x.name, err)
	}
	return toChunks(results), nil
}

// DeleteSession removes a session's chunks from the index
func (x *Index) DeleteSession(ctx context.Context, sessionID string) error {
	return x.vectorStore.DeleteSession(ctx, sessionID)
}

// Reset drops every chunk and recreates the index empty
func (x *Index) Reset(ctx context.Context) error {
	return x.vectorStore.Drop(ctx)
}

// Stats returns backend statistics for the index
func (x *Index) Stats(ctx context.Context) (map[string]interface{}, error) {
	return x.vectorStore.GetStats(ctx)
}

// Close releases the underlying store
func (x *Index) Close() error {
	return x.vectorStore.Close()
}

func toChunks(scored []ScoredChunk) []Chunk {
	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = s.Chunk
	}
	return chunks
}
