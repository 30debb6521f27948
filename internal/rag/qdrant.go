package rag

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds configuration for the Qdrant-backed store
type QdrantConfig struct {
	Host           string
	Port           int
	APIKey         string
	UseTLS         bool
	CollectionName string
	Dimension      int
}

// DefaultQdrantConfig returns default configuration from environment variables
func DefaultQdrantConfig(collection string, dimension int) QdrantConfig {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}
	return QdrantConfig{
		Host:           host,
		Port:           port,
		APIKey:         os.Getenv("QDRANT_API_KEY"),
		CollectionName: collection,
		Dimension:      dimension,
	}
}

// QdrantStore implements VectorStore using a Qdrant collection per logical index
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantStore connects to Qdrant and ensures the collection exists
func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if config.CollectionName == "" {
		return nil, fmt.Errorf("%w: collection name", ErrMissingMetadata)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config}
	if err := store.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return store, nil
}

func (q *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.config.CollectionName)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	if exists {
		return nil
	}

	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.config.CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.config.Dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", q.config.CollectionName, err)
	}
	return nil
}

// pointID maps a chunk ID to the UUID Qdrant requires
func (q *QdrantStore) pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(q.config.CollectionName+"/"+chunkID)).String())
}

// Insert upserts chunks as points keyed by a UUID derived from the chunk ID
func (q *QdrantStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return ErrEmptyRecords
	}

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk id", ErrMissingMetadata)
		}
		if len(c.Embedding) != q.config.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, q.config.Dimension, len(c.Embedding))
		}
		points[i] = &qdrant.PointStruct{
			Id:      q.pointID(c.ID),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]interface{}{
				"chunk_id":   c.ID,
				"session_id": c.SessionID,
				"kind":       string(c.Kind),
				"source":     c.Source,
				"batch_id":   c.BatchID,
				"page":       c.Page,
				"text":       c.Content,
			}),
		}
	}

	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.config.CollectionName,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}
	return nil
}

func sessionFilter(sessionID string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("session_id", sessionID),
		},
	}
}

// Search queries nearest points, returning payloads and vectors
func (q *QdrantStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ScoredChunk, error) {
	if len(queryVector) != q.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, q.config.Dimension, len(queryVector))
	}
	if topK <= 0 {
		return []ScoredChunk{}, nil
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: q.config.CollectionName,
		Query:          qdrant.NewQuery(queryVector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	}
	if opts != nil && opts.SessionID != "" {
		req.Filter = sessionFilter(opts.SessionID)
	}

	hits, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		payload := hit.GetPayload()
		results = append(results, ScoredChunk{
			Chunk: Chunk{
				ID:        payload["chunk_id"].GetStringValue(),
				SessionID: payload["session_id"].GetStringValue(),
				Kind:      Kind(payload["kind"].GetStringValue()),
				Source:    payload["source"].GetStringValue(),
				BatchID:   payload["batch_id"].GetStringValue(),
				Page:      int(payload["page"].GetIntegerValue()),
				Content:   payload["text"].GetStringValue(),
				Embedding: denseVector(hit.GetVectors()),
			},
			Score: hit.GetScore(),
		})
	}
	return results, nil
}

// denseVector extracts the unnamed dense vector from a query hit
func denseVector(v *qdrant.VectorsOutput) []float32 {
	return v.GetVector().GetData()
}

// Query checks which chunk IDs exist in the store
func (q *QdrantStore) Query(ctx context.Context, ids []string) (map[string]bool, error) {
	existence := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existence, nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		existence[id] = false
		pointIDs[i] = q.pointID(id)
	}

	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.config.CollectionName,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	for _, p := range points {
		existence[p.GetPayload()["chunk_id"].GetStringValue()] = true
	}
	return existence, nil
}

// DeleteSession removes every point whose payload carries sessionID
func (q *QdrantStore) DeleteSession(ctx context.Context, sessionID string) error {
	wait := true
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.config.CollectionName,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: sessionFilter(sessionID),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return nil
}

// Drop deletes and recreates the collection
func (q *QdrantStore) Drop(ctx context.Context) error {
	if err := q.client.DeleteCollection(ctx, q.config.CollectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return q.ensureCollection(ctx)
}

// GetStats returns the exact point count
func (q *QdrantStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	exact := true
	count, err := q.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: q.config.CollectionName,
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return map[string]interface{}{
		"backend":   "qdrant",
		"index":     q.config.CollectionName,
		"row_count": count,
	}, nil
}

// Close releases the gRPC connection
func (q *QdrantStore) Close() error {
	return q.client.Close()
}
