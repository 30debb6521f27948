package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for vector store operations
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrEmptyRecords     = errors.New("no records provided for insertion")
	ErrConnectionFailed = errors.New("failed to connect to vector store")
	ErrInsertFailed     = errors.New("failed to insert records")
	ErrSearchFailed     = errors.New("failed to search vectors")
	ErrMissingMetadata  = errors.New("required metadata fields missing")
)

// Milvus field names
const (
	fieldChunkID   = "chunk_id"
	fieldSessionID = "session_id"
	fieldKind      = "kind"
	fieldSource    = "source"
	fieldBatchID   = "batch_id"
	fieldPage      = "page"
	fieldText      = "text"
	fieldEmbedding = "embedding"
)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection, one per logical index
	Dimension      int    // Vector dimension, must match the embedder
	IndexType      string // Index type (default: "HNSW")
	MetricType     string // Similarity metric (default: "COSINE")

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
}

// DefaultMilvusConfig returns default configuration from environment variables
func DefaultMilvusConfig(collection string) MilvusConfig {
	address := os.Getenv("MILVUS_ADDRESS")
	if address == "" {
		address = "localhost:19530"
	}

	dimension := 1536 // Default for text-embedding-3-small
	if v := os.Getenv("MEDRAG_EMBED_DIMENSION"); v != "" {
		if d, err := strconv.Atoi(v); err == nil && d > 0 {
			dimension = d
		}
	}

	return MilvusConfig{
		Address:        address,
		CollectionName: milvusCollectionName(collection),
		Dimension:      dimension,
		IndexType:      "HNSW",
		MetricType:     "COSINE",
		M:              16,
		EfConstruction: 256,
	}
}

// milvusCollectionName maps an index name to a valid collection name.
// Milvus allows only letters, digits and underscores.
func milvusCollectionName(name string) string {
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(name)
}

// MilvusStore implements VectorStore interface using Milvus
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore creates a new Milvus vector store instance
// Connects to Milvus and ensures the collection exists with proper schema
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if config.CollectionName == "" {
		return nil, fmt.Errorf("%w: collection name", ErrMissingMetadata)
	}

	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client: c,
		config: config,
	}

	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if has {
		return m.client.LoadCollection(ctx, m.config.CollectionName, false)
	}

	varchar := func(name string, maxLen int) *entity.Field {
		return &entity.Field{
			Name:     name,
			DataType: entity.FieldTypeVarChar,
			TypeParams: map[string]string{
				"max_length": strconv.Itoa(maxLen),
			},
		}
	}

	pk := varchar(fieldChunkID, 128)
	pk.PrimaryKey = true

	schema := &entity.Schema{
		CollectionName: m.config.CollectionName,
		Description:    "medrag chunks",
		Fields: []*entity.Field{
			pk,
			varchar(fieldSessionID, 128),
			varchar(fieldKind, 16),
			varchar(fieldSource, 512),
			varchar(fieldBatchID, 32),
			{
				Name:     fieldPage,
				DataType: entity.FieldTypeInt64,
			},
			varchar(fieldText, 65535),
			{
				Name:     fieldEmbedding,
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": strconv.Itoa(m.config.Dimension),
				},
			},
		},
	}

	if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
	if err != nil {
		return fmt.Errorf("failed to create index config: %w", err)
	}

	if err := m.client.CreateIndex(ctx, m.config.CollectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Insert upserts chunks keyed by chunk_id
func (m *MilvusStore) Insert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return ErrEmptyRecords
	}

	ids := make([]string, len(chunks))
	sessions := make([]string, len(chunks))
	kinds := make([]string, len(chunks))
	sources := make([]string, len(chunks))
	batches := make([]string, len(chunks))
	pages := make([]int64, len(chunks))
	texts := make([]string, len(chunks))
	embeddings := make([][]float32, len(chunks))

	for i, c := range chunks {
		if c.ID == "" {
			return fmt.Errorf("%w: chunk id", ErrMissingMetadata)
		}
		if len(c.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(c.Embedding))
		}
		ids[i] = c.ID
		sessions[i] = c.SessionID
		kinds[i] = string(c.Kind)
		sources[i] = c.Source
		batches[i] = c.BatchID
		pages[i] = int64(c.Page)
		texts[i] = c.Content
		embeddings[i] = c.Embedding
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(fieldChunkID, ids),
		entity.NewColumnVarChar(fieldSessionID, sessions),
		entity.NewColumnVarChar(fieldKind, kinds),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldBatchID, batches),
		entity.NewColumnInt64(fieldPage, pages),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnFloatVector(fieldEmbedding, m.config.Dimension, embeddings),
	}

	if _, err := m.client.Upsert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	// Flush so subsequent searches observe the new chunks
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

// Search performs top-K similarity search with optional session filtering
func (m *MilvusStore) Search(ctx context.Context, queryVector []float32, topK int, opts *SearchOptions) ([]ScoredChunk, error) {
	if len(queryVector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(queryVector))
	}
	if topK <= 0 {
		return []ScoredChunk{}, nil
	}

	expr := ""
	if opts != nil && opts.SessionID != "" {
		expr = fmt.Sprintf("%s == %s", fieldSessionID, strconv.Quote(opts.SessionID))
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, topK))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	vectors := []entity.Vector{entity.FloatVector(queryVector)}
	outputFields := []string{fieldChunkID, fieldSessionID, fieldKind, fieldSource, fieldBatchID, fieldPage, fieldText, fieldEmbedding}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		outputFields,
		vectors,
		fieldEmbedding,
		entity.COSINE,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []ScoredChunk{}, nil
	}

	chunks := make([]ScoredChunk, 0, results[0].ResultCount)

	for i := 0; i < results[0].ResultCount; i++ {
		chunk := ScoredChunk{Score: results[0].Scores[i]}

		for _, field := range results[0].Fields {
			switch col := field.(type) {
			case *entity.ColumnVarChar:
				value := col.Data()[i]
				switch col.Name() {
				case fieldChunkID:
					chunk.ID = value
				case fieldSessionID:
					chunk.SessionID = value
				case fieldKind:
					chunk.Kind = Kind(value)
				case fieldSource:
					chunk.Source = value
				case fieldBatchID:
					chunk.BatchID = value
				case fieldText:
					chunk.Content = value
				}
			case *entity.ColumnInt64:
				if col.Name() == fieldPage {
					chunk.Page = int(col.Data()[i])
				}
			case *entity.ColumnFloatVector:
				chunk.Embedding = col.Data()[i]
			}
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

// Query checks which chunk IDs exist in the store
func (m *MilvusStore) Query(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	results, err := m.client.Query(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		inExpr(fieldChunkID, ids),
		[]string{fieldChunkID},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}

	existenceMap := make(map[string]bool, len(ids))
	for _, id := range ids {
		existenceMap[id] = false
	}

	for _, column := range results {
		if column.Name() != fieldChunkID {
			continue
		}
		if varcharCol, ok := column.(*entity.ColumnVarChar); ok {
			for _, id := range varcharCol.Data() {
				existenceMap[id] = true
			}
		}
	}

	return existenceMap, nil
}

// DeleteSession removes every chunk tagged with sessionID
func (m *MilvusStore) DeleteSession(ctx context.Context, sessionID string) error {
	expr := fmt.Sprintf("%s == %s", fieldSessionID, strconv.Quote(sessionID))
	if err := m.client.Delete(ctx, m.config.CollectionName, "", expr); err != nil {
		return fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return nil
}

// Drop drops the collection and recreates it empty
func (m *MilvusStore) Drop(ctx context.Context) error {
	if err := m.client.DropCollection(ctx, m.config.CollectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return m.ensureCollection(ctx)
}

// GetStats returns collection statistics
func (m *MilvusStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]interface{}{
		"backend":   "milvus",
		"index":     m.config.CollectionName,
		"row_count": stats["row_count"],
	}, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

func inExpr(field string, values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = strconv.Quote(v)
	}
	return fmt.Sprintf("%s in [%s]", field, strings.Join(quoted, ", "))
}
