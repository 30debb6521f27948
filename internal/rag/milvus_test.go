package rag

import (
	"context"
	"errors"
	"os"
	"testing"
)

// TestDefaultMilvusConfig tests default configuration
func TestDefaultMilvusConfig(t *testing.T) {
	t.Setenv("MILVUS_ADDRESS", "")
	t.Setenv("MEDRAG_EMBED_DIMENSION", "")

	config := DefaultMilvusConfig("patient-reports")

	if config.Address != "localhost:19530" {
		t.Errorf("Expected default address, got %s", config.Address)
	}

	if config.CollectionName != "patient_reports" {
		t.Errorf("Expected sanitized collection name, got %s", config.CollectionName)
	}

	if config.Dimension != 1536 {
		t.Errorf("Expected dimension 1536, got %d", config.Dimension)
	}

	if config.IndexType != "HNSW" {
		t.Errorf("Expected index type HNSW, got %s", config.IndexType)
	}

	if config.MetricType != "COSINE" {
		t.Errorf("Expected metric type COSINE, got %s", config.MetricType)
	}
}

func TestDefaultMilvusConfig_DimensionOverride(t *testing.T) {
	t.Setenv("MEDRAG_EMBED_DIMENSION", "384")

	if got := DefaultMilvusConfig("x").Dimension; got != 384 {
		t.Errorf("Expected dimension 384, got %d", got)
	}
}

func TestNewMilvusStore_InvalidDimension(t *testing.T) {
	config := DefaultMilvusConfig("x")
	config.Dimension = 0

	if _, err := NewMilvusStore(context.Background(), config); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension, got: %v", err)
	}
}

func TestMilvusStore_EmptyRecords(t *testing.T) {
	store := &MilvusStore{config: DefaultMilvusConfig("x")}

	if err := store.Insert(context.Background(), []Chunk{}); !errors.Is(err, ErrEmptyRecords) {
		t.Errorf("Expected ErrEmptyRecords, got: %v", err)
	}
}

func TestMilvusStore_SearchDimensionMismatch(t *testing.T) {
	store := &MilvusStore{config: DefaultMilvusConfig("x")}

	_, err := store.Search(context.Background(), []float32{1, 2, 3}, 5, nil)
	if !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Expected ErrInvalidDimension, got: %v", err)
	}
}

func TestInExpr(t *testing.T) {
	got := inExpr("chunk_id", []string{"a-0", "b-1"})
	want := `chunk_id in ["a-0", "b-1"]`
	if got != want {
		t.Errorf("inExpr() = %s, want %s", got, want)
	}
}

// Integration test: Insert, Search, DeleteSession full workflow
func TestMilvusStore_Integration_FullWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	if os.Getenv("MILVUS_ADDRESS") == "" {
		t.Skip("MILVUS_ADDRESS not set")
	}

	ctx := context.Background()
	config := DefaultMilvusConfig("medrag_test_integration")
	config.Dimension = 64

	store, err := NewMilvusStore(ctx, config)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()
	defer func() { _ = store.Drop(ctx) }()

	runStoreWorkflow(t, store, 64)
}

// runStoreWorkflow exercises any VectorStore backend end to end
func runStoreWorkflow(t *testing.T, store VectorStore, dim int) {
	t.Helper()
	ctx := context.Background()
	embedder := NewMockEmbedder(dim)

	_ = store.DeleteSession(ctx, "it-S1")
	_ = store.DeleteSession(ctx, "it-S2")

	n, err := IndexChunks(ctx, []Chunk{
		{ID: "it000001-0", Content: "Hemoglobin 11.1 g/dL", SessionID: "it-S1", Kind: KindPatient, Source: "patient_cbc.pdf"},
		{ID: "it000001-1", Content: "Ferritin 8 ng/mL", SessionID: "it-S1", Kind: KindPatient, Source: "patient_cbc.pdf"},
		{ID: "it000002-0", Content: "TSH 2.1 mIU/L", SessionID: "it-S2", Kind: KindPatient, Source: "patient_thyroid.pdf"},
	}, embedder, store, DefaultIndexOptions())
	if err != nil {
		t.Fatalf("IndexChunks failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("Expected 3 chunks written, got %d", n)
	}

	records, _ := embedder.Embed(ctx, []string{"hemoglobin"})
	results, err := store.Search(ctx, records[0].Embedding, 5, &SearchOptions{SessionID: "it-S1"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected 2 S1 results, got %d", len(results))
	}
	for _, r := range results {
		if r.SessionID != "it-S1" {
			t.Errorf("Expected session it-S1, got %s", r.SessionID)
		}
		if len(r.Embedding) != dim {
			t.Errorf("Expected %d-dim embedding, got %d", dim, len(r.Embedding))
		}
	}

	existing, err := store.Query(ctx, []string{"it000001-0", "missing-0"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !existing["it000001-0"] || existing["missing-0"] {
		t.Errorf("Unexpected existence map: %v", existing)
	}

	if err := store.DeleteSession(ctx, "it-S1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	results, err = store.Search(ctx, records[0].Embedding, 5, &SearchOptions{SessionID: "it-S1"})
	if err != nil {
		t.Fatalf("Search after delete failed: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Expected no S1 results after delete, got %d", len(results))
	}
}

func TestInMemoryStore_Workflow(t *testing.T) {
	runStoreWorkflow(t, NewInMemoryStore("workflow"), 64)
}
