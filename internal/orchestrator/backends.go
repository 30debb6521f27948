package orchestrator

import (
	"context"
	"fmt"

	"github.com/Yates-Labs/medrag/internal/rag"
)

// Vector store backends.
const (
	StoreMilvus   = "milvus"
	StorePGVector = "pgvector"
	StoreQdrant   = "qdrant"
	StoreMemory   = "memory"
)

// Embedding providers.
const (
	EmbedOpenAI = "openai"
	EmbedGemini = "gemini"
	EmbedMock   = "mock"
)

// StoreConfig selects and addresses the vector backend shared by both indexes.
type StoreConfig struct {
	Backend string

	MilvusAddress string

	PostgresDSN string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
}

// newVectorStore opens the backend for one logical index.
func newVectorStore(ctx context.Context, sc StoreConfig, index string, dimension int) (rag.VectorStore, error) {
	switch sc.Backend {
	case StoreMilvus, "":
		cfg := rag.DefaultMilvusConfig(index)
		cfg.Dimension = dimension
		if sc.MilvusAddress != "" {
			cfg.Address = sc.MilvusAddress
		}
		store, err := rag.NewMilvusStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StorePGVector:
		cfg := rag.DefaultPostgresConfig(index, dimension)
		if sc.PostgresDSN != "" {
			cfg.DSN = sc.PostgresDSN
		}
		store, err := rag.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreQdrant:
		cfg := rag.DefaultQdrantConfig(index, dimension)
		if sc.QdrantHost != "" {
			cfg.Host = sc.QdrantHost
		}
		if sc.QdrantPort > 0 {
			cfg.Port = sc.QdrantPort
		}
		if sc.QdrantAPIKey != "" {
			cfg.APIKey = sc.QdrantAPIKey
		}
		cfg.UseTLS = sc.QdrantTLS
		store, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return store, nil
	case StoreMemory:
		return rag.NewInMemoryStore(index), nil
	default:
		return nil, fmt.Errorf("%w: unknown vector store %q", ErrConfiguration, sc.Backend)
	}
}

// newEmbedder builds the configured embedding provider.
func newEmbedder(ctx context.Context, config RAGConfig) (rag.Embedder, error) {
	switch config.EmbedProvider {
	case EmbedOpenAI, "":
		embedder, err := rag.NewOpenAIEmbedder(config.EmbedAPIKey, config.EmbedderModel, config.EmbedderDimension)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case EmbedGemini:
		embedder, err := rag.NewGeminiEmbedder(ctx, rag.GeminiConfig{
			APIKey:   config.EmbedAPIKey,
			Project:  config.LLMConfig.Project,
			Location: config.LLMConfig.Location,
		}, config.EmbedderModel, config.EmbedderDimension)
		if err != nil {
			return nil, err
		}
		return embedder, nil
	case EmbedMock:
		return rag.NewMockEmbedder(config.EmbedderDimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedding provider %q", ErrConfiguration, config.EmbedProvider)
	}
}
