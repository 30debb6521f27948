// Package config loads medrag settings from an optional YAML file and the
// environment, validates them and maps them onto the pipeline configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Yates-Labs/medrag/internal/agent"
	"github.com/Yates-Labs/medrag/internal/metrics"
	"github.com/Yates-Labs/medrag/internal/narrative"
	"github.com/Yates-Labs/medrag/internal/orchestrator"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Store     StoreConfig     `yaml:"store"`
	Indexes   IndexConfig     `yaml:"indexes"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Agent     AgentConfig     `yaml:"agent"`
}

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	APIKey      string        `yaml:"api_key"`
	Project     string        `yaml:"project"`
	Location    string        `yaml:"location"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"api_key"`
}

type StoreConfig struct {
	Backend       string       `yaml:"backend"`
	MilvusAddress string       `yaml:"milvus_address"`
	PostgresDSN   string       `yaml:"postgres_dsn"`
	Qdrant        QdrantConfig `yaml:"qdrant"`
}

type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
	TLS    bool   `yaml:"tls"`
}

type IndexConfig struct {
	Helpbook string `yaml:"helpbook"`
	Patient  string `yaml:"patient"`
}

type MetricsConfig struct {
	CSV                   string  `yaml:"csv"`
	Judge                 bool    `yaml:"judge"`
	FaithfulnessThreshold float64 `yaml:"faithfulness_threshold"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AgentConfig controls model-routed chat.
type AgentConfig struct {
	WebSearch     bool `yaml:"web_search"`
	MaxSteps      int  `yaml:"max_steps"`
	SearchResults int  `yaml:"search_results"`
}

// Default returns the built-in configuration.
func Default() Config {
	rag := orchestrator.DefaultRAGConfig()
	return Config{
		LLM: LLMConfig{
			Provider:    string(rag.LLMConfig.Provider),
			Model:       rag.LLMConfig.Model,
			Temperature: rag.LLMConfig.Temperature,
			MaxTokens:   rag.LLMConfig.MaxTokens,
			Timeout:     rag.LLMConfig.Timeout,
		},
		Embedding: EmbeddingConfig{
			Provider:  rag.EmbedProvider,
			Model:     rag.EmbedderModel,
			Dimension: rag.EmbedderDimension,
		},
		Store: StoreConfig{
			Backend:       orchestrator.StoreMilvus,
			MilvusAddress: "localhost:19530",
			Qdrant:        QdrantConfig{Host: "localhost", Port: 6334},
		},
		Indexes: IndexConfig{
			Helpbook: rag.HelpbookIndex,
			Patient:  rag.PatientIndex,
		},
		Metrics: MetricsConfig{
			CSV:                   rag.MetricsCSV,
			Judge:                 rag.Judge,
			FaithfulnessThreshold: metrics.DefaultFaithfulnessThreshold,
		},
		Log:  LogConfig{Level: "info"},
		HTTP: HTTPConfig{Addr: ":8080"},
		Agent: AgentConfig{
			WebSearch:     true,
			MaxSteps:      agent.DefaultConfig().MaxSteps,
			SearchResults: agent.DefaultConfig().SearchResults,
		},
	}
}

// Load returns Default overlaid with the YAML file at path (if non-empty)
// and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables that are set.
func (c *Config) ApplyEnv() error {
	setString(&c.LLM.Provider, "MEDRAG_LLM_PROVIDER")
	setString(&c.LLM.Model, "MEDRAG_LLM_MODEL")
	setString(&c.Embedding.Provider, "MEDRAG_EMBED_PROVIDER")
	setString(&c.Embedding.Model, "MEDRAG_EMBED_MODEL")
	setString(&c.Store.Backend, "MEDRAG_STORE")
	setString(&c.Store.MilvusAddress, "MILVUS_ADDRESS")
	setString(&c.Store.PostgresDSN, "POSTGRES_DSN")
	setString(&c.Store.Qdrant.Host, "QDRANT_HOST")
	setString(&c.Store.Qdrant.APIKey, "QDRANT_API_KEY")
	setString(&c.Indexes.Helpbook, "GENERAL_INDEX_NAME")
	setString(&c.Indexes.Patient, "PATIENT_INDEX_NAME")
	setString(&c.Metrics.CSV, "MEDRAG_METRICS_CSV")
	setString(&c.Log.Level, "MEDRAG_LOG_LEVEL")
	setString(&c.HTTP.Addr, "MEDRAG_HTTP_ADDR")

	if err := setInt(&c.Embedding.Dimension, "MEDRAG_EMBED_DIMENSION"); err != nil {
		return err
	}
	if err := setInt(&c.Store.Qdrant.Port, "QDRANT_PORT"); err != nil {
		return err
	}
	if v := os.Getenv("MEDRAG_WEB_SEARCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MEDRAG_WEB_SEARCH: %v", ErrInvalidConfig, err)
		}
		c.Agent.WebSearch = b
	}
	if v := os.Getenv("MEDRAG_LLM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MEDRAG_LLM_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.LLM.Timeout = d
	}

	if c.LLM.APIKey == "" {
		c.LLM.APIKey = providerKey(c.LLM.Provider)
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = providerKey(c.Embedding.Provider)
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case string(narrative.ProviderOpenAI):
		return os.Getenv("OPENAI_API_KEY")
	case string(narrative.ProviderGemini):
		if k := os.Getenv("GEMINI_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GOOGLE_API_KEY")
	default:
		return ""
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, key, err)
	}
	*dst = n
	return nil
}

// Validate reports missing credentials and unknown providers or backends.
// All problems are returned together.
func (c Config) Validate() error {
	var problems []string

	switch c.LLM.Provider {
	case string(narrative.ProviderOpenAI):
		if c.LLM.APIKey == "" {
			problems = append(problems, "OPENAI_API_KEY is not set")
		}
	case string(narrative.ProviderGemini):
		if c.LLM.APIKey == "" && c.LLM.Project == "" {
			problems = append(problems, "GEMINI_API_KEY or GOOGLE_API_KEY is not set")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown llm provider %q", c.LLM.Provider))
	}
	if c.LLM.Model == "" {
		problems = append(problems, "llm model is empty")
	}

	switch c.Embedding.Provider {
	case orchestrator.EmbedOpenAI, orchestrator.EmbedGemini:
		if c.Embedding.APIKey == "" && !(c.Embedding.Provider == orchestrator.EmbedGemini && c.LLM.Project != "") {
			problems = append(problems, fmt.Sprintf("no API key for %s embeddings", c.Embedding.Provider))
		}
	case orchestrator.EmbedMock:
	default:
		problems = append(problems, fmt.Sprintf("unknown embedding provider %q", c.Embedding.Provider))
	}
	if c.Embedding.Dimension <= 0 {
		problems = append(problems, "embedding dimension must be positive")
	}

	switch c.Store.Backend {
	case orchestrator.StoreMilvus, orchestrator.StorePGVector, orchestrator.StoreQdrant, orchestrator.StoreMemory:
	default:
		problems = append(problems, fmt.Sprintf("unknown vector store %q", c.Store.Backend))
	}

	if c.Indexes.Helpbook == "" || c.Indexes.Patient == "" {
		problems = append(problems, "index names must not be empty")
	}
	if c.Indexes.Helpbook == c.Indexes.Patient {
		problems = append(problems, "helpbook and patient indexes must differ")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ToRAGConfig maps the configuration onto the pipeline's settings.
func (c Config) ToRAGConfig() orchestrator.RAGConfig {
	return orchestrator.RAGConfig{
		HelpbookIndex: c.Indexes.Helpbook,
		PatientIndex:  c.Indexes.Patient,
		Store: orchestrator.StoreConfig{
			Backend:       c.Store.Backend,
			MilvusAddress: c.Store.MilvusAddress,
			PostgresDSN:   c.Store.PostgresDSN,
			QdrantHost:    c.Store.Qdrant.Host,
			QdrantPort:    c.Store.Qdrant.Port,
			QdrantAPIKey:  c.Store.Qdrant.APIKey,
			QdrantTLS:     c.Store.Qdrant.TLS,
		},
		EmbedProvider:     c.Embedding.Provider,
		EmbedAPIKey:       c.Embedding.APIKey,
		EmbedderModel:     c.Embedding.Model,
		EmbedderDimension: c.Embedding.Dimension,
		LLMConfig: narrative.LLMConfig{
			Provider:    narrative.Provider(c.LLM.Provider),
			Model:       c.LLM.Model,
			Temperature: c.LLM.Temperature,
			MaxTokens:   c.LLM.MaxTokens,
			APIKey:      c.LLM.APIKey,
			Project:     c.LLM.Project,
			Location:    c.LLM.Location,
			Timeout:     c.LLM.Timeout,
		},
		MetricsCSV:            c.Metrics.CSV,
		Judge:                 c.Metrics.Judge,
		FaithfulnessThreshold: c.Metrics.FaithfulnessThreshold,
	}
}

// ToAgentConfig maps the configuration onto the chat agent's settings. Each
// model round gets the LLM timeout.
func (c Config) ToAgentConfig() agent.Config {
	return agent.Config{
		MaxSteps:      c.Agent.MaxSteps,
		SearchResults: c.Agent.SearchResults,
		StepTimeout:   c.LLM.Timeout,
	}
}
