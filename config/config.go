// Package config loads runtime settings from .env, an optional YAML file and the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"

	VectorDBPostgres = "pgvector"
	VectorDBQdrant   = "qdrant"
)

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type VectorDBConfig struct {
	Provider  string `yaml:"provider"`
	IndexName string `yaml:"index_name"`
	APIKey    string `yaml:"api_key"`
	QdrantURL string `yaml:"qdrant_url"`
}

type SplitterConfig struct {
	Separator    string `yaml:"separator"`
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
}

type Config struct {
	LLM        LLMConfig       `yaml:"llm"`
	Embeddings EmbeddingConfig `yaml:"embeddings"`
	VectorDB   VectorDBConfig  `yaml:"vector_db"`

	OllamaHost    string `yaml:"ollama_host"`
	OpenAIAPIKey  string `yaml:"-"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	PostgresDSN string `yaml:"postgres_dsn"`
	Neo4jURI    string `yaml:"neo4j_uri"`
	Neo4jUser   string `yaml:"neo4j_user"`
	Neo4jPass   string `yaml:"-"`

	CacheDir         string         `yaml:"cache_dir"`
	DocumentSplitter SplitterConfig `yaml:"document_splitter"`
	QuizSplitter     SplitterConfig `yaml:"quiz_splitter"`
	MemoryTokenLimit int            `yaml:"memory_token_limit"`
	RetrievalK       int            `yaml:"retrieval_k"`
	ListenAddr       string         `yaml:"listen_addr"`
	WikipediaLang    string         `yaml:"wikipedia_lang"`
}

// Default returns the settings the apps ship with.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    ProviderOpenAI,
			Model:       "gpt-3.5-turbo-1106",
			Temperature: 0.1,
		},
		Embeddings: EmbeddingConfig{
			Provider:  ProviderOpenAI,
			Model:     "text-embedding-ada-002",
			Dimension: 1536,
		},
		VectorDB: VectorDBConfig{
			Provider:  VectorDBPostgres,
			IndexName: "recipes",
			QdrantURL: "http://localhost:6333",
		},
		OllamaHost:       "http://localhost:11434",
		PostgresDSN:      "postgres://localhost:5432/fullstack-gpt?sslmode=disable",
		Neo4jUser:        "neo4j",
		CacheDir:         ".cache",
		DocumentSplitter: SplitterConfig{Separator: "\n", ChunkSize: 300, ChunkOverlap: 100},
		QuizSplitter:     SplitterConfig{Separator: "\n", ChunkSize: 600, ChunkOverlap: 100},
		MemoryTokenLimit: 120,
		RetrievalK:       4,
		ListenAddr:       ":8000",
		WikipediaLang:    "en",
	}
}

// Load reads .env (if present), then the YAML file named by GPTAPPS_CONFIG or
// ./config.yaml (if present), then applies environment overrides.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	path := getEnv("GPTAPPS_CONFIG", "config.yaml")
	if err := loadFile(path, &cfg); err != nil {
		return Config{}, err
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.LLM.Provider = getEnv("LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.Model = getEnv("LLM_MODEL", cfg.LLM.Model)
	cfg.LLM.Temperature = getEnvFloat("LLM_TEMPERATURE", cfg.LLM.Temperature)

	cfg.Embeddings.Provider = getEnv("EMBEDDINGS_PROVIDER", cfg.Embeddings.Provider)
	cfg.Embeddings.Model = getEnv("EMBEDDINGS_MODEL", cfg.Embeddings.Model)
	cfg.Embeddings.Dimension = getEnvInt("EMBEDDINGS_DIMENSION", cfg.Embeddings.Dimension)

	cfg.VectorDB.Provider = getEnv("VECTOR_DB_PROVIDER", cfg.VectorDB.Provider)
	cfg.VectorDB.IndexName = getEnv("VECTOR_DB_INDEX", cfg.VectorDB.IndexName)
	cfg.VectorDB.APIKey = getEnv("VECTOR_DB_API_KEY", cfg.VectorDB.APIKey)
	cfg.VectorDB.QdrantURL = getEnv("QDRANT_URL", cfg.VectorDB.QdrantURL)

	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)

	cfg.PostgresDSN = getEnv("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.Neo4jURI = getEnv("NEO4J_URI", cfg.Neo4jURI)
	cfg.Neo4jUser = getEnv("NEO4J_USERNAME", cfg.Neo4jUser)
	cfg.Neo4jPass = getEnv("NEO4J_PASSWORD", cfg.Neo4jPass)

	cfg.CacheDir = getEnv("CACHE_DIR", cfg.CacheDir)
	cfg.MemoryTokenLimit = getEnvInt("MEMORY_TOKEN_LIMIT", cfg.MemoryTokenLimit)
	cfg.RetrievalK = getEnvInt("RETRIEVAL_K", cfg.RetrievalK)
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.WikipediaLang = getEnv("WIKIPEDIA_LANG", cfg.WikipediaLang)
}

// Validate rejects provider names no component knows how to build.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}
	switch c.Embeddings.Provider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider)
	}
	switch c.VectorDB.Provider {
	case VectorDBPostgres, VectorDBQdrant:
	default:
		return fmt.Errorf("unknown vector db provider: %s", c.VectorDB.Provider)
	}
	for name, s := range map[string]SplitterConfig{"document": c.DocumentSplitter, "quiz": c.QuizSplitter} {
		if s.ChunkSize <= 0 {
			return fmt.Errorf("%s splitter chunk size must be positive", name)
		}
		if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
			return fmt.Errorf("%s splitter overlap must be in [0, chunk size)", name)
		}
	}
	return nil
}

// Path joins elem onto the cache root.
func (c Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.CacheDir}, elem...)...)
}

// GraphEnabled reports whether a Neo4j URI was configured.
func (c Config) GraphEnabled() bool {
	return c.Neo4jURI != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float32) float32 {
	value := getEnv(key, "")
	if value == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}
