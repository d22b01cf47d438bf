package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ServiceFree = "free"
	ServicePaid = "paid"

	SourceLocalFile     = "local_file"
	SourceRemoteWebsite = "remote_website_link"

	VectorStoreChroma   = "chroma"
	VectorStorePGVector = "pgvector"

	HistoryStoreMemory = "memory"
	HistoryStoreBolt   = "bolt"

	EmbeddingProviderOllama = "ollama"
	EmbeddingProviderOpenAI = "openai"
)

const (
	defaultLanguage        = "English"
	defaultChunkSize       = 1000
	defaultChunkOverlap    = 200
	defaultTopK            = 4
	defaultOllamaURL       = "http://localhost:11434"
	defaultGroqURL         = "https://api.groq.com/openai/v1"
	defaultEmbeddingModel  = "all-minilm"
	defaultCollection      = "rag_collection"
	defaultFetchTimeout    = 30
	defaultHistoryBoltPath = "./chat_history.db"
	defaultLogLevel        = "info"
)

var defaultModels = map[string]string{
	ServiceFree: "llama3.2",
	ServicePaid: "llama-3.1-8b-instant",
}

var defaultContentSelectors = []string{".post-content", ".post-title", ".post-header"}

// ErrInvalidConfig is returned by Validate for any rejected field.
var ErrInvalidConfig = errors.New("invalid config")

type LocalFileSource struct {
	DirectoryName string `json:"directory_name" yaml:"directory_name"`
	FileName      string `json:"file_name" yaml:"file_name"`
}

type SourceURL struct {
	LocalFile         LocalFileSource `json:"local_file" yaml:"local_file"`
	RemoteWebsiteLink string          `json:"remote_website_link" yaml:"remote_website_link"`
}

type SplitConfig struct {
	ChunkSize    int  `json:"chunk_size" yaml:"chunk_size"`
	ChunkOverlap *int `json:"chunk_overlap" yaml:"chunk_overlap"`
}

type EmbeddingConfig struct {
	ModelName string `json:"model_name" yaml:"model_name"`
	Provider  string `json:"provider" yaml:"provider"`
	BaseURL   string `json:"base_url" yaml:"base_url"`
	APIKey    string `json:"api_key" yaml:"api_key"`
}

type ChromaDBConfig struct {
	PersistDirectory string `json:"persist_directory" yaml:"persist_directory"`
	CollectionName   string `json:"collection_name" yaml:"collection_name"`
	Compress         bool   `json:"compress" yaml:"compress"`
	ExportFile       string `json:"export_file" yaml:"export_file"`
	EncryptionKey    string `json:"encryption_key" yaml:"encryption_key"`
}

type PGVectorConfig struct {
	DSN   string `json:"dsn" yaml:"dsn"`
	Debug bool   `json:"debug" yaml:"debug"`
}

type RetrieverConfig struct {
	TopK int `json:"top_k" yaml:"top_k"`
}

type HistoryStoreConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

// Config mirrors key.json and keeps its key names.
type Config struct {
	LLMService  string            `json:"llm_service" yaml:"llm_service"`
	ModelDict   map[string]string `json:"model_dict" yaml:"model_dict"`
	GroqAPIKey  string            `json:"GROQ_API_KEY" yaml:"GROQ_API_KEY"`
	OllamaURL   string            `json:"ollama_base_url" yaml:"ollama_base_url"`
	GroqBaseURL string            `json:"groq_base_url" yaml:"groq_base_url"`

	DataSourceType         string      `json:"data_source_type" yaml:"data_source_type"`
	SourceURL              SourceURL   `json:"source_url" yaml:"source_url"`
	RemoteContentSelectors []string    `json:"remote_content_selectors" yaml:"remote_content_selectors"`
	FetchTimeoutSeconds    int         `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	Split                  SplitConfig `json:"document_spliting_config" yaml:"document_spliting_config"`

	Embedding      EmbeddingConfig `json:"HGFembedding" yaml:"HGFembedding"`
	VectorStore    string          `json:"vector_store" yaml:"vector_store"`
	ChromaDB       ChromaDBConfig  `json:"chroma_db_config" yaml:"chroma_db_config"`
	PGVector       PGVectorConfig  `json:"pgvector_config" yaml:"pgvector_config"`
	Retriever      RetrieverConfig `json:"retriever" yaml:"retriever"`
	UseChatHistory *bool           `json:"use_chat_history" yaml:"use_chat_history"`

	Language           string             `json:"language" yaml:"language"`
	ChatSessionID      string             `json:"chat_session_id" yaml:"chat_session_id"`
	HistoryStore       HistoryStoreConfig `json:"history_store" yaml:"history_store"`
	TurnTimeoutSeconds int                `json:"turn_timeout_seconds" yaml:"turn_timeout_seconds"`

	TrackQueriesOnLangsmith bool   `json:"track_queries_on_langsmith" yaml:"track_queries_on_langsmith"`
	LangchainAPIKey         string `json:"LANGCHAIN_API_KEY" yaml:"LANGCHAIN_API_KEY"`
	LangchainTracingV2      string `json:"LANGCHAIN_TRACING_V2" yaml:"LANGCHAIN_TRACING_V2"`
	LangchainProjectName    string `json:"LANGCHAIN_PROJECT_NAME" yaml:"LANGCHAIN_PROJECT_NAME"`

	LogLevel string `json:"log_level" yaml:"log_level"`
}

// LoadConfig reads a JSON or YAML settings file, fills defaults and validates it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &cfg)
	default:
		err = yaml.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if cfg.GroqAPIKey == "" {
		cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.LLMService == "" {
		c.LLMService = ServiceFree
	}
	if c.ModelDict == nil {
		c.ModelDict = map[string]string{}
	}
	for service, model := range defaultModels {
		if c.ModelDict[service] == "" {
			c.ModelDict[service] = model
		}
	}
	if c.OllamaURL == "" {
		c.OllamaURL = defaultOllamaURL
	}
	if c.GroqBaseURL == "" {
		c.GroqBaseURL = defaultGroqURL
	}
	if len(c.RemoteContentSelectors) == 0 {
		c.RemoteContentSelectors = append([]string(nil), defaultContentSelectors...)
	}
	if c.FetchTimeoutSeconds == 0 {
		c.FetchTimeoutSeconds = defaultFetchTimeout
	}
	if c.Split.ChunkSize == 0 {
		c.Split.ChunkSize = defaultChunkSize
	}
	if c.Split.ChunkOverlap == nil {
		overlap := defaultChunkOverlap
		c.Split.ChunkOverlap = &overlap
	}
	if c.Embedding.ModelName == "" {
		c.Embedding.ModelName = defaultEmbeddingModel
	}
	if c.Embedding.Provider == "" {
		c.Embedding.Provider = EmbeddingProviderOllama
	}
	if c.Embedding.BaseURL == "" && c.Embedding.Provider == EmbeddingProviderOllama {
		c.Embedding.BaseURL = c.OllamaURL
	}
	if c.VectorStore == "" {
		c.VectorStore = VectorStoreChroma
	}
	if c.ChromaDB.CollectionName == "" {
		c.ChromaDB.CollectionName = defaultCollection
	}
	if c.Retriever.TopK == 0 {
		c.Retriever.TopK = defaultTopK
	}
	if c.UseChatHistory == nil {
		enabled := true
		c.UseChatHistory = &enabled
	}
	if c.Language == "" {
		c.Language = defaultLanguage
	}
	if c.HistoryStore.Type == "" {
		c.HistoryStore.Type = HistoryStoreMemory
	}
	if c.HistoryStore.Type == HistoryStoreBolt && c.HistoryStore.Path == "" {
		c.HistoryStore.Path = defaultHistoryBoltPath
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate rejects settings that would only fail later, deep inside a turn.
func (c *Config) Validate() error {
	switch c.LLMService {
	case ServiceFree, ServicePaid:
	default:
		return fmt.Errorf("%w: llm_service must be %q or %q, got %q", ErrInvalidConfig, ServiceFree, ServicePaid, c.LLMService)
	}
	if c.ModelName() == "" {
		return fmt.Errorf("%w: model_dict has no model for %q", ErrInvalidConfig, c.LLMService)
	}

	switch c.DataSourceType {
	case SourceLocalFile:
		if c.SourceURL.LocalFile.FileName == "" {
			return fmt.Errorf("%w: source_url.local_file.file_name is required", ErrInvalidConfig)
		}
	case SourceRemoteWebsite:
		if c.SourceURL.RemoteWebsiteLink == "" {
			return fmt.Errorf("%w: source_url.remote_website_link is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: data_source_type must be %q or %q, got %q", ErrInvalidConfig, SourceLocalFile, SourceRemoteWebsite, c.DataSourceType)
	}

	if c.Split.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive", ErrInvalidConfig)
	}
	if overlap := c.ChunkOverlap(); overlap < 0 || overlap >= c.Split.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must be in [0, chunk_size), got %d", ErrInvalidConfig, overlap)
	}

	switch c.Embedding.Provider {
	case EmbeddingProviderOllama, EmbeddingProviderOpenAI:
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", ErrInvalidConfig, c.Embedding.Provider)
	}

	switch c.VectorStore {
	case VectorStoreChroma:
		if c.ChromaDB.PersistDirectory == "" {
			return fmt.Errorf("%w: chroma_db_config.persist_directory is required", ErrInvalidConfig)
		}
	case VectorStorePGVector:
		if c.PGVector.DSN == "" {
			return fmt.Errorf("%w: pgvector_config.dsn is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown vector_store %q", ErrInvalidConfig, c.VectorStore)
	}

	switch c.HistoryStore.Type {
	case HistoryStoreMemory, HistoryStoreBolt:
	default:
		return fmt.Errorf("%w: unknown history_store type %q", ErrInvalidConfig, c.HistoryStore.Type)
	}

	if c.Retriever.TopK < 0 {
		return fmt.Errorf("%w: retriever.top_k must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ModelName resolves the chat model for the selected backend.
func (c *Config) ModelName() string {
	return c.ModelDict[c.LLMService]
}

func (c *Config) ChunkOverlap() int {
	if c.Split.ChunkOverlap == nil {
		return defaultChunkOverlap
	}
	return *c.Split.ChunkOverlap
}

func (c *Config) HistoryEnabled() bool {
	return c.UseChatHistory == nil || *c.UseChatHistory
}

// SourceLocator turns the configured source into a path or URL.
// Local files are resolved against the working directory.
func (c *Config) SourceLocator() (string, error) {
	switch c.DataSourceType {
	case SourceLocalFile:
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		return filepath.Join(wd, c.SourceURL.LocalFile.DirectoryName, c.SourceURL.LocalFile.FileName), nil
	case SourceRemoteWebsite:
		return c.SourceURL.RemoteWebsiteLink, nil
	default:
		return "", nil
	}
}

// ApplyTracingEnv exports the LangChain tracing variables when tracking is enabled.
func (c *Config) ApplyTracingEnv() error {
	if !c.TrackQueriesOnLangsmith {
		return nil
	}
	vars := map[string]string{
		"LANGCHAIN_API_KEY":    c.LangchainAPIKey,
		"LANGCHAIN_TRACING_V2": c.LangchainTracingV2,
		"LANGCHAIN_PROJECT":    c.LangchainProjectName,
	}
	for k, v := range vars {
		if err := os.Setenv(k, v); err != nil {
			return fmt.Errorf("failed to set %s: %w", k, err)
		}
	}
	return nil
}
