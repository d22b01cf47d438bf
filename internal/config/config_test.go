package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig_JSONWithDefaults(t *testing.T) {
	path := writeConfig(t, "key.json", `{
	"llm_service": "paid",
	"model_dict": {"free": "llama3", "paid": "mixtral-8x7b-32768"},
	"GROQ_API_KEY": "gsk_test",
	"data_source_type": "remote_website_link",
	"source_url": {"remote_website_link": "https://example.com/post"},
	"HGFembedding": {"model_name": "nomic-embed-text"},
	"chroma_db_config": {"persist_directory": "./chroma_db"}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ServicePaid, cfg.LLMService)
	assert.Equal(t, "mixtral-8x7b-32768", cfg.ModelName())
	assert.Equal(t, "gsk_test", cfg.GroqAPIKey)
	assert.Equal(t, 1000, cfg.Split.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap())
	assert.Equal(t, "English", cfg.Language)
	assert.Equal(t, 4, cfg.Retriever.TopK)
	assert.Equal(t, VectorStoreChroma, cfg.VectorStore)
	assert.Equal(t, HistoryStoreMemory, cfg.HistoryStore.Type)
	assert.True(t, cfg.HistoryEnabled())
	assert.Equal(t, []string{".post-content", ".post-title", ".post-header"}, cfg.RemoteContentSelectors)
	assert.Equal(t, EmbeddingProviderOllama, cfg.Embedding.Provider)
	assert.Equal(t, cfg.OllamaURL, cfg.Embedding.BaseURL)

	locator, err := cfg.SourceLocator()
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", locator)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
llm_service: free
data_source_type: local_file
source_url:
  local_file:
    directory_name: data
    file_name: notes.txt
document_spliting_config:
  chunk_size: 500
  chunk_overlap: 0
chroma_db_config:
  persist_directory: ./db
language: French
use_chat_history: false
history_store:
  type: bolt
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3.2", cfg.ModelName())
	assert.Equal(t, 500, cfg.Split.ChunkSize)
	assert.Equal(t, 0, cfg.ChunkOverlap())
	assert.Equal(t, "French", cfg.Language)
	assert.False(t, cfg.HistoryEnabled())
	assert.Equal(t, defaultHistoryBoltPath, cfg.HistoryStore.Path)

	wd, err := os.Getwd()
	require.NoError(t, err)
	locator, err := cfg.SourceLocator()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(wd, "data", "notes.txt"), locator)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "key.json", `{"llm_service": `)
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_GroqKeyFromEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "from-env")
	path := writeConfig(t, "key.json", `{
	"llm_service": "paid",
	"data_source_type": "remote_website_link",
	"source_url": {"remote_website_link": "https://example.com"},
	"chroma_db_config": {"persist_directory": "./db"}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.GroqAPIKey)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{
			DataSourceType: SourceRemoteWebsite,
			SourceURL:      SourceURL{RemoteWebsiteLink: "https://example.com"},
			ChromaDB:       ChromaDBConfig{PersistDirectory: "./db"},
		}
		cfg.applyDefaults()
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown service", func(c *Config) { c.LLMService = "premium" }},
		{"unknown source type", func(c *Config) { c.DataSourceType = "s3" }},
		{"missing remote link", func(c *Config) { c.SourceURL.RemoteWebsiteLink = "" }},
		{"missing local file", func(c *Config) { c.DataSourceType = SourceLocalFile }},
		{"negative chunk size", func(c *Config) { c.Split.ChunkSize = -1 }},
		{"overlap not below size", func(c *Config) { o := c.Split.ChunkSize; c.Split.ChunkOverlap = &o }},
		{"negative overlap", func(c *Config) { o := -1; c.Split.ChunkOverlap = &o }},
		{"missing persist dir", func(c *Config) { c.ChromaDB.PersistDirectory = "" }},
		{"pgvector without dsn", func(c *Config) { c.VectorStore = VectorStorePGVector }},
		{"unknown vector store", func(c *Config) { c.VectorStore = "faiss" }},
		{"unknown history store", func(c *Config) { c.HistoryStore.Type = "redis" }},
		{"unknown embedding provider", func(c *Config) { c.Embedding.Provider = "hf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestApplyTracingEnv(t *testing.T) {
	t.Setenv("LANGCHAIN_API_KEY", "")
	t.Setenv("LANGCHAIN_TRACING_V2", "")
	t.Setenv("LANGCHAIN_PROJECT", "")

	cfg := &Config{
		LangchainAPIKey:      "ls-key",
		LangchainTracingV2:   "true",
		LangchainProjectName: "rag-chatbot",
	}
	require.NoError(t, cfg.ApplyTracingEnv())
	assert.Empty(t, os.Getenv("LANGCHAIN_API_KEY"), "tracking disabled must not export anything")

	cfg.TrackQueriesOnLangsmith = true
	require.NoError(t, cfg.ApplyTracingEnv())
	assert.Equal(t, "ls-key", os.Getenv("LANGCHAIN_API_KEY"))
	assert.Equal(t, "true", os.Getenv("LANGCHAIN_TRACING_V2"))
	assert.Equal(t, "rag-chatbot", os.Getenv("LANGCHAIN_PROJECT"))
}
