package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-chatbot/internal/config"
)

const probeText = "dimension probe"

var _ embeddings.Embedder = (*Provider)(nil)

// Provider embeds text with one fixed model. The vector length is learned
// once at construction.
type Provider struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

// New builds the embedder described by cfg and probes it once.
func New(ctx context.Context, cfg config.EmbeddingConfig) (*Provider, error) {
	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.EmbeddingProviderOpenAI:
		llm, err := openai.New(
			openai.WithBaseURL(cfg.BaseURL),
			openai.WithToken(cfg.APIKey),
			openai.WithEmbeddingModel(cfg.ModelName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = llm
	default:
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.ModelName),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
		}
		client = llm
	}

	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.ModelName,
	}).Msg("Loaded embedding config")

	return NewFromClient(ctx, client, cfg.ModelName)
}

// NewFromClient wraps any langchaingo embedding client.
func NewFromClient(ctx context.Context, client embeddings.EmbedderClient, model string) (*Provider, error) {
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vec, err := embedder.EmbedQuery(ctx, probeText)
	if err != nil {
		return nil, fmt.Errorf("failed to load embedding model %q: %w", model, err)
	}
	if len(vec) == 0 {
		return nil, errors.New("embedding model returned an empty vector")
	}

	log.Info().Str("model", model).Int("dimension", len(vec)).Msg("embedding model ready")
	return &Provider{embedder: embedder, model: model, dimension: len(vec)}, nil
}

func (p *Provider) Model() string  { return p.model }
func (p *Provider) Dimension() int { return p.dimension }

func (p *Provider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, expected %d", len(vec), p.dimension)
	}
	return vec, nil
}

func (p *Provider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		if len(vec) != p.dimension {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(vec), p.dimension)
		}
	}
	return vecs, nil
}

// EmbeddingFunc adapts the provider to a chromem collection.
func (p *Provider) EmbeddingFunc() chromem.EmbeddingFunc {
	return p.EmbedQuery
}
