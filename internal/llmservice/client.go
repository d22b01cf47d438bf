package llmservice

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"rag-chatbot/internal/config"
	"rag-chatbot/internal/models"
)

// ErrEmptyResponse is returned when the model answers without any choice.
var ErrEmptyResponse = errors.New("empty response from model")

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Backend selects and configures one chat model.
type Backend struct {
	Service     string
	Model       string
	OllamaURL   string
	GroqAPIKey  string
	GroqBaseURL string
	// Callbacks is attached to the model when set.
	Callbacks callbacks.Handler
}

func BackendFromConfig(cfg *config.Config) Backend {
	return Backend{
		Service:     cfg.LLMService,
		Model:       cfg.ModelName(),
		OllamaURL:   cfg.OllamaURL,
		GroqAPIKey:  cfg.GroqAPIKey,
		GroqBaseURL: cfg.GroqBaseURL,
	}
}

// NewChatModel returns the model for the backend. The paid backend checks its
// credential on first use rather than here.
func NewChatModel(b Backend) (llms.Model, error) {
	log.Debug().Str("service", b.Service).Str("model", b.Model).Msg("Creating chat model")

	switch b.Service {
	case config.ServiceFree:
		llm, err := ollama.New(
			ollama.WithServerURL(b.OllamaURL),
			ollama.WithModel(b.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		llm.CallbacksHandler = b.Callbacks
		return llm, nil
	case config.ServicePaid:
		return &lazyModel{build: func() (llms.Model, error) {
			opts := []openai.Option{
				openai.WithBaseURL(b.GroqBaseURL),
				openai.WithToken(strings.TrimPrefix(b.GroqAPIKey, "Bearer ")),
				openai.WithModel(b.Model),
			}
			if b.Callbacks != nil {
				opts = append(opts, openai.WithCallback(b.Callbacks))
			}
			return openai.New(opts...)
		}}, nil
	default:
		return nil, fmt.Errorf("unknown llm service %q", b.Service)
	}
}

// lazyModel builds the underlying model on the first call.
type lazyModel struct {
	build func() (llms.Model, error)

	once  sync.Once
	model llms.Model
	err   error
}

var _ llms.Model = (*lazyModel)(nil)

func (m *lazyModel) get() (llms.Model, error) {
	m.once.Do(func() {
		m.model, m.err = m.build()
		if m.err != nil {
			m.err = fmt.Errorf("failed to initialize paid model: %w", m.err)
		}
	})
	return m.model, m.err
}

func (m *lazyModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	model, err := m.get()
	if err != nil {
		return nil, err
	}
	return model.GenerateContent(ctx, messages, options...)
}

func (m *lazyModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Generate sends the chat messages to the model and returns the answer text
// with any <think> block removed.
func Generate(ctx context.Context, model llms.Model, messages []llms.ChatMessage, options ...llms.CallOption) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(m.GetType(), m.GetContent()))
	}

	res, err := model.GenerateContent(ctx, content, options...)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if res == nil || len(res.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(thinkTag.ReplaceAllString(res.Choices[0].Content, "")), nil
}
