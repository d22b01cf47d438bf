package llmservice

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// TracingHandler logs model and retriever activity for a tracing project.
type TracingHandler struct {
	callbacks.SimpleHandler
	logger zerolog.Logger
}

var _ callbacks.Handler = (*TracingHandler)(nil)

func NewTracingHandler(logger zerolog.Logger, project string) *TracingHandler {
	return &TracingHandler{logger: logger.With().Str("project", project).Logger()}
}

func (h *TracingHandler) HandleLLMGenerateContentStart(_ context.Context, ms []llms.MessageContent) {
	h.logger.Info().Int("messages", len(ms)).Msg("llm call started")
}

func (h *TracingHandler) HandleLLMGenerateContentEnd(_ context.Context, res *llms.ContentResponse) {
	ev := h.logger.Info()
	if res != nil && len(res.Choices) > 0 {
		ev = ev.Str("stop_reason", res.Choices[0].StopReason).Int("chars", len(res.Choices[0].Content))
	}
	ev.Msg("llm call finished")
}

func (h *TracingHandler) HandleLLMError(_ context.Context, err error) {
	h.logger.Error().Err(err).Msg("llm call failed")
}

func (h *TracingHandler) HandleRetrieverStart(_ context.Context, query string) {
	h.logger.Info().Str("query", query).Msg("retrieval started")
}

func (h *TracingHandler) HandleRetrieverEnd(_ context.Context, query string, documents []schema.Document) {
	h.logger.Info().Str("query", query).Int("documents", len(documents)).Msg("retrieval finished")
}
