package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"rag-chatbot/internal/history"
	"rag-chatbot/internal/models"
)

type ChatOptions struct {
	Language string
	// UseHistory feeds earlier turns to the pipeline. Turns are recorded either way.
	UseHistory bool
	// TurnTimeout bounds one Ask call. Zero means no limit.
	TurnTimeout time.Duration
}

// Chat answers questions for sessions kept in a history store.
type Chat struct {
	pipeline *Pipeline
	store    history.Store
	opts     ChatOptions
}

func NewChat(pipeline *Pipeline, store history.Store, opts ChatOptions) *Chat {
	return &Chat{pipeline: pipeline, store: store, opts: opts}
}

// Ask runs one turn. The exchange is appended to the session history only
// when the turn succeeds.
func (c *Chat) Ask(ctx context.Context, sessionID, question string) (models.PromptResponse, error) {
	if c.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.TurnTimeout)
		defer cancel()
	}

	var past []llms.ChatMessage
	if c.opts.UseHistory {
		h, err := c.store.GetOrCreate(ctx, sessionID)
		if err != nil {
			return models.PromptResponse{}, fmt.Errorf("failed to load history: %w", err)
		}
		if past, err = h.Messages(ctx); err != nil {
			return models.PromptResponse{}, fmt.Errorf("failed to load history: %w", err)
		}
	}

	res, err := c.pipeline.Run(ctx, Turn{Question: question, History: past, Language: c.opts.Language})
	if err != nil {
		return models.PromptResponse{}, err
	}

	err = c.store.Append(ctx, sessionID,
		llms.HumanChatMessage{Content: question},
		llms.AIChatMessage{Content: res.Answer},
	)
	if err != nil {
		return models.PromptResponse{}, fmt.Errorf("failed to save history: %w", err)
	}

	log.Info().
		Str("session", sessionID).
		Str("query", res.Query.Text).
		Bool("rewritten", res.Query.Rewritten).
		Int("sources", len(res.Chunks)).
		Msg("turn completed")

	return models.PromptResponse{
		Query:     res.Query.Text,
		Rewritten: res.Query.Rewritten,
		Content:   res.Answer,
		Sources:   res.Chunks,
	}, nil
}
