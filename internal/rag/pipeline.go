package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"rag-chatbot/internal/llmservice"
	"rag-chatbot/internal/models"
	"rag-chatbot/internal/prompt"
)

// DefaultTopK is used when a retriever is given no k.
const DefaultTopK = 4

// StandaloneQuery is the query sent to retrieval. Rewritten reports whether
// the model changed the user's question.
type StandaloneQuery struct {
	Text      string
	Rewritten bool
}

type Contextualizer interface {
	Contextualize(ctx context.Context, question string, history []llms.ChatMessage) (StandaloneQuery, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.Chunk, error)
}

type AnswerInput struct {
	Question string
	History  []llms.ChatMessage
	Language string
	Chunks   []models.Chunk
}

type Answerer interface {
	Answer(ctx context.Context, in AnswerInput) (string, error)
}

// Searcher is implemented by the chromem and pgvector stores.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]models.Chunk, error)
}

// LLMContextualizer asks the model for a standalone version of a follow-up
// question. With no history the question is passed through untouched.
type LLMContextualizer struct {
	Model  llms.Model
	Prompt prompts.ChatPromptTemplate
}

func NewLLMContextualizer(model llms.Model) *LLMContextualizer {
	return &LLMContextualizer{Model: model, Prompt: prompt.Contextualize()}
}

func (c *LLMContextualizer) Contextualize(ctx context.Context, question string, history []llms.ChatMessage) (StandaloneQuery, error) {
	if len(history) == 0 {
		return StandaloneQuery{Text: question}, nil
	}

	msgs, err := c.Prompt.FormatMessages(prompt.Values(question, "", "", history))
	if err != nil {
		return StandaloneQuery{}, fmt.Errorf("failed to format contextualize prompt: %w", err)
	}
	out, err := llmservice.Generate(ctx, c.Model, msgs)
	if err != nil {
		return StandaloneQuery{}, fmt.Errorf("failed to contextualize question: %w", err)
	}
	if out == "" {
		log.Warn().Str("question", question).Msg("empty standalone query, keeping the question")
		return StandaloneQuery{Text: question}, nil
	}
	return StandaloneQuery{Text: out, Rewritten: normalize(out) != normalize(question)}, nil
}

func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StoreRetriever returns the TopK chunks of a vector store.
type StoreRetriever struct {
	Store Searcher
	TopK  int
	// Callbacks receives retriever start and end events when set.
	Callbacks callbacks.Handler
}

func (r *StoreRetriever) Retrieve(ctx context.Context, query string) ([]models.Chunk, error) {
	k := r.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	if r.Callbacks != nil {
		r.Callbacks.HandleRetrieverStart(ctx, query)
	}

	chunks, err := r.Store.Search(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve chunks: %w", err)
	}

	if r.Callbacks != nil {
		docs := make([]schema.Document, len(chunks))
		for i, c := range chunks {
			docs[i] = schema.Document{
				PageContent: c.Content,
				Score:       c.Score,
				Metadata:    map[string]any{models.MetaSource: c.Source, models.MetaIndex: c.Index},
			}
		}
		r.Callbacks.HandleRetrieverEnd(ctx, query, docs)
	}
	return chunks, nil
}

// HistoryAwareRetriever contextualizes the question before retrieving.
type HistoryAwareRetriever struct {
	Contextualizer Contextualizer
	Retriever      Retriever
}

func (r *HistoryAwareRetriever) Retrieve(ctx context.Context, question string, history []llms.ChatMessage) (StandaloneQuery, []models.Chunk, error) {
	query, err := r.Contextualizer.Contextualize(ctx, question, history)
	if err != nil {
		return StandaloneQuery{}, nil, err
	}
	chunks, err := r.Retriever.Retrieve(ctx, query.Text)
	if err != nil {
		return query, nil, err
	}
	return query, chunks, nil
}

// LLMAnswerer fills the answer template with the retrieved context.
type LLMAnswerer struct {
	Model  llms.Model
	Prompt prompts.ChatPromptTemplate
}

// NewLLMAnswerer uses the history-aware template, or the plain one when
// withHistory is false.
func NewLLMAnswerer(model llms.Model, withHistory bool) *LLMAnswerer {
	tmpl := prompt.Plain()
	if withHistory {
		tmpl = prompt.HistoryAware()
	}
	return &LLMAnswerer{Model: model, Prompt: tmpl}
}

func (a *LLMAnswerer) Answer(ctx context.Context, in AnswerInput) (string, error) {
	msgs, err := a.Prompt.FormatMessages(prompt.Values(in.Question, in.Language, joinChunks(in.Chunks), in.History))
	if err != nil {
		return "", fmt.Errorf("failed to format answer prompt: %w", err)
	}
	return llmservice.Generate(ctx, a.Model, msgs)
}

func joinChunks(chunks []models.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, models.ContextSeparator)
}

type Turn struct {
	Question string
	History  []llms.ChatMessage
	Language string
}

type Result struct {
	Answer string
	Query  StandaloneQuery
	Chunks []models.Chunk
}

// Pipeline runs contextualize, retrieve and answer. Any failing stage aborts
// the turn.
type Pipeline struct {
	retriever *HistoryAwareRetriever
	answerer  Answerer
}

func NewPipeline(c Contextualizer, r Retriever, a Answerer) *Pipeline {
	return &Pipeline{
		retriever: &HistoryAwareRetriever{Contextualizer: c, Retriever: r},
		answerer:  a,
	}
}

func (p *Pipeline) Run(ctx context.Context, turn Turn) (Result, error) {
	query, chunks, err := p.retriever.Retrieve(ctx, turn.Question, turn.History)
	if err != nil {
		return Result{}, err
	}
	log.Debug().
		Str("query", query.Text).
		Bool("rewritten", query.Rewritten).
		Int("chunks", len(chunks)).
		Msg("context retrieved")

	answer, err := p.answerer.Answer(ctx, AnswerInput{
		Question: turn.Question,
		History:  turn.History,
		Language: turn.Language,
		Chunks:   chunks,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to answer: %w", err)
	}
	return Result{Answer: answer, Query: query, Chunks: chunks}, nil
}
