package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/callbacks"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/fake"
	"github.com/tmc/langchaingo/schema"

	"rag-chatbot/internal/history"
	"rag-chatbot/internal/models"
)

// scriptedModel answers contextualization requests with rewrite(question)
// and everything else with answer.
type scriptedModel struct {
	rewrite func(question string) string
	answer  string
	err     error

	rewrites []string
	answers  [][]llms.MessageContent
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if m.err != nil {
		return nil, m.err
	}
	system := messages[0].Parts[0].(llms.TextContent).Text
	last := messages[len(messages)-1].Parts[0].(llms.TextContent).Text

	out := m.answer
	if strings.Contains(system, "standalone question") {
		m.rewrites = append(m.rewrites, last)
		out = m.rewrite(last)
	} else {
		m.answers = append(m.answers, messages)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: out}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

type recordingSearcher struct {
	chunks  []models.Chunk
	err     error
	queries []string
	ks      []int
}

func (s *recordingSearcher) Search(_ context.Context, query string, k int) ([]models.Chunk, error) {
	s.queries = append(s.queries, query)
	s.ks = append(s.ks, k)
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

type answererFunc func(ctx context.Context, in AnswerInput) (string, error)

func (f answererFunc) Answer(ctx context.Context, in AnswerInput) (string, error) { return f(ctx, in) }

func muskChunks() []models.Chunk {
	return []models.Chunk{
		{ID: "1", Content: "Elon Musk is the CEO of Tesla and SpaceX."},
		{ID: "2", Content: "Elon Musk has a net worth of several hundred billion dollars."},
	}
}

func newMuskChat(model *scriptedModel, searcher *recordingSearcher, store history.Store) *Chat {
	pipeline := NewPipeline(
		NewLLMContextualizer(model),
		&StoreRetriever{Store: searcher},
		NewLLMAnswerer(model, true),
	)
	return NewChat(pipeline, store, ChatOptions{Language: "English", UseHistory: true})
}

func TestChat_FollowUpQuestionIsContextualized(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{
		rewrite: func(string) string { return "What is Elon Musk's net worth?" },
		answer:  "He is a businessman.",
	}
	searcher := &recordingSearcher{chunks: muskChunks()}
	chat := newMuskChat(model, searcher, history.NewMemoryStore())

	first, err := chat.Ask(ctx, "abc123", "Who is Elon Musk?")
	require.NoError(t, err)
	assert.Empty(t, model.rewrites, "first turn must skip contextualization")
	assert.Equal(t, []string{"Who is Elon Musk?"}, searcher.queries)
	assert.False(t, first.Rewritten)
	assert.Equal(t, "Who is Elon Musk?", first.Query)
	assert.Equal(t, "He is a businessman.", first.Content)
	assert.Equal(t, muskChunks(), first.Sources)

	second, err := chat.Ask(ctx, "abc123", "What is his net worth?")
	require.NoError(t, err)
	assert.Equal(t, []string{"What is his net worth?"}, model.rewrites)
	require.Len(t, searcher.queries, 2)
	assert.Contains(t, searcher.queries[1], "Elon Musk")
	assert.True(t, second.Rewritten)
	assert.Equal(t, "What is Elon Musk's net worth?", second.Query)

	// system, previous human and AI turns, then the literal question
	require.Len(t, model.answers, 2)
	msgs := model.answers[1]
	require.Len(t, msgs, 4)
	assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Parts[0].(llms.TextContent).Text, muskChunks()[0].Content+"\n\n"+muskChunks()[1].Content)
	assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, msgs[2].Role)
	assert.Equal(t, llms.TextContent{Text: "What is his net worth?"}, msgs[3].Parts[0])
}

func TestChat_HistoryHoldsTwoMessagesPerTurn(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{rewrite: func(q string) string { return q }, answer: "answer"}
	store := history.NewMemoryStore()
	chat := newMuskChat(model, &recordingSearcher{}, store)

	questions := []string{"one?", "two?", "three?"}
	for _, q := range questions {
		_, err := chat.Ask(ctx, "s", q)
		require.NoError(t, err)
	}

	h, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 2*len(questions))
	for i, m := range msgs {
		if i%2 == 0 {
			assert.Equal(t, llms.ChatMessageTypeHuman, m.GetType())
			assert.Equal(t, questions[i/2], m.GetContent())
		} else {
			assert.Equal(t, llms.ChatMessageTypeAI, m.GetType())
			assert.Equal(t, "answer", m.GetContent())
		}
	}
}

func TestChat_FailedTurnLeavesHistoryUntouched(t *testing.T) {
	ctx := context.Background()
	store := history.NewMemoryStore()
	require.NoError(t, store.Append(ctx, "s",
		llms.HumanChatMessage{Content: "Who is Elon Musk?"},
		llms.AIChatMessage{Content: "A businessman."},
	))

	model := &scriptedModel{err: errors.New("rate limited")}
	chat := newMuskChat(model, &recordingSearcher{}, store)

	res, err := chat.Ask(ctx, "s", "What is his net worth?")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Empty(t, res.Content)

	h, err := store.GetOrCreate(ctx, "s")
	require.NoError(t, err)
	msgs, err := h.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestChat_TurnTimeout(t *testing.T) {
	blocking := answererFunc(func(ctx context.Context, _ AnswerInput) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	pipeline := NewPipeline(NewLLMContextualizer(fake.NewFakeLLM([]string{"unused"})), &StoreRetriever{Store: &recordingSearcher{}}, blocking)
	chat := NewChat(pipeline, history.NewMemoryStore(), ChatOptions{TurnTimeout: 20 * time.Millisecond})

	_, err := chat.Ask(context.Background(), "s", "slow question")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChat_WithoutHistory(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{rewrite: func(string) string { return "rewritten" }, answer: "ok"}
	searcher := &recordingSearcher{}
	store := history.NewMemoryStore()
	pipeline := NewPipeline(NewLLMContextualizer(model), &StoreRetriever{Store: searcher}, NewLLMAnswerer(model, false))
	chat := NewChat(pipeline, store, ChatOptions{Language: "English"})

	for i := 0; i < 2; i++ {
		_, err := chat.Ask(ctx, "s", "same question")
		require.NoError(t, err)
	}
	assert.Empty(t, model.rewrites)
	assert.Equal(t, []string{"same question", "same question"}, searcher.queries)
	assert.Len(t, model.answers[1], 2)
}

func TestPipeline_RetrievalErrorAbortsTurn(t *testing.T) {
	answered := false
	answerer := answererFunc(func(context.Context, AnswerInput) (string, error) {
		answered = true
		return "x", nil
	})
	searcher := &recordingSearcher{err: errors.New("store unreachable")}
	p := NewPipeline(NewLLMContextualizer(fake.NewFakeLLM([]string{"q"})), &StoreRetriever{Store: searcher}, answerer)

	res, err := p.Run(context.Background(), Turn{Question: "q"})
	require.Error(t, err)
	assert.False(t, answered)
	assert.Equal(t, Result{}, res)
}

func TestPipeline_EmptyRetrievalIsValid(t *testing.T) {
	var got AnswerInput
	answerer := answererFunc(func(_ context.Context, in AnswerInput) (string, error) {
		got = in
		return "I don't know", nil
	})
	p := NewPipeline(NewLLMContextualizer(fake.NewFakeLLM([]string{"q"})), &StoreRetriever{Store: &recordingSearcher{}}, answerer)

	res, err := p.Run(context.Background(), Turn{Question: "q", Language: "German"})
	require.NoError(t, err)
	assert.Equal(t, "I don't know", res.Answer)
	assert.Empty(t, got.Chunks)
	assert.Equal(t, "German", got.Language)
}

func TestLLMContextualizer_PassThrough(t *testing.T) {
	ctx := context.Background()
	model := &scriptedModel{rewrite: func(q string) string { return "  " + q + "\n" }}
	c := NewLLMContextualizer(model)

	q, err := c.Contextualize(ctx, "Who is Elon Musk?", nil)
	require.NoError(t, err)
	assert.Equal(t, StandaloneQuery{Text: "Who is Elon Musk?"}, q)
	assert.Empty(t, model.rewrites)

	hist := []llms.ChatMessage{llms.HumanChatMessage{Content: "hi"}, llms.AIChatMessage{Content: "hello"}}
	q, err = c.Contextualize(ctx, "Who is Elon Musk?", hist)
	require.NoError(t, err)
	assert.False(t, q.Rewritten, "an unchanged question is not a rewrite")
	assert.Equal(t, "Who is Elon Musk?", q.Text)

	empty := NewLLMContextualizer(&scriptedModel{rewrite: func(string) string { return "" }})
	q, err = empty.Contextualize(ctx, "What now?", hist)
	require.NoError(t, err)
	assert.Equal(t, StandaloneQuery{Text: "What now?"}, q)
}

type retrieverEvents struct {
	callbacks.SimpleHandler
	starts []string
	ends   [][]schema.Document
}

func (h *retrieverEvents) HandleRetrieverStart(_ context.Context, query string) {
	h.starts = append(h.starts, query)
}

func (h *retrieverEvents) HandleRetrieverEnd(_ context.Context, _ string, docs []schema.Document) {
	h.ends = append(h.ends, docs)
}

func TestStoreRetriever(t *testing.T) {
	events := &retrieverEvents{}
	searcher := &recordingSearcher{chunks: muskChunks()}
	r := &StoreRetriever{Store: searcher, Callbacks: events}

	chunks, err := r.Retrieve(context.Background(), "musk")
	require.NoError(t, err)
	assert.Equal(t, muskChunks(), chunks)
	assert.Equal(t, []int{DefaultTopK}, searcher.ks)
	assert.Equal(t, []string{"musk"}, events.starts)
	require.Len(t, events.ends, 1)
	assert.Equal(t, muskChunks()[1].Content, events.ends[0][1].PageContent)

	r.TopK = 2
	_, err = r.Retrieve(context.Background(), "musk")
	require.NoError(t, err)
	assert.Equal(t, []int{DefaultTopK, 2}, searcher.ks)
}

func TestStoreRetriever_Deterministic(t *testing.T) {
	searcher := &recordingSearcher{chunks: muskChunks()}
	r := &StoreRetriever{Store: searcher, TopK: 2}

	first, err := r.Retrieve(context.Background(), "net worth")
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "net worth")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
