package history

import (
	"context"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/memory"
	"github.com/tmc/langchaingo/schema"
)

// Store hands out per-session message logs. Unknown sessions start empty.
type Store interface {
	GetOrCreate(ctx context.Context, sessionID string) (schema.ChatMessageHistory, error)
	// Append adds the messages to the session log in one step.
	Append(ctx context.Context, sessionID string, msgs ...llms.ChatMessage) error
}

// MemoryStore keeps every session for the lifetime of the process.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*memory.ChatMessageHistory
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memory.ChatMessageHistory)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, sessionID string) (schema.ChatMessageHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session(sessionID), nil
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, msgs ...llms.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.session(sessionID)
	for _, m := range msgs {
		if err := h.AddMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// session must be called with mu held.
func (s *MemoryStore) session(sessionID string) *memory.ChatMessageHistory {
	h, ok := s.sessions[sessionID]
	if !ok {
		h = memory.NewChatMessageHistory()
		s.sessions[sessionID] = h
	}
	return h
}
