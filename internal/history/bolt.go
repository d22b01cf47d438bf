package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.etcd.io/bbolt"
)

var bucketSessions = []byte("sessions")

// BoltStore persists session logs in a bbolt file, one key per session
// holding the JSON encoded messages.
type BoltStore struct {
	db *bbolt.DB
}

var _ Store = (*BoltStore)(nil)

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSessions); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketSessions, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) GetOrCreate(_ context.Context, sessionID string) (schema.ChatMessageHistory, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		if b.Get([]byte(sessionID)) != nil {
			return nil
		}
		return b.Put([]byte(sessionID), []byte("[]"))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session %q: %w", sessionID, err)
	}
	return &boltHistory{store: s, sessionID: sessionID}, nil
}

func (s *BoltStore) Append(_ context.Context, sessionID string, msgs ...llms.ChatMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		current, err := decodeMessages(b.Get([]byte(sessionID)))
		if err != nil {
			return err
		}
		return putMessages(b, sessionID, append(current, msgs...))
	})
}

func (s *BoltStore) messages(sessionID string) ([]llms.ChatMessage, error) {
	var msgs []llms.ChatMessage
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		msgs, err = decodeMessages(tx.Bucket(bucketSessions).Get([]byte(sessionID)))
		return err
	})
	return msgs, err
}

func (s *BoltStore) set(sessionID string, msgs []llms.ChatMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putMessages(tx.Bucket(bucketSessions), sessionID, msgs)
	})
}

func decodeMessages(data []byte) ([]llms.ChatMessage, error) {
	if data == nil {
		return nil, nil
	}
	var stored []llms.ChatMessageModel
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	msgs := make([]llms.ChatMessage, len(stored))
	for i, m := range stored {
		msgs[i] = m.ToChatMessage()
	}
	return msgs, nil
}

func putMessages(b *bbolt.Bucket, sessionID string, msgs []llms.ChatMessage) error {
	stored := make([]llms.ChatMessageModel, len(msgs))
	for i, m := range msgs {
		stored[i] = llms.ConvertChatMessageToModel(m)
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return b.Put([]byte(sessionID), data)
}

// boltHistory is the schema.ChatMessageHistory view of one session.
type boltHistory struct {
	store     *BoltStore
	sessionID string
}

func (h *boltHistory) AddMessage(ctx context.Context, message llms.ChatMessage) error {
	return h.store.Append(ctx, h.sessionID, message)
}

func (h *boltHistory) AddUserMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.HumanChatMessage{Content: message})
}

func (h *boltHistory) AddAIMessage(ctx context.Context, message string) error {
	return h.AddMessage(ctx, llms.AIChatMessage{Content: message})
}

func (h *boltHistory) Clear(_ context.Context) error {
	return h.store.set(h.sessionID, nil)
}

func (h *boltHistory) Messages(_ context.Context) ([]llms.ChatMessage, error) {
	return h.store.messages(h.sessionID)
}

func (h *boltHistory) SetMessages(_ context.Context, messages []llms.ChatMessage) error {
	return h.store.set(h.sessionID, messages)
}
