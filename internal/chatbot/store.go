package chatbot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/ragbot/internal/errs"
)

// Store persists chatbot records. Implementations return errs.ErrNotFound for
// unknown ids.
type Store interface {
	LoadChatbot(ctx context.Context, id string) (*Chatbot, error)
	// SaveChatbot inserts or replaces everything except Stats.
	SaveChatbot(ctx context.Context, c *Chatbot) error
	// UpdateChatbot applies fn to the stored record and writes the result
	// back in one atomic step, leaving Stats alone. It returns the updated
	// record, errs.ErrNotFound once the chatbot is gone, or fn's error with
	// nothing written.
	UpdateChatbot(ctx context.Context, id string, fn func(*Chatbot) error) (*Chatbot, error)
	DeleteChatbot(ctx context.Context, id string) error
	ListChatbots(ctx context.Context, ownerID string) ([]*Chatbot, error)
	// RecordQuery updates Stats in one atomic step. On success the running
	// average becomes (avg*(n-1) + latency)/n with n the new success count.
	RecordQuery(ctx context.Context, id string, success bool, latency time.Duration) error
}

// ConversationStore persists conversation transcripts.
type ConversationStore interface {
	LoadConversation(ctx context.Context, chatbotID, sessionID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	AppendMessage(ctx context.Context, conv *Conversation, msg Message) error
	EndConversation(ctx context.Context, chatbotID, sessionID string) error
}

// MemoryStore keeps chatbots and conversations in process memory.
type MemoryStore struct {
	mu            sync.Mutex
	chatbots      map[string]*Chatbot
	conversations map[string]*Conversation
}

var (
	_ Store             = (*MemoryStore)(nil)
	_ ConversationStore = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chatbots:      make(map[string]*Chatbot),
		conversations: make(map[string]*Conversation),
	}
}

func (m *MemoryStore) LoadChatbot(_ context.Context, id string) (*Chatbot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chatbots[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) SaveChatbot(_ context.Context, c *Chatbot) error {
	if c.ID == "" {
		return errs.Wrap(errs.ErrInvalidInput, "chatbot id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	if existing, ok := m.chatbots[c.ID]; ok {
		cp.Stats = existing.Stats
	} else {
		cp.Stats = Stats{}
	}
	m.chatbots[c.ID] = &cp
	return nil
}

func (m *MemoryStore) UpdateChatbot(_ context.Context, id string, fn func(*Chatbot) error) (*Chatbot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.chatbots[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	cp := *stored
	if err := fn(&cp); err != nil {
		return nil, err
	}
	cp.ID = id
	cp.Stats = stored.Stats
	m.chatbots[id] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) DeleteChatbot(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chatbots[id]; !ok {
		return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	delete(m.chatbots, id)
	for key, conv := range m.conversations {
		if conv.ChatbotID == id {
			delete(m.conversations, key)
		}
	}
	return nil
}

func (m *MemoryStore) ListChatbots(_ context.Context, ownerID string) ([]*Chatbot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*Chatbot
	for _, c := range m.chatbots {
		if ownerID == "" || c.OwnerID == ownerID {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RecordQuery(_ context.Context, id string, success bool, latency time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chatbots[id]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	now := time.Now().UTC()
	c.Stats.TotalQueries++
	c.Stats.LastQueryAt = &now
	if !success {
		c.Stats.FailedQueries++
		return nil
	}
	c.Stats.SuccessfulQueries++
	n := float64(c.Stats.SuccessfulQueries)
	c.Stats.AvgResponseMs = (c.Stats.AvgResponseMs*(n-1) + float64(latency.Milliseconds())) / n
	return nil
}

func conversationKey(chatbotID, sessionID string) string {
	return chatbotID + "/" + sessionID
}

func (m *MemoryStore) LoadConversation(_ context.Context, chatbotID, sessionID string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationKey(chatbotID, sessionID)]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "conversation %s for chatbot %s", sessionID, chatbotID)
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	return &cp, nil
}

func (m *MemoryStore) CreateConversation(_ context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := conversationKey(conv.ChatbotID, conv.SessionID)
	if _, ok := m.conversations[key]; ok {
		return errs.Wrap(errs.ErrAlreadyExists, "conversation %s", conv.SessionID)
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.Status == "" {
		conv.Status = ConversationActive
	}
	cp := *conv
	cp.Messages = append([]Message(nil), conv.Messages...)
	m.conversations[key] = &cp
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, conv *Conversation, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.conversations[conversationKey(conv.ChatbotID, conv.SessionID)]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "conversation %s", conv.SessionID)
	}
	if stored.Status == ConversationEnded {
		return errs.Wrap(errs.ErrInvalidInput, "conversation %s has ended", conv.SessionID)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	stored.Messages = append(stored.Messages, msg)
	stored.UpdatedAt = msg.CreatedAt
	conv.Messages = append(conv.Messages, msg)
	return nil
}

func (m *MemoryStore) EndConversation(_ context.Context, chatbotID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[conversationKey(chatbotID, sessionID)]
	if !ok {
		return errs.Wrap(errs.ErrNotFound, "conversation %s", sessionID)
	}
	conv.Status = ConversationEnded
	return nil
}
