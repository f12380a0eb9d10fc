package chatbot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
)

func TestMemoryStore_SaveKeepsStats(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c := &Chatbot{ID: "bot", Name: "Bot", Settings: DefaultSettings()}
	require.NoError(t, s.SaveChatbot(ctx, c))

	require.NoError(t, s.RecordQuery(ctx, "bot", true, 100*time.Millisecond))
	require.NoError(t, s.RecordQuery(ctx, "bot", true, 300*time.Millisecond))
	require.NoError(t, s.RecordQuery(ctx, "bot", false, time.Second))

	// A stale copy saved afterwards must not roll back the counters.
	c.Name = "Renamed"
	require.NoError(t, s.SaveChatbot(ctx, c))

	got, err := s.LoadChatbot(ctx, "bot")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, int64(3), got.Stats.TotalQueries)
	assert.Equal(t, int64(2), got.Stats.SuccessfulQueries)
	assert.Equal(t, int64(1), got.Stats.FailedQueries)
	assert.InDelta(t, 200, got.Stats.AvgResponseMs, 0.001)
	assert.NotNil(t, got.Stats.LastQueryAt)
}

func TestMemoryStore_UpdateChatbot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.SaveChatbot(ctx, &Chatbot{ID: "bot", Name: "Bot", Settings: DefaultSettings()}))
	require.NoError(t, s.RecordQuery(ctx, "bot", true, 100*time.Millisecond))

	got, err := s.UpdateChatbot(ctx, "bot", func(c *Chatbot) error {
		c.AddIndexed(4)
		c.Stats = Stats{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, got.ChunkCount)
	assert.Equal(t, int64(1), got.Stats.TotalQueries, "stats are owned by RecordQuery")

	_, err = s.UpdateChatbot(ctx, "bot", func(c *Chatbot) error {
		c.Name = "Changed"
		return errs.ErrInvalidInput
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	loaded, err := s.LoadChatbot(ctx, "bot")
	require.NoError(t, err)
	assert.Equal(t, "Bot", loaded.Name, "a failed update writes nothing")

	require.NoError(t, s.DeleteChatbot(ctx, "bot"))
	_, err = s.UpdateChatbot(ctx, "bot", func(c *Chatbot) error { return nil })
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.LoadChatbot(ctx, "bot")
	assert.ErrorIs(t, err, errs.ErrNotFound, "updates never recreate a deleted chatbot")
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, err := s.LoadChatbot(ctx, "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.ErrorIs(t, s.DeleteChatbot(ctx, "nope"), errs.ErrNotFound)
	assert.ErrorIs(t, s.RecordQuery(ctx, "nope", true, 0), errs.ErrNotFound)
	_, err = s.LoadConversation(ctx, "bot", "sess")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestMemoryStore_Conversations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	conv := &Conversation{ChatbotID: "bot", SessionID: "sess", UserID: "u1"}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.NotEmpty(t, conv.ID)
	assert.ErrorIs(t, s.CreateConversation(ctx, &Conversation{ChatbotID: "bot", SessionID: "sess"}), errs.ErrAlreadyExists)

	require.NoError(t, s.AppendMessage(ctx, conv, Message{Role: RoleUser, Content: "hi"}))
	require.NoError(t, s.AppendMessage(ctx, conv, Message{Role: RoleAssistant, Content: "hello", SourceIDs: []string{"d1"}}))

	got, err := s.LoadConversation(ctx, "bot", "sess")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleAssistant, got.Messages[1].Role)
	assert.Equal(t, []string{"d1"}, got.Messages[1].SourceIDs)

	require.NoError(t, s.EndConversation(ctx, "bot", "sess"))
	assert.ErrorIs(t, s.AppendMessage(ctx, conv, Message{Role: RoleUser, Content: "again"}), errs.ErrInvalidInput)
}

func TestMemoryStore_ListByOwner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	require.NoError(t, s.SaveChatbot(ctx, &Chatbot{ID: "a", OwnerID: "o1", CreatedAt: base}))
	require.NoError(t, s.SaveChatbot(ctx, &Chatbot{ID: "b", OwnerID: "o2", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.SaveChatbot(ctx, &Chatbot{ID: "c", OwnerID: "o1", CreatedAt: base.Add(2 * time.Second)}))

	mine, err := s.ListChatbots(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "a", mine[0].ID)
	assert.Equal(t, "c", mine[1].ID)

	all, err := s.ListChatbots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
