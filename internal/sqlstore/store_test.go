package sqlstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/errs"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "ragbot.db")}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newBot(id, owner string, created time.Time) *chatbot.Chatbot {
	return &chatbot.Chatbot{
		ID:             id,
		OwnerID:        owner,
		Name:           "Support " + id,
		CollectionID:   chatbot.CollectionName(id),
		Settings:       chatbot.DefaultSettings(),
		Status:         chatbot.StatusInactive,
		TrainingStatus: chatbot.TrainingPending,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestChatbot_SaveLoad(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	bot := newBot("bot-1", "owner-1", created)
	require.NoError(t, s.SaveChatbot(ctx, bot))

	loaded, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, bot, loaded)

	trainedAt := created.Add(time.Hour)
	bot.StartTraining()
	bot.AddIndexed(12)
	bot.CompleteTraining(1, 3400, trainedAt)
	bot.Settings.TopK = 8
	require.NoError(t, s.SaveChatbot(ctx, bot))

	loaded, err = s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, chatbot.StatusActive, loaded.Status)
	assert.Equal(t, chatbot.TrainingCompleted, loaded.TrainingStatus)
	assert.Equal(t, 12, loaded.ChunkCount)
	assert.Equal(t, int64(3400), loaded.TotalSize)
	assert.Equal(t, 8, loaded.Settings.TopK)
	require.NotNil(t, loaded.LastTrainedAt)
	assert.True(t, trainedAt.Equal(*loaded.LastTrainedAt))

	_, err = s.LoadChatbot(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestChatbot_ListAndDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveChatbot(ctx, newBot("b", "owner-1", base.Add(time.Minute))))
	require.NoError(t, s.SaveChatbot(ctx, newBot("a", "owner-1", base)))
	require.NoError(t, s.SaveChatbot(ctx, newBot("c", "owner-2", base)))

	owned, err := s.ListChatbots(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, owned, 2)
	assert.Equal(t, "a", owned[0].ID)
	assert.Equal(t, "b", owned[1].ID)

	all, err := s.ListChatbots(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	conv := &chatbot.Conversation{ChatbotID: "a", SessionID: "s", UserID: "u"}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.AppendMessage(ctx, conv, chatbot.Message{Role: chatbot.RoleUser, Content: "hi"}))

	require.NoError(t, s.DeleteChatbot(ctx, "a"))
	_, err = s.LoadChatbot(ctx, "a")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.LoadConversation(ctx, "a", "s")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	assert.ErrorIs(t, s.DeleteChatbot(ctx, "a"), errs.ErrNotFound)
}

func TestRecordQuery_RunningAverage(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChatbot(ctx, newBot("bot-1", "o", time.Now())))

	require.NoError(t, s.RecordQuery(ctx, "bot-1", true, 100*time.Millisecond))
	require.NoError(t, s.RecordQuery(ctx, "bot-1", true, 300*time.Millisecond))
	require.NoError(t, s.RecordQuery(ctx, "bot-1", false, 5*time.Second))
	require.NoError(t, s.RecordQuery(ctx, "bot-1", true, 500*time.Millisecond))

	c, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), c.Stats.TotalQueries)
	assert.Equal(t, int64(3), c.Stats.SuccessfulQueries)
	assert.Equal(t, int64(1), c.Stats.FailedQueries)
	assert.InDelta(t, 300.0, c.Stats.AvgResponseMs, 0.001)
	assert.NotNil(t, c.Stats.LastQueryAt)

	assert.ErrorIs(t, s.RecordQuery(ctx, "missing", true, time.Millisecond), errs.ErrNotFound)
}

func TestRecordQuery_NotOverwrittenBySave(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	bot := newBot("bot-1", "o", time.Now())
	require.NoError(t, s.SaveChatbot(ctx, bot))
	require.NoError(t, s.RecordQuery(ctx, "bot-1", true, 10*time.Millisecond))

	bot.Name = "Renamed"
	require.NoError(t, s.SaveChatbot(ctx, bot))

	c, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", c.Name)
	assert.Equal(t, int64(1), c.Stats.TotalQueries)
}

func TestRecordQuery_Concurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChatbot(ctx, newBot("bot-1", "o", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, s.RecordQuery(ctx, "bot-1", i%4 != 0, 50*time.Millisecond))
		}(i)
	}
	wg.Wait()

	c, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20), c.Stats.TotalQueries)
	assert.Equal(t, int64(15), c.Stats.SuccessfulQueries)
	assert.Equal(t, int64(5), c.Stats.FailedQueries)
	assert.InDelta(t, 50.0, c.Stats.AvgResponseMs, 0.001)
}

func TestUpdateChatbot(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.SaveChatbot(ctx, newBot("bot-1", "owner-1", created)))
	require.NoError(t, s.RecordQuery(ctx, "bot-1", true, 200*time.Millisecond))

	got, err := s.UpdateChatbot(ctx, "bot-1", func(c *chatbot.Chatbot) error {
		c.StartTraining()
		c.AddIndexed(3)
		c.Settings.TopK = 7
		c.Stats = chatbot.Stats{}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, chatbot.StatusTraining, got.Status)

	loaded, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, chatbot.StatusTraining, loaded.Status)
	assert.Equal(t, chatbot.StatusInactive, loaded.PreviousStatus)
	assert.Equal(t, 3, loaded.ChunkCount)
	assert.Equal(t, 7, loaded.Settings.TopK)
	assert.Equal(t, int64(1), loaded.Stats.SuccessfulQueries)

	_, err = s.UpdateChatbot(ctx, "bot-1", func(c *chatbot.Chatbot) error {
		c.Name = "Changed"
		return errs.ErrInvalidInput
	})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	loaded, err = s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, "Support bot-1", loaded.Name)

	require.NoError(t, s.DeleteChatbot(ctx, "bot-1"))
	_, err = s.UpdateChatbot(ctx, "bot-1", func(c *chatbot.Chatbot) error { return nil })
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = s.LoadChatbot(ctx, "bot-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestUpdateChatbot_Concurrent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveChatbot(ctx, newBot("bot-1", "owner-1", time.Now())))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateChatbot(ctx, "bot-1", func(c *chatbot.Chatbot) error {
				c.AddIndexed(1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	loaded, err := s.LoadChatbot(ctx, "bot-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.ChunkCount)
}

func TestConversation_Lifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.LoadConversation(ctx, "bot-1", "s-1")
	require.ErrorIs(t, err, errs.ErrNotFound)

	conv := &chatbot.Conversation{ChatbotID: "bot-1", SessionID: "s-1", UserID: "u-1"}
	require.NoError(t, s.CreateConversation(ctx, conv))
	assert.NotEmpty(t, conv.ID)
	assert.ErrorIs(t, s.CreateConversation(ctx, &chatbot.Conversation{ChatbotID: "bot-1", SessionID: "s-1"}), errs.ErrAlreadyExists)

	require.NoError(t, s.AppendMessage(ctx, conv, chatbot.Message{Role: chatbot.RoleUser, Content: "How long do refunds take?"}))
	require.NoError(t, s.AppendMessage(ctx, conv, chatbot.Message{
		Role:           chatbot.RoleAssistant,
		Content:        "30 days.",
		Tokens:         3,
		ResponseTimeMs: 420,
		SourceIDs:      []string{"bot-1-chunk-1-0"},
	}))
	assert.Len(t, conv.Messages, 2)

	loaded, err := s.LoadConversation(ctx, "bot-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, loaded.ID)
	assert.Equal(t, chatbot.ConversationActive, loaded.Status)
	require.Len(t, loaded.Messages, 2)
	assert.Equal(t, chatbot.RoleUser, loaded.Messages[0].Role)
	assert.Empty(t, loaded.Messages[0].SourceIDs)
	assert.Equal(t, "30 days.", loaded.Messages[1].Content)
	assert.Equal(t, 3, loaded.Messages[1].Tokens)
	assert.Equal(t, int64(420), loaded.Messages[1].ResponseTimeMs)
	assert.Equal(t, []string{"bot-1-chunk-1-0"}, loaded.Messages[1].SourceIDs)

	require.NoError(t, s.EndConversation(ctx, "bot-1", "s-1"))
	err = s.AppendMessage(ctx, conv, chatbot.Message{Role: chatbot.RoleUser, Content: "more"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	assert.ErrorIs(t, s.EndConversation(ctx, "bot-1", "nope"), errs.ErrNotFound)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", pg.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))

	lite := &Store{driver: DriverSQLite}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}
