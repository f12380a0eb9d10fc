package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/rag"
	"github.com/bull/ragbot/internal/training"
	"github.com/bull/ragbot/internal/vectorstore"
)

type fakeAsker struct {
	got  rag.QueryRequest
	resp *rag.Response
	err  error
}

func (f *fakeAsker) Query(_ context.Context, req rag.QueryRequest) (*rag.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeTrainer struct {
	text, source string
	limit        int
	search       string
	docs         []vectorstore.Document
}

func (f *fakeTrainer) TrainText(_ context.Context, id, text, source string) (*training.Result, error) {
	f.text, f.source = text, source
	return &training.Result{ChatbotID: id, Chunks: 3, Characters: len(text), EmbeddingModel: "all-MiniLM-L6-v2", Duration: 1500 * time.Millisecond}, nil
}

func (f *fakeTrainer) ListDocuments(_ context.Context, _ string, limit, _ int, search string) ([]vectorstore.Document, error) {
	f.limit, f.search = limit, search
	return f.docs, nil
}

type fakeBots struct {
	created  *chatbot.Settings
	chatbots map[string]*chatbot.Chatbot
}

func (f *fakeBots) Create(_ context.Context, ownerID, name string, settings *chatbot.Settings) (*chatbot.Chatbot, error) {
	f.created = settings
	return &chatbot.Chatbot{ID: "bot-new", OwnerID: ownerID, Name: name, Settings: *settings, Status: chatbot.StatusInactive}, nil
}

func (f *fakeBots) Get(_ context.Context, id string) (*chatbot.Chatbot, error) {
	c, ok := f.chatbots[id]
	if !ok {
		return nil, errs.Wrap(errs.ErrNotFound, "chatbot %s", id)
	}
	return c, nil
}

func TestAskHandler(t *testing.T) {
	asker := &fakeAsker{resp: &rag.Response{
		Answer:  "Refunds take 30 days.",
		Model:   "gpt-4o-mini",
		Prompt:  rag.PromptGrounded,
		Sources: []rag.Source{{ID: "c-1", Title: "Returns", Source: "faq.md", Distance: 0.12}},
		Latency: 420 * time.Millisecond,
	}}
	handler := makeAskHandler(asker)

	_, out, err := handler(context.Background(), nil, AskInput{ChatbotID: "bot-1", Question: "refunds?", SessionID: "s", UserID: "u"})
	require.NoError(t, err)
	assert.Equal(t, rag.QueryRequest{ChatbotID: "bot-1", Text: "refunds?", SessionID: "s", UserID: "u"}, asker.got)
	assert.Equal(t, "Refunds take 30 days.", out.Answer)
	assert.Equal(t, "grounded", out.Prompt)
	assert.Equal(t, int64(420), out.LatencyMs)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, Source{ID: "c-1", Title: "Returns", Source: "faq.md", Distance: 0.12}, out.Sources[0])

	_, _, err = handler(context.Background(), nil, AskInput{Question: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	asker.err = errs.Wrap(errs.ErrUnavailable, "chatbot bot-1 is inactive")
	_, _, err = handler(context.Background(), nil, AskInput{ChatbotID: "bot-1", Question: "x"})
	assert.ErrorIs(t, err, errs.ErrUnavailable)
}

func TestTrainAndListHandlers(t *testing.T) {
	uploaded := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	trainer := &fakeTrainer{docs: []vectorstore.Document{{
		ID:       "bot-1-chunk-1-0",
		Text:     "Refunds take 30 days.",
		Metadata: vectorstore.Metadata{Source: "faq", ChunkIndex: 0, UploadedAt: uploaded},
	}}}

	_, trained, err := makeTrainTextHandler(trainer)(context.Background(), nil, TrainTextInput{ChatbotID: "bot-1", Text: "Refunds take 30 days."})
	require.NoError(t, err)
	assert.Equal(t, "mcp", trainer.source)
	assert.Equal(t, 3, trained.Chunks)
	assert.Equal(t, int64(1500), trained.DurationMs)

	_, listed, err := makeListHandler(trainer)(context.Background(), nil, ListDocumentsInput{ChatbotID: "bot-1", Search: "  refund "})
	require.NoError(t, err)
	assert.Equal(t, defaultListLimit, trainer.limit)
	assert.Equal(t, "refund", trainer.search)
	assert.Equal(t, 1, listed.Count)
	assert.Equal(t, "faq", listed.Documents[0].Source)
	assert.Equal(t, uploaded, listed.Documents[0].UploadedAt)
}

func TestCreateAndStatusHandlers(t *testing.T) {
	trainedAt := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	bots := &fakeBots{chatbots: map[string]*chatbot.Chatbot{
		"bot-1": {
			ID:             "bot-1",
			Name:           "Support",
			Status:         chatbot.StatusActive,
			TrainingStatus: chatbot.TrainingCompleted,
			ChunkCount:     12,
			LastTrainedAt:  &trainedAt,
			Stats:          chatbot.Stats{TotalQueries: 4, SuccessfulQueries: 3, FailedQueries: 1, AvgResponseMs: 250},
		},
	}}
	defaults := chatbot.DefaultSettings()

	_, created, err := makeCreateHandler(bots, defaults)(context.Background(), nil, CreateChatbotInput{
		OwnerID:        "owner-1",
		Name:           "Docs",
		EmbeddingModel: "all-MiniLM-L6-v2",
	})
	require.NoError(t, err)
	assert.Equal(t, "bot-new", created.ID)
	assert.Equal(t, "all-MiniLM-L6-v2", bots.created.EmbeddingModel)
	assert.Equal(t, defaults.CompletionModel, bots.created.CompletionModel)

	_, status, err := makeStatusHandler(bots)(context.Background(), nil, StatusInput{ChatbotID: "bot-1"})
	require.NoError(t, err)
	assert.Equal(t, "active", status.Status)
	assert.Equal(t, "completed", status.TrainingStatus)
	assert.Equal(t, 12, status.ChunkCount)
	assert.Equal(t, int64(3), status.SuccessfulQueries)
	assert.Equal(t, &trainedAt, status.LastTrainedAt)

	_, _, err = makeStatusHandler(bots)(context.Background(), nil, StatusInput{ChatbotID: "missing"})
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestNewServer_RegistersTools(t *testing.T) {
	s := NewServer(&Config{
		Asker:    &fakeAsker{},
		Trainer:  &fakeTrainer{},
		Chatbots: &fakeBots{},
		Defaults: chatbot.DefaultSettings(),
	})
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, NewHTTPHandler(s, nil))
}

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"healthy", nil, http.StatusOK, "healthy"},
		{"unhealthy", errors.New("vector store: connection refused"), http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(healthFunc(func(context.Context) error { return tt.err }))
			rec := httptest.NewRecorder()
			handler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body.Status)
			if tt.err != nil {
				assert.Contains(t, body.Error, "connection refused")
			}
		})
	}
}
