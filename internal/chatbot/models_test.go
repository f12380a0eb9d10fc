package chatbot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bull/ragbot/internal/errs"
)

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"temperature", func(s *Settings) { s.Temperature = 2.5 }},
		{"max tokens low", func(s *Settings) { s.MaxTokens = 10 }},
		{"max tokens high", func(s *Settings) { s.MaxTokens = 5000 }},
		{"top k", func(s *Settings) { s.TopK = 0 }},
		{"chunk size", func(s *Settings) { s.ChunkSize = 50 }},
		{"overlap range", func(s *Settings) { s.ChunkOverlap = 1500; s.ChunkSize = 2000 }},
		{"overlap not below size", func(s *Settings) { s.ChunkSize = 200; s.ChunkOverlap = 200 }},
		{"embedding model", func(s *Settings) { s.EmbeddingModel = "" }},
		{"completion model", func(s *Settings) { s.CompletionModel = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), errs.ErrInvalidInput)
		})
	}
}

func TestTrainingTransitions(t *testing.T) {
	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		c := &Chatbot{Status: StatusInactive, TrainingStatus: TrainingPending}
		c.StartTraining()
		assert.Equal(t, StatusTraining, c.Status)
		assert.Equal(t, TrainingProcessing, c.TrainingStatus)
		assert.True(t, c.Answerable())

		c.AddIndexed(5)
		assert.True(t, c.Trained(), "stored batches count while training")
		assert.Equal(t, StatusTraining, c.Status)
		c.AddIndexed(7)

		c.CompleteTraining(1, 4096, at)
		assert.Equal(t, StatusActive, c.Status)
		assert.Equal(t, TrainingCompleted, c.TrainingStatus)
		assert.Equal(t, 1, c.DocumentCount)
		assert.Equal(t, 12, c.ChunkCount)
		assert.Equal(t, int64(4096), c.TotalSize)
		assert.Equal(t, at, *c.LastTrainedAt)
	})

	t.Run("first run fails with nothing indexed", func(t *testing.T) {
		c := &Chatbot{Status: StatusInactive}
		c.StartTraining()
		c.FailTraining()
		assert.Equal(t, StatusInactive, c.Status)
		assert.Equal(t, TrainingFailed, c.TrainingStatus)
		assert.False(t, c.Trained())
	})

	t.Run("first run fails after partial indexing", func(t *testing.T) {
		c := &Chatbot{Status: StatusInactive}
		c.StartTraining()
		c.AddIndexed(100)
		c.FailTraining()
		assert.Equal(t, StatusActive, c.Status)
		assert.Equal(t, 100, c.ChunkCount)
	})

	t.Run("retrain of an active chatbot fails", func(t *testing.T) {
		c := &Chatbot{Status: StatusActive, ChunkCount: 10}
		c.StartTraining()
		c.FailTraining()
		assert.Equal(t, StatusActive, c.Status)
		assert.Equal(t, TrainingFailed, c.TrainingStatus)
	})

	t.Run("failure outside a run leaves status alone", func(t *testing.T) {
		c := &Chatbot{Status: StatusError}
		c.FailTraining()
		assert.Equal(t, StatusError, c.Status)
	})
}
