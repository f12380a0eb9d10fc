// Package chatbot holds the chatbot and conversation records the pipeline
// reads and writes through its persistence collaborator.
package chatbot

import (
	"time"

	"github.com/bull/ragbot/internal/errs"
)

// TrainingStatus is advanced by the training pipeline.
type TrainingStatus string

const (
	TrainingPending    TrainingStatus = "pending"
	TrainingProcessing TrainingStatus = "processing"
	TrainingCompleted  TrainingStatus = "completed"
	TrainingFailed     TrainingStatus = "failed"
)

// Status is the chatbot's availability.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusTraining Status = "training"
	StatusActive   Status = "active"
	StatusError    Status = "error"
)

// Settings are the tunables an owner may change after creation.
type Settings struct {
	SystemPrompt    string  `json:"system_prompt"`
	Temperature     float64 `json:"temperature"`
	MaxTokens       int     `json:"max_tokens"`
	TopK            int     `json:"top_k"`
	ChunkSize       int     `json:"chunk_size"`
	ChunkOverlap    int     `json:"chunk_overlap"`
	EmbeddingModel  string  `json:"embedding_model"`
	CompletionModel string  `json:"completion_model"`
}

// DefaultSystemPrompt is used when a chatbot is created without one.
const DefaultSystemPrompt = "You are a helpful assistant. Answer questions using the provided context. " +
	"If the context does not contain the answer, say that you don't know."

// DefaultSettings returns the settings applied to a new chatbot.
func DefaultSettings() Settings {
	return Settings{
		SystemPrompt:    DefaultSystemPrompt,
		Temperature:     0.7,
		MaxTokens:       500,
		TopK:            5,
		ChunkSize:       1000,
		ChunkOverlap:    200,
		EmbeddingModel:  "text-embedding-3-small",
		CompletionModel: "gpt-4o-mini",
	}
}

// Validate checks every tunable against its allowed range.
func (s Settings) Validate() error {
	switch {
	case s.Temperature < 0 || s.Temperature > 2:
		return errs.Wrap(errs.ErrInvalidInput, "temperature %.2f outside [0, 2]", s.Temperature)
	case s.MaxTokens < 50 || s.MaxTokens > 4000:
		return errs.Wrap(errs.ErrInvalidInput, "maxTokens %d outside [50, 4000]", s.MaxTokens)
	case s.TopK < 1 || s.TopK > 20:
		return errs.Wrap(errs.ErrInvalidInput, "topK %d outside [1, 20]", s.TopK)
	case s.ChunkSize < 100 || s.ChunkSize > 5000:
		return errs.Wrap(errs.ErrInvalidInput, "chunkSize %d outside [100, 5000]", s.ChunkSize)
	case s.ChunkOverlap < 0 || s.ChunkOverlap > 1000:
		return errs.Wrap(errs.ErrInvalidInput, "chunkOverlap %d outside [0, 1000]", s.ChunkOverlap)
	case s.ChunkOverlap >= s.ChunkSize:
		return errs.Wrap(errs.ErrInvalidInput, "chunkOverlap %d must be smaller than chunkSize %d", s.ChunkOverlap, s.ChunkSize)
	case s.EmbeddingModel == "":
		return errs.Wrap(errs.ErrInvalidInput, "embedding model is required")
	case s.CompletionModel == "":
		return errs.Wrap(errs.ErrInvalidInput, "completion model is required")
	}
	return nil
}

// Stats are the running query statistics. They are only ever changed by the
// store's atomic RecordQuery, never by SaveChatbot.
type Stats struct {
	TotalQueries      int64
	SuccessfulQueries int64
	FailedQueries     int64
	AvgResponseMs     float64
	LastQueryAt       *time.Time
}

// Chatbot is one tenant's bot and the counters describing its index.
type Chatbot struct {
	ID           string
	OwnerID      string
	Name         string
	CollectionID string

	Settings Settings

	Status         Status
	TrainingStatus TrainingStatus

	// PreviousStatus is the availability held before the current training
	// run started; FailTraining restores from it.
	PreviousStatus Status

	DocumentCount int
	ChunkCount    int
	TotalSize     int64
	LastTrainedAt *time.Time

	Stats Stats

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Answerable reports whether queries may be served.
func (c *Chatbot) Answerable() bool {
	return c.Status == StatusActive || c.Status == StatusTraining
}

// Trained reports whether anything has been indexed for this chatbot.
func (c *Chatbot) Trained() bool {
	return c.ChunkCount > 0
}

// StartTraining moves the chatbot into processing.
func (c *Chatbot) StartTraining() {
	if c.Status != StatusTraining {
		c.PreviousStatus = c.Status
	}
	c.TrainingStatus = TrainingProcessing
	c.Status = StatusTraining
}

// AddIndexed counts chunks stored by a training batch. They are searchable as
// soon as they are stored, so the count moves before the run ends.
func (c *Chatbot) AddIndexed(chunks int) {
	c.ChunkCount += chunks
}

// CompleteTraining records a successful run. Its chunks were already
// counted batch by batch through AddIndexed.
func (c *Chatbot) CompleteTraining(documents int, size int64, at time.Time) {
	c.DocumentCount += documents
	c.TotalSize += size
	c.LastTrainedAt = &at
	c.TrainingStatus = TrainingCompleted
	c.Status = StatusActive
	c.PreviousStatus = ""
}

// FailTraining records a failed run. Batches stored before the failure stay
// searchable.
//
// A chatbot that was training goes back to active when it has indexed data
// to answer from, and back to the status it held before the run otherwise.
// A never-trained chatbot therefore returns to inactive instead of claiming
// to be active.
func (c *Chatbot) FailTraining() {
	c.TrainingStatus = TrainingFailed
	if c.Status != StatusTraining {
		return
	}
	switch {
	case c.Trained():
		c.Status = StatusActive
	case c.PreviousStatus != "" && c.PreviousStatus != StatusTraining:
		c.Status = c.PreviousStatus
	default:
		c.Status = StatusInactive
	}
	c.PreviousStatus = ""
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ConversationStatus marks whether a session still accepts messages.
type ConversationStatus string

const (
	ConversationActive ConversationStatus = "active"
	ConversationEnded  ConversationStatus = "ended"
)

// Message is one turn of a conversation.
type Message struct {
	ID             string
	Role           Role
	Content        string
	CreatedAt      time.Time
	Tokens         int
	ResponseTimeMs int64
	SourceIDs      []string
}

// Conversation is the append-only transcript of one session.
type Conversation struct {
	ID        string
	ChatbotID string
	SessionID string
	UserID    string
	Status    ConversationStatus
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}
