// Package mcp exposes chatbots as Model Context Protocol tools.
package mcp

import "time"

// AskInput defines the input parameters for the ask_chatbot tool.
type AskInput struct {
	ChatbotID string `json:"chatbot_id" jsonschema:"The chatbot to ask"`
	Question  string `json:"question" jsonschema:"The user's question"`
	// SessionID and UserID together keep a conversation transcript.
	SessionID string `json:"session_id,omitempty" jsonschema:"Conversation session id; with user_id the exchange is recorded"`
	UserID    string `json:"user_id,omitempty" jsonschema:"Id of the user asking"`
}

// AskOutput contains the answer and what it was grounded on.
type AskOutput struct {
	Answer string `json:"answer"`
	Model  string `json:"model"`
	// Prompt is grounded, greeting or context_free.
	Prompt  string   `json:"prompt"`
	Sources []Source `json:"sources"`
	// Degraded is set when the offline mock answered because the cloud
	// provider ran out of quota.
	Degraded   bool  `json:"degraded"`
	Untrained  bool  `json:"untrained"`
	TokensUsed int   `json:"tokens_used"`
	LatencyMs  int64 `json:"latency_ms"`
}

// Source is a chunk an answer was grounded on.
type Source struct {
	ID       string  `json:"id"`
	Title    string  `json:"title,omitempty"`
	Source   string  `json:"source,omitempty"`
	Distance float64 `json:"distance"`
}

// CreateChatbotInput defines the input parameters for the create_chatbot tool.
type CreateChatbotInput struct {
	OwnerID      string `json:"owner_id" jsonschema:"Owner of the new chatbot"`
	Name         string `json:"name" jsonschema:"Display name"`
	SystemPrompt string `json:"system_prompt,omitempty" jsonschema:"Instructions prepended to every prompt"`
	// Models left empty use the server defaults.
	EmbeddingModel  string `json:"embedding_model,omitempty" jsonschema:"Embedding model used for training and queries"`
	CompletionModel string `json:"completion_model,omitempty" jsonschema:"Model that writes the answers"`
}

// TrainTextInput defines the input parameters for the train_text tool.
type TrainTextInput struct {
	ChatbotID string `json:"chatbot_id" jsonschema:"The chatbot to train"`
	Text      string `json:"text" jsonschema:"Raw text to index"`
	Source    string `json:"source,omitempty" jsonschema:"Label recorded on every chunk"`
}

// TrainTextOutput reports one training run.
type TrainTextOutput struct {
	Chunks         int    `json:"chunks"`
	Characters     int    `json:"characters"`
	EmbeddingModel string `json:"embedding_model"`
	DurationMs     int64  `json:"duration_ms"`
}

// ListDocumentsInput defines the input parameters for the list_documents tool.
type ListDocumentsInput struct {
	ChatbotID string `json:"chatbot_id" jsonschema:"The chatbot whose chunks to list"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum chunks to return, default 50"`
	Offset    int    `json:"offset,omitempty" jsonschema:"Chunks to skip"`
	Search    string `json:"search,omitempty" jsonschema:"Case-insensitive substring filter on chunk text"`
}

// ListDocumentsOutput contains one page of chunks.
type ListDocumentsOutput struct {
	Documents []Document `json:"documents"`
	Count     int        `json:"count"`
}

// Document is one stored chunk.
type Document struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Source     string    `json:"source,omitempty"`
	Title      string    `json:"title,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// StatusInput defines the input parameters for the chatbot_status tool.
type StatusInput struct {
	ChatbotID string `json:"chatbot_id" jsonschema:"The chatbot to describe"`
}

// StatusOutput describes a chatbot's availability, index and query stats.
type StatusOutput struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	OwnerID         string     `json:"owner_id"`
	Status          string     `json:"status"`
	TrainingStatus  string     `json:"training_status"`
	EmbeddingModel  string     `json:"embedding_model"`
	CompletionModel string     `json:"completion_model"`
	DocumentCount   int        `json:"document_count"`
	ChunkCount      int        `json:"chunk_count"`
	TotalSize       int64      `json:"total_size"`
	LastTrainedAt   *time.Time `json:"last_trained_at,omitempty"`

	TotalQueries      int64      `json:"total_queries"`
	SuccessfulQueries int64      `json:"successful_queries"`
	FailedQueries     int64      `json:"failed_queries"`
	AvgResponseMs     float64    `json:"avg_response_ms"`
	LastQueryAt       *time.Time `json:"last_query_at,omitempty"`
}
