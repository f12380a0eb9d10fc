// Package vectorstore manages one vector collection per chatbot.
package vectorstore

import (
	"context"
	"time"
)

// Metadata travels with every stored chunk.
type Metadata struct {
	ChatbotID  string
	ChunkIndex int
	StartIndex int
	EndIndex   int
	UploadedAt time.Time
	Source     string
	Title      string
}

// Document is one chunk: its id, vector, raw text and metadata.
type Document struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  Metadata
}

// Match is a query hit. Distance is 1 - cosine similarity, so smaller is closer.
type Match struct {
	Document
	Distance float64
}

// CollectionSpec describes the embedding space a collection is created for.
type CollectionSpec struct {
	Dimensions        int
	EmbeddingProvider string
	EmbeddingModel    string
}

// Backend is the external vector store. Implementations translate their
// failures into the errs taxonomy and report wrong vector sizes as
// *errs.DimensionMismatchError.
type Backend interface {
	Health(ctx context.Context) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, name string, spec CollectionSpec) error
	DeleteCollection(ctx context.Context, name string) error
	// Upsert writes all documents or none.
	Upsert(ctx context.Context, name string, docs []Document) error
	Get(ctx context.Context, name string, ids []string) ([]Document, error)
	Delete(ctx context.Context, name string, ids []string) error
	// Query returns up to topK matches in ascending distance order.
	Query(ctx context.Context, name string, vector []float32, topK int) ([]Match, error)
	// Scroll returns documents in a stable order, skipping offset of them.
	Scroll(ctx context.Context, name string, offset, limit int) ([]Document, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}
