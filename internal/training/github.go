package training

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/extract"
	"github.com/bull/ragbot/internal/github"
)

// DocFetcher lists and downloads remote training documents.
// *github.Fetcher satisfies it.
type DocFetcher interface {
	ListDocs(ctx context.Context) ([]string, error)
	FetchDoc(ctx context.Context, relativePath string) (*github.FetchedDoc, error)
}

// FetchResult contains statistics about a repository training run.
type FetchResult struct {
	TotalDocs      int
	TotalChunks    int
	SuccessfulDocs int
	FailedDocs     []FailedDoc
	Duration       time.Duration
}

// FailedDoc represents a document that failed to train.
type FailedDoc struct {
	Path   string
	Reason string
}

// TrainGitHub trains a chatbot on every markdown and html file the fetcher
// lists, one run per file. A file that fails is recorded and skipped.
func (p *Pipeline) TrainGitHub(ctx context.Context, chatbotID string, fetcher DocFetcher) (*FetchResult, error) {
	start := time.Now()
	result := &FetchResult{}

	paths, err := fetcher.ListDocs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list docs: %w", err)
	}
	result.TotalDocs = len(paths)
	p.logger.Info("Found documents", zap.String("chatbot_id", chatbotID), zap.Int("count", len(paths)))

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		chunks, err := p.trainRemote(ctx, chatbotID, fetcher, path)
		if err != nil {
			p.logger.Warn("Failed to train document", zap.String("path", path), zap.Error(err))
			result.FailedDocs = append(result.FailedDocs, FailedDoc{Path: path, Reason: err.Error()})
			continue
		}
		result.SuccessfulDocs++
		result.TotalChunks += chunks
	}

	result.Duration = time.Since(start)
	p.logger.Info("Repository training complete",
		zap.String("chatbot_id", chatbotID),
		zap.Int("successful", result.SuccessfulDocs),
		zap.Int("failed", len(result.FailedDocs)),
		zap.Int("chunks", result.TotalChunks),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

func (p *Pipeline) trainRemote(ctx context.Context, chatbotID string, fetcher DocFetcher, path string) (int, error) {
	fetched, err := fetcher.FetchDoc(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("fetch: %w", err)
	}
	doc, err := extract.Bytes([]byte(fetched.Content), extract.FormatFor(path))
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}
	if doc.Title == "" {
		doc.Title = path
	}
	source := fetched.URL
	if source == "" {
		source = path
	}
	res, err := p.TrainDocument(ctx, chatbotID, doc, source)
	if err != nil {
		return 0, err
	}
	return res.Chunks, nil
}
