package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/rag"
)

const defaultListLimit = 50

// makeAskHandler creates the ask_chatbot tool handler.
func makeAskHandler(asker Asker) func(context.Context, *mcp.CallToolRequest, AskInput) (*mcp.CallToolResult, AskOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskInput) (*mcp.CallToolResult, AskOutput, error) {
		if input.ChatbotID == "" {
			return nil, AskOutput{}, errs.Wrap(errs.ErrInvalidInput, "chatbot_id is required")
		}
		resp, err := asker.Query(ctx, rag.QueryRequest{
			ChatbotID: input.ChatbotID,
			Text:      input.Question,
			SessionID: input.SessionID,
			UserID:    input.UserID,
		})
		if err != nil {
			return nil, AskOutput{}, fmt.Errorf("ask chatbot %s: %w", input.ChatbotID, err)
		}

		sources := make([]Source, len(resp.Sources))
		for i, s := range resp.Sources {
			sources[i] = Source{ID: s.ID, Title: s.Title, Source: s.Source, Distance: s.Distance}
		}
		return nil, AskOutput{
			Answer:     resp.Answer,
			Model:      resp.Model,
			Prompt:     string(resp.Prompt),
			Sources:    sources,
			Degraded:   resp.Degraded,
			Untrained:  resp.Untrained,
			TokensUsed: resp.TokensUsed,
			LatencyMs:  resp.Latency.Milliseconds(),
		}, nil
	}
}

// makeCreateHandler creates the create_chatbot tool handler.
func makeCreateHandler(bots Chatbots, defaults chatbot.Settings) func(context.Context, *mcp.CallToolRequest, CreateChatbotInput) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CreateChatbotInput) (*mcp.CallToolResult, StatusOutput, error) {
		settings := defaults
		if input.SystemPrompt != "" {
			settings.SystemPrompt = input.SystemPrompt
		}
		if input.EmbeddingModel != "" {
			settings.EmbeddingModel = input.EmbeddingModel
		}
		if input.CompletionModel != "" {
			settings.CompletionModel = input.CompletionModel
		}
		c, err := bots.Create(ctx, input.OwnerID, input.Name, &settings)
		if err != nil {
			return nil, StatusOutput{}, fmt.Errorf("create chatbot: %w", err)
		}
		return nil, statusOf(c), nil
	}
}

// makeTrainTextHandler creates the train_text tool handler.
func makeTrainTextHandler(trainer Trainer) func(context.Context, *mcp.CallToolRequest, TrainTextInput) (*mcp.CallToolResult, TrainTextOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input TrainTextInput) (*mcp.CallToolResult, TrainTextOutput, error) {
		source := input.Source
		if source == "" {
			source = "mcp"
		}
		res, err := trainer.TrainText(ctx, input.ChatbotID, input.Text, source)
		if err != nil {
			return nil, TrainTextOutput{}, err
		}
		return nil, TrainTextOutput{
			Chunks:         res.Chunks,
			Characters:     res.Characters,
			EmbeddingModel: res.EmbeddingModel,
			DurationMs:     res.Duration.Milliseconds(),
		}, nil
	}
}

// makeListHandler creates the list_documents tool handler.
func makeListHandler(trainer Trainer) func(context.Context, *mcp.CallToolRequest, ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (*mcp.CallToolResult, ListDocumentsOutput, error) {
		limit := input.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		docs, err := trainer.ListDocuments(ctx, input.ChatbotID, limit, max(input.Offset, 0), strings.TrimSpace(input.Search))
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("list documents: %w", err)
		}

		out := make([]Document, len(docs))
		for i, d := range docs {
			out[i] = Document{
				ID:         d.ID,
				Text:       d.Text,
				Source:     d.Metadata.Source,
				Title:      d.Metadata.Title,
				ChunkIndex: d.Metadata.ChunkIndex,
				UploadedAt: d.Metadata.UploadedAt,
			}
		}
		return nil, ListDocumentsOutput{Documents: out, Count: len(out)}, nil
	}
}

// makeStatusHandler creates the chatbot_status tool handler.
func makeStatusHandler(bots Chatbots) func(context.Context, *mcp.CallToolRequest, StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (*mcp.CallToolResult, StatusOutput, error) {
		c, err := bots.Get(ctx, input.ChatbotID)
		if err != nil {
			return nil, StatusOutput{}, err
		}
		return nil, statusOf(c), nil
	}
}

func statusOf(c *chatbot.Chatbot) StatusOutput {
	return StatusOutput{
		ID:                c.ID,
		Name:              c.Name,
		OwnerID:           c.OwnerID,
		Status:            string(c.Status),
		TrainingStatus:    string(c.TrainingStatus),
		EmbeddingModel:    c.Settings.EmbeddingModel,
		CompletionModel:   c.Settings.CompletionModel,
		DocumentCount:     c.DocumentCount,
		ChunkCount:        c.ChunkCount,
		TotalSize:         c.TotalSize,
		LastTrainedAt:     c.LastTrainedAt,
		TotalQueries:      c.Stats.TotalQueries,
		SuccessfulQueries: c.Stats.SuccessfulQueries,
		FailedQueries:     c.Stats.FailedQueries,
		AvgResponseMs:     c.Stats.AvgResponseMs,
		LastQueryAt:       c.Stats.LastQueryAt,
	}
}
