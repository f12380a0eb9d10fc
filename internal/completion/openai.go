package completion

import (
	"context"
	"errors"
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/bull/ragbot/internal/errs"
)

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

var _ Provider = (*OpenAIProvider)(nil)

// NewOpenAIProvider creates a provider. SDK retries are disabled; quota and
// rate-limit failures surface to the caller.
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "openai api key not set")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       openai.ChatModel(req.Model),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return params
}

// Complete generates a full answer.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.Backend(p.Name(), "no choices in response")
	}
	return &Result{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: int(resp.Usage.TotalTokens),
		Model:      resp.Model,
	}, nil
}

// Stream generates an answer incrementally.
func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(req))
	recv := func() (string, error) {
		if !stream.Next() {
			if err := stream.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			return "", nil
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	return openStream(recv, stream.Close, req.Model, classifyOpenAI)
}

// classifyOpenAI maps openai-go errors onto the error taxonomy.
func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return errs.FromStatus("openai", apiErr.StatusCode, apiErr.Code, apiErr.Message)
	}
	return errs.FromTransport("openai", err)
}
