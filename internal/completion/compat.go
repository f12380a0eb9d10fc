package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bull/ragbot/internal/errs"
)

// exhaustionSignals are substrings local servers use when a model does not
// fit in memory.
var exhaustionSignals = []string{
	"requires more system memory",
	"out of memory",
	"insufficient memory",
}

// CompatProvider talks to self-hosted OpenAI-compatible servers such as
// Ollama, vLLM or LM Studio.
type CompatProvider struct {
	client *openai.Client
}

var (
	_ Provider    = (*CompatProvider)(nil)
	_ ModelLister = (*CompatProvider)(nil)
)

// NewCompatProvider creates a provider for baseURL, e.g.
// http://localhost:11434/v1.
func NewCompatProvider(baseURL, apiKey string) (*CompatProvider, error) {
	if baseURL == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "local completion base url not set")
	}
	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL
	return &CompatProvider{client: openai.NewClientWithConfig(cfg)}, nil
}

func (p *CompatProvider) Name() string { return "local" }

func (p *CompatProvider) request(req Request, stream bool) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

// Complete generates a full answer.
func (p *CompatProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.request(req, false))
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, errs.Backend(p.Name(), "no choices in response")
	}
	model := resp.Model
	if model == "" {
		model = req.Model
	}
	return &Result{
		Content:    resp.Choices[0].Message.Content,
		TokensUsed: resp.Usage.TotalTokens,
		Model:      model,
	}, nil
}

// Stream generates an answer incrementally.
func (p *CompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.request(req, true))
	if err != nil {
		return nil, p.classify(err)
	}
	recv := func() (string, error) {
		resp, err := stream.Recv()
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Delta.Content, nil
	}
	closeFn := func() error {
		stream.Close()
		return nil
	}
	return openStream(recv, closeFn, req.Model, p.classify)
}

// ListModels returns the ids of the models the server can load.
func (p *CompatProvider) ListModels(ctx context.Context) ([]string, error) {
	list, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, p.classify(err)
	}
	ids := make([]string, len(list.Models))
	for i, m := range list.Models {
		ids[i] = m.ID
	}
	return ids, nil
}

// classify maps go-openai errors onto the error taxonomy. Out-of-memory
// responses become ErrResourceExhausted so the fallback can react to them.
func (p *CompatProvider) classify(err error) error {
	msg := err.Error()
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	if isExhaustion(msg) {
		return fmt.Errorf("%w: %s: %s", errs.ErrResourceExhausted, p.Name(), msg)
	}

	if apiErr != nil {
		code, _ := apiErr.Code.(string)
		return errs.FromStatus(p.Name(), apiErr.HTTPStatusCode, code, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return errs.FromStatus(p.Name(), reqErr.HTTPStatusCode, "", msg)
	}
	return errs.FromTransport(p.Name(), err)
}

func isExhaustion(msg string) bool {
	lower := strings.ToLower(msg)
	for _, s := range exhaustionSignals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
