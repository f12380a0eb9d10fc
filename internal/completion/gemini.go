package completion

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bull/ragbot/internal/errs"
)

// GeminiProvider calls Google's Gemini models.
type GeminiProvider struct {
	client *genai.Client
}

var _ Provider = (*GeminiProvider)(nil)

// NewGeminiProvider creates a Gemini client authenticated with apiKey.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "gemini api key not set")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errs.Wrap(errs.ErrBackend, "creating gemini client: %v", err)
	}
	return &GeminiProvider{client: client}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Close releases the underlying client.
func (p *GeminiProvider) Close() error {
	return p.client.Close()
}

// session builds a chat session whose history holds every message but the
// last, which is returned as the parts to send.
func (p *GeminiProvider) session(req Request) (*genai.ChatSession, []genai.Part, error) {
	model := p.client.GenerativeModel(req.Model)
	temp := float32(req.Temperature)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		model.GenerationConfig.MaxOutputTokens = &maxTokens
	}

	var history []*genai.Content
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))},
		}
	}

	if len(history) == 0 || history[len(history)-1].Role != "user" {
		return nil, nil, errs.Wrap(errs.ErrInvalidInput, "last message must come from the user")
	}
	last := history[len(history)-1]

	cs := model.StartChat()
	cs.History = history[:len(history)-1]
	return cs, last.Parts, nil
}

// Complete generates a full answer.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (*Result, error) {
	cs, parts, err := p.session(req)
	if err != nil {
		return nil, err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, errs.FromGoogle(p.Name(), err)
	}

	res := &Result{Content: responseText(resp), Model: req.Model}
	if resp.UsageMetadata != nil {
		res.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if res.Content == "" {
		return nil, errs.Backend(p.Name(), "empty response")
	}
	return res, nil
}

// Stream generates an answer incrementally.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	cs, parts, err := p.session(req)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	iter := cs.SendMessageStream(sctx, parts...)
	recv := func() (string, error) {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		return responseText(resp), nil
	}
	closeFn := func() error {
		cancel()
		return nil
	}
	return openStream(recv, closeFn, req.Model, func(err error) error {
		return errs.FromGoogle(p.Name(), err)
	})
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}
