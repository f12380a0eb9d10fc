// Package rag answers questions from a chatbot's indexed content.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/chatbot"
	"github.com/bull/ragbot/internal/completion"
	"github.com/bull/ragbot/internal/embedding"
	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/metrics"
	"github.com/bull/ragbot/internal/vectorstore"
)

// UntrainedModel tags the fixed answer given by chatbots with nothing indexed.
const UntrainedModel = "none"

// Retriever finds the chunks nearest to a query vector.
type Retriever interface {
	Query(ctx context.Context, id string, vector []float32, topK int) ([]vectorstore.Match, error)
}

// Deps are the collaborators an Engine is built from. Conversations and
// Mock are optional: without Conversations no transcript is kept, and
// without Mock quota failures are returned to the caller.
type Deps struct {
	Store         chatbot.Store
	Conversations chatbot.ConversationStore
	Embedder      embedding.Provider
	Retriever     Retriever
	Reconciler    *embedding.Reconciler
	Completer     completion.Provider
	Mock          completion.Provider
}

// Options tunes the Engine. Zero values select the defaults.
type Options struct {
	MaxContextChars int
	Greeting        *GreetingPolicy
}

// QueryRequest is one user question.
type QueryRequest struct {
	ChatbotID string
	Text      string
	SessionID string
	UserID    string
}

// Source is a retrieved chunk an answer was grounded on.
type Source struct {
	ID       string
	Text     string
	Distance float64
	Source   string
	Title    string
}

// Response is a finished answer.
type Response struct {
	Answer     string
	Model      string
	Prompt     PromptKind
	Sources    []Source
	TokensUsed int
	// Degraded is set when the offline mock answered in place of the
	// configured model.
	Degraded  bool
	Untrained bool
	Latency   time.Duration
}

// Engine runs the query state machine: load, retrieve, prompt, complete,
// record.
type Engine struct {
	deps            Deps
	maxContextChars int
	greeting        GreetingPolicy
	logger          *zap.Logger
	now             func() time.Time
}

// NewEngine creates an Engine. A nil logger disables logging.
func NewEngine(deps Deps, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = DefaultMaxContextChars
	}
	greeting := DefaultGreetingPolicy()
	if opts.Greeting != nil {
		greeting = *opts.Greeting
	}
	return &Engine{
		deps:            deps,
		maxContextChars: opts.MaxContextChars,
		greeting:        greeting,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// plan is a prepared query: either a fixed answer or a completion request.
type plan struct {
	chatbot *chatbot.Chatbot
	req     QueryRequest
	start   time.Time

	untrained bool
	kind      PromptKind
	sources   []Source
	request   completion.Request
}

// Query answers one question.
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*Response, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.untrained {
		resp := p.response(UntrainedAnswer, UntrainedModel, 0, false)
		e.finish(ctx, p, resp, nil)
		return resp, nil
	}

	res, degraded, err := e.complete(ctx, p)
	if err != nil {
		e.finish(ctx, p, nil, err)
		return nil, err
	}
	answer := cleanAnswer(res.Content)
	if answer == "" {
		err := errs.Backend(res.Model, "empty answer")
		e.finish(ctx, p, nil, err)
		return nil, err
	}
	resp := p.response(answer, res.Model, res.TokensUsed, degraded)
	e.finish(ctx, p, resp, nil)
	return resp, nil
}

// prepare loads the chatbot and builds the prompt. Failures after the
// chatbot has loaded are recorded in its stats.
func (e *Engine) prepare(ctx context.Context, req QueryRequest) (*plan, error) {
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, errs.Wrap(errs.ErrInvalidInput, "question is empty")
	}
	start := e.now()

	c, err := e.deps.Store.LoadChatbot(ctx, req.ChatbotID)
	if err != nil {
		return nil, err
	}
	p := &plan{chatbot: c, req: req, start: start}

	if !c.Answerable() {
		err := errs.Wrap(errs.ErrUnavailable, "chatbot %s is %s", c.ID, c.Status)
		e.finish(ctx, p, nil, err)
		return nil, err
	}
	if !c.Trained() {
		p.untrained = true
		return p, nil
	}

	grounding := ""
	switch {
	case e.greeting.Match(req.Text):
		p.kind = PromptGreeting
	default:
		matches, err := e.retrieve(ctx, c, req.Text)
		if err != nil {
			e.finish(ctx, p, nil, err)
			return nil, err
		}
		p.sources = toSources(matches)
		grounding = buildContext(matches, e.maxContextChars)
		p.kind = PromptGrounded
		if grounding == "" {
			p.kind = PromptContextFree
		}
	}

	p.request = completion.Request{
		Messages: []completion.Message{
			{Role: completion.RoleSystem, Content: c.Settings.SystemPrompt},
			{Role: completion.RoleUser, Content: userPrompt(p.kind, req.Text, grounding)},
		},
		Model:       c.Settings.CompletionModel,
		Temperature: c.Settings.Temperature,
		MaxTokens:   c.Settings.MaxTokens,
	}
	return p, nil
}

// retrieve embeds the question and queries the collection, reconciling the
// embedding model once on a dimension mismatch.
func (e *Engine) retrieve(ctx context.Context, c *chatbot.Chatbot, text string) ([]vectorstore.Match, error) {
	model := c.Settings.EmbeddingModel
	matches, err := e.search(ctx, c, text, model)
	if !errors.Is(err, errs.ErrDimensionMismatch) {
		return matches, err
	}

	resolved, ok := e.deps.Reconciler.Reconcile(err, model)
	if !ok || resolved == model {
		return nil, err
	}
	metrics.DimensionReconciliations.WithLabelValues("query").Inc()
	return e.search(ctx, c, text, resolved)
}

func (e *Engine) search(ctx context.Context, c *chatbot.Chatbot, text, model string) ([]vectorstore.Match, error) {
	vector, err := embedding.EmbedOne(ctx, e.deps.Embedder, text, model)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return e.deps.Retriever.Query(ctx, c.CollectionID, vector, c.Settings.TopK)
}

// complete calls the model, substituting the offline mock when the cloud
// provider is out of quota and a mock is configured.
func (e *Engine) complete(ctx context.Context, p *plan) (*completion.Result, bool, error) {
	res, err := e.deps.Completer.Complete(ctx, p.request)
	if err == nil || !e.substitutable(err) {
		return res, false, err
	}
	e.recordSubstitution(p, err)
	res, err = e.deps.Mock.Complete(ctx, p.request)
	return res, true, err
}

func (e *Engine) substitutable(err error) bool {
	return e.deps.Mock != nil && errors.Is(err, errs.ErrRateLimited)
}

func (e *Engine) recordSubstitution(p *plan, cause error) {
	provider := e.providerName(p.request.Model)
	metrics.MockSubstitutions.WithLabelValues(provider).Inc()
	e.logger.Warn("Completion provider out of quota, answering with offline mock",
		zap.String("chatbot_id", p.chatbot.ID),
		zap.String("provider", provider),
		zap.String("requested_model", p.request.Model),
		zap.String("model", completion.MockModel),
		zap.Error(cause),
	)
}

// providerName resolves the backend serving model when the completer is a
// router.
func (e *Engine) providerName(model string) string {
	type resolver interface {
		Resolve(model string) (completion.Provider, error)
	}
	if r, ok := e.deps.Completer.(resolver); ok {
		if p, err := r.Resolve(model); err == nil {
			return p.Name()
		}
	}
	return e.deps.Completer.Name()
}

func (p *plan) response(answer, model string, tokens int, degraded bool) *Response {
	return &Response{
		Answer:     answer,
		Model:      model,
		Prompt:     p.kind,
		Sources:    p.sources,
		TokensUsed: tokens,
		Degraded:   degraded,
		Untrained:  p.untrained,
	}
}

// finish records stats and metrics and, for a successful answer in a
// session, appends both turns to the conversation.
func (e *Engine) finish(ctx context.Context, p *plan, resp *Response, queryErr error) {
	ctx = context.WithoutCancel(ctx)
	latency := e.now().Sub(p.start)

	outcome := "success"
	switch {
	case queryErr != nil:
		outcome = "error"
	case resp.Untrained:
		outcome = "untrained"
	case resp.Degraded:
		outcome = "degraded"
	}
	metrics.QueryTotal.WithLabelValues(outcome).Inc()
	metrics.QueryDuration.WithLabelValues(outcome).Observe(latency.Seconds())

	if err := e.deps.Store.RecordQuery(ctx, p.chatbot.ID, queryErr == nil, latency); err != nil {
		e.logger.Warn("Failed to record query stats", zap.String("chatbot_id", p.chatbot.ID), zap.Error(err))
	}

	if queryErr != nil {
		e.logger.Warn("Query failed",
			zap.String("chatbot_id", p.chatbot.ID),
			zap.Duration("latency", latency),
			zap.Error(queryErr),
		)
		return
	}
	resp.Latency = latency
	e.logger.Info("Query answered",
		zap.String("chatbot_id", p.chatbot.ID),
		zap.String("model", resp.Model),
		zap.String("prompt", string(resp.Prompt)),
		zap.Int("sources", len(resp.Sources)),
		zap.Bool("degraded", resp.Degraded),
		zap.Duration("latency", latency),
	)

	if p.req.SessionID != "" && p.req.UserID != "" && e.deps.Conversations != nil {
		if err := e.appendTurns(ctx, p, resp); err != nil {
			e.logger.Warn("Failed to append conversation",
				zap.String("chatbot_id", p.chatbot.ID),
				zap.String("session_id", p.req.SessionID),
				zap.Error(err),
			)
		}
	}
}

func (e *Engine) appendTurns(ctx context.Context, p *plan, resp *Response) error {
	store := e.deps.Conversations
	conv, err := store.LoadConversation(ctx, p.chatbot.ID, p.req.SessionID)
	if errors.Is(err, errs.ErrNotFound) {
		conv = &chatbot.Conversation{
			ChatbotID: p.chatbot.ID,
			SessionID: p.req.SessionID,
			UserID:    p.req.UserID,
			Status:    chatbot.ConversationActive,
			CreatedAt: p.start,
			UpdatedAt: p.start,
		}
		err = store.CreateConversation(ctx, conv)
	}
	if err != nil {
		return err
	}

	sourceIDs := make([]string, len(resp.Sources))
	for i, s := range resp.Sources {
		sourceIDs[i] = s.ID
	}
	if err := store.AppendMessage(ctx, conv, chatbot.Message{
		Role:      chatbot.RoleUser,
		Content:   p.req.Text,
		CreatedAt: p.start,
	}); err != nil {
		return err
	}
	return store.AppendMessage(ctx, conv, chatbot.Message{
		Role:           chatbot.RoleAssistant,
		Content:        resp.Answer,
		CreatedAt:      e.now(),
		Tokens:         resp.TokensUsed,
		ResponseTimeMs: resp.Latency.Milliseconds(),
		SourceIDs:      sourceIDs,
	})
}

func toSources(matches []vectorstore.Match) []Source {
	out := make([]Source, len(matches))
	for i, m := range matches {
		out[i] = Source{
			ID:       m.ID,
			Text:     m.Text,
			Distance: m.Distance,
			Source:   m.Metadata.Source,
			Title:    m.Metadata.Title,
		}
	}
	return out
}
