// Package completion generates chat answers through interchangeable
// language-model backends.
package completion

import (
	"context"
	"time"

	"github.com/bull/ragbot/internal/deadline"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultTimeout bounds a completion call or a stream open.
const DefaultTimeout = 60 * time.Second

// Message is one turn of a chat prompt.
type Message struct {
	Role    string
	Content string
}

// Request describes a completion call.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Result is a finished completion.
type Result struct {
	Content    string
	TokensUsed int
	Model      string
}

// Provider is a chat completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Result, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// ModelLister is implemented by backends that can report which models they
// currently serve.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// Timeout races every Complete and stream open against a timer.
type Timeout struct {
	next    Provider
	timeout time.Duration
}

var _ Provider = (*Timeout)(nil)

// WithTimeout wraps p. A non-positive d uses DefaultTimeout.
func WithTimeout(p Provider, d time.Duration) *Timeout {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &Timeout{next: p, timeout: d}
}

func (t *Timeout) Name() string { return t.next.Name() }

// Complete calls the wrapped provider. A call that loses the race is abandoned.
func (t *Timeout) Complete(ctx context.Context, req Request) (*Result, error) {
	return deadline.Race(ctx, t.timeout, t.next.Name()+" completion", func(ctx context.Context) (*Result, error) {
		return t.next.Complete(ctx, req)
	})
}

// Stream opens a stream. The stream runs under its own cancelable context so
// an open that loses the race, or a closed stream, releases its connection.
func (t *Timeout) Stream(ctx context.Context, req Request) (Stream, error) {
	sctx, cancel := context.WithCancel(ctx)
	s, err := deadline.Race(sctx, t.timeout, t.next.Name()+" stream", func(ctx context.Context) (Stream, error) {
		return t.next.Stream(ctx, req)
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return &cancelStream{Stream: s, cancel: cancel}, nil
}

type cancelStream struct {
	Stream
	cancel context.CancelFunc
}

func (s *cancelStream) Close() error {
	err := s.Stream.Close()
	s.cancel()
	return err
}
