package rag

import (
	"context"
	"errors"
	"sync"

	"github.com/bull/ragbot/internal/completion"
	"github.com/bull/ragbot/internal/errs"
)

var errStreamClosed = errors.New("stream closed before the answer finished")

// AnswerStream delivers an answer incrementally. Increments are raw model
// output; Response returns the cleaned answer once Next has returned false.
// Stats and the conversation are recorded when the stream ends or is closed.
type AnswerStream struct {
	engine   *Engine
	ctx      context.Context
	plan     *plan
	stream   completion.Stream
	degraded bool

	once sync.Once
	resp *Response
	err  error
}

// QueryStream prepares the question like Query and opens a completion stream.
func (e *Engine) QueryStream(ctx context.Context, req QueryRequest) (*AnswerStream, error) {
	p, err := e.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if p.untrained {
		return &AnswerStream{engine: e, ctx: ctx, plan: p, stream: completion.TextStream(UntrainedAnswer, UntrainedModel)}, nil
	}

	s, err := e.deps.Completer.Stream(ctx, p.request)
	degraded := false
	if err != nil && e.substitutable(err) {
		e.recordSubstitution(p, err)
		s, err = e.deps.Mock.Stream(ctx, p.request)
		degraded = true
	}
	if err != nil {
		e.finish(ctx, p, nil, err)
		return nil, err
	}
	return &AnswerStream{engine: e, ctx: ctx, plan: p, stream: s, degraded: degraded}, nil
}

// Next advances to the next increment.
func (a *AnswerStream) Next() bool {
	if a.stream.Next() {
		return true
	}
	a.end(a.stream.Err())
	return false
}

// Text returns the current increment.
func (a *AnswerStream) Text() string { return a.stream.Text() }

// Err returns the failure that ended the stream, if any.
func (a *AnswerStream) Err() error { return a.err }

// Degraded reports whether the offline mock is answering.
func (a *AnswerStream) Degraded() bool { return a.degraded }

// Response returns the finished answer, or nil if the stream failed or has
// not ended.
func (a *AnswerStream) Response() *Response { return a.resp }

// Close releases the backend stream. Closing before the end records the
// query as failed.
func (a *AnswerStream) Close() error {
	err := a.stream.Close()
	a.end(errStreamClosed)
	return err
}

func (a *AnswerStream) end(streamErr error) {
	a.once.Do(func() {
		p := a.plan
		if streamErr != nil {
			if errors.Is(streamErr, errStreamClosed) && a.ctx.Err() != nil {
				streamErr = a.ctx.Err()
			}
			a.err = streamErr
			a.engine.finish(a.ctx, p, nil, streamErr)
			return
		}

		res := a.stream.Result()
		answer := cleanAnswer(res.Content)
		if answer == "" && !p.untrained {
			a.err = errs.Backend(res.Model, "empty answer")
			a.engine.finish(a.ctx, p, nil, a.err)
			return
		}
		a.resp = p.response(answer, res.Model, res.WordCount, a.degraded)
		a.engine.finish(a.ctx, p, a.resp, nil)
	})
}
