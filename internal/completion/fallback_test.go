package completion

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
)

// scriptedProvider fails with ErrResourceExhausted for every model in
// exhausted and answers otherwise.
type scriptedProvider struct {
	exhausted map[string]bool
	failWith  error
	attempts  []string
	available []string
	listCalls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, req Request) (*Result, error) {
	p.attempts = append(p.attempts, req.Model)
	if p.failWith != nil {
		return nil, p.failWith
	}
	if p.exhausted[req.Model] {
		return nil, fmt.Errorf("%w: model requires more system memory", errs.ErrResourceExhausted)
	}
	return &Result{Content: "ok", Model: req.Model}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	if _, err := p.Complete(ctx, req); err != nil {
		return nil, err
	}
	return NewMockProvider(0).Stream(ctx, req)
}

func (p *scriptedProvider) ListModels(context.Context) ([]string, error) {
	p.listCalls++
	return p.available, nil
}

func TestFallback_PicksSmallestAvailable(t *testing.T) {
	p := &scriptedProvider{
		exhausted: map[string]bool{"llama3.1:8b": true},
		available: []string{"llama3.1:8b", "mistral:latest", "llama3.2:3b", "phi3:mini"},
	}
	f := NewFallback(p, p, []string{"tinyllama", "phi3:mini", "llama3.2:3b", "mistral"}, 2, nil)

	res, err := f.Complete(context.Background(), Request{Model: "llama3.1:8b"})
	require.NoError(t, err)
	assert.Equal(t, "phi3:mini", res.Model)
	assert.Equal(t, []string{"llama3.1:8b", "phi3:mini"}, p.attempts)
}

func TestFallback_BoundedByMaxRetries(t *testing.T) {
	p := &scriptedProvider{
		exhausted: map[string]bool{"big": true, "a": true, "b": true, "c": true},
		available: []string{"a", "b", "c", "big"},
	}
	f := NewFallback(p, p, []string{"a", "b", "c"}, 2, nil)

	_, err := f.Complete(context.Background(), Request{Model: "big"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrResourceExhausted)
	assert.Equal(t, []string{"big", "a", "b"}, p.attempts, "one attempt plus two retries")

	var exh *ExhaustionError
	require.ErrorAs(t, err, &exh)
	assert.Equal(t, "big", exh.Model)
	assert.Contains(t, err.Error(), `model "big"`)
	assert.Contains(t, err.Error(), "available models: a, b, c, big")
}

func TestFallback_NoCandidate(t *testing.T) {
	p := &scriptedProvider{
		exhausted: map[string]bool{"big": true},
		available: []string{"big", "unlisted"},
	}
	f := NewFallback(p, p, []string{"small"}, 2, nil)

	_, err := f.Complete(context.Background(), Request{Model: "big"})
	var exh *ExhaustionError
	require.ErrorAs(t, err, &exh)
	assert.Equal(t, []string{"big", "unlisted"}, exh.Available)
	assert.Equal(t, []string{"big"}, p.attempts)
}

func TestFallback_NonExhaustionAbortsImmediately(t *testing.T) {
	boom := errs.Backend("scripted", "boom")
	p := &scriptedProvider{failWith: boom, available: []string{"a"}}
	f := NewFallback(p, p, []string{"a"}, 2, nil)

	_, err := f.Complete(context.Background(), Request{Model: "big"})
	assert.ErrorIs(t, err, errs.ErrBackend)
	assert.Len(t, p.attempts, 1)
	assert.Zero(t, p.listCalls)
}

func TestFallback_AppliesToStreamOpen(t *testing.T) {
	p := &scriptedProvider{
		exhausted: map[string]bool{"big": true},
		available: []string{"tiny", "big"},
	}
	f := NewFallback(p, p, []string{"tiny"}, 2, nil)

	s, err := f.Stream(context.Background(), Request{Model: "big", Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	defer s.Close()
	for s.Next() {
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []string{"big", "tiny"}, p.attempts)
}

func TestFallback_ListError(t *testing.T) {
	f := NewFallback(&scriptedProvider{exhausted: map[string]bool{"big": true}}, failingLister{}, nil, 2, nil)
	_, err := f.Complete(context.Background(), Request{Model: "big"})
	assert.ErrorIs(t, err, errs.ErrResourceExhausted)
	assert.Contains(t, err.Error(), "listing models")
}

type failingLister struct{}

func (failingLister) ListModels(context.Context) ([]string, error) {
	return nil, errors.New("connection refused")
}
