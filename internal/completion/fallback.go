package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/metrics"
)

// DefaultMaxRetries bounds the extra attempts after the first exhaustion.
const DefaultMaxRetries = 2

// DefaultFallbackModels is ordered from smallest to largest.
var DefaultFallbackModels = []string{
	"qwen2.5:0.5b",
	"tinyllama",
	"llama3.2:1b",
	"gemma2:2b",
	"phi3:mini",
	"llama3.2:3b",
	"mistral",
	"llama3.1:8b",
}

// ExhaustionError reports that no model could be loaded.
type ExhaustionError struct {
	Model     string
	Tried     []string
	Available []string
}

func (e *ExhaustionError) Error() string {
	available := "none"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("%s: model %q needs more memory than is available (tried %s); available models: %s",
		errs.ErrResourceExhausted, e.Model, strings.Join(e.Tried, ", "), available)
}

func (e *ExhaustionError) Is(target error) bool {
	return target == errs.ErrResourceExhausted
}

// Fallback retries on smaller models when a self-hosted backend cannot load
// the requested one.
type Fallback struct {
	next       Provider
	lister     ModelLister
	models     []string
	maxRetries int
	logger     *zap.Logger
}

var _ Provider = (*Fallback)(nil)

// NewFallback wraps next. models is ordered small to large; nil uses
// DefaultFallbackModels. A negative maxRetries uses DefaultMaxRetries.
func NewFallback(next Provider, lister ModelLister, models []string, maxRetries int, logger *zap.Logger) *Fallback {
	if models == nil {
		models = DefaultFallbackModels
	}
	if maxRetries < 0 {
		maxRetries = DefaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		next:       next,
		lister:     lister,
		models:     models,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (f *Fallback) Name() string { return f.next.Name() }

// Complete runs the fallback state machine around a blocking completion.
func (f *Fallback) Complete(ctx context.Context, req Request) (*Result, error) {
	var res *Result
	err := f.run(ctx, req.Model, func(model string) error {
		r := req
		r.Model = model
		var err error
		res, err = f.next.Complete(ctx, r)
		return err
	})
	return res, err
}

// Stream runs the fallback state machine around the stream open.
func (f *Fallback) Stream(ctx context.Context, req Request) (Stream, error) {
	var s Stream
	err := f.run(ctx, req.Model, func(model string) error {
		r := req
		r.Model = model
		var err error
		s, err = f.next.Stream(ctx, r)
		return err
	})
	return s, err
}

func (f *Fallback) run(ctx context.Context, model string, attempt func(model string) error) error {
	requested := model
	tried := []string{model}

	for retries := 0; ; retries++ {
		err := attempt(model)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errs.ErrResourceExhausted) {
			return err
		}

		available, listErr := f.available(ctx)
		exhausted := &ExhaustionError{Model: requested, Tried: tried, Available: available}
		if listErr != nil {
			return fmt.Errorf("%w (listing models: %v)", exhausted, listErr)
		}
		if retries >= f.maxRetries {
			return exhausted
		}

		next, ok := f.candidate(available, tried)
		if !ok {
			return exhausted
		}

		f.logger.Warn("Completion model exhausted memory, falling back",
			zap.String("from", model),
			zap.String("to", next),
			zap.Int("attempt", retries+2),
		)
		metrics.CompletionFallbacks.WithLabelValues(model, next).Inc()

		tried = append(tried, next)
		model = next
	}
}

func (f *Fallback) available(ctx context.Context) ([]string, error) {
	if f.lister == nil {
		return nil, nil
	}
	return f.lister.ListModels(ctx)
}

// candidate returns the smallest fallback model that the backend has and
// that has not been tried yet.
func (f *Fallback) candidate(available, tried []string) (string, bool) {
	have := make(map[string]string, len(available))
	for _, m := range available {
		have[normalizeModel(m)] = m
	}
	done := make(map[string]bool, len(tried))
	for _, m := range tried {
		done[normalizeModel(m)] = true
	}
	for _, m := range f.models {
		key := normalizeModel(m)
		if name, ok := have[key]; ok && !done[key] {
			return name, true
		}
	}
	return "", false
}

func normalizeModel(m string) string {
	return strings.TrimSuffix(strings.ToLower(m), ":latest")
}
