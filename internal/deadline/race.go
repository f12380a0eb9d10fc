// Package deadline runs backend calls against a timer.
package deadline

import (
	"context"
	"fmt"
	"time"

	"github.com/bull/ragbot/internal/errs"
)

type outcome[T any] struct {
	val T
	err error
}

// Race runs fn and returns its result, or an errs.ErrTimeout once d elapses.
// fn receives the caller's context unchanged, so a call that loses the race is
// abandoned and left to finish on its own. A non-positive d disables the timer.
func Race[T any](ctx context.Context, d time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	done := make(chan outcome[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome[T]{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case out := <-done:
		return out.val, out.err
	case <-timer.C:
		return zero, fmt.Errorf("%w: %s did not respond within %s", errs.ErrTimeout, op, d)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
