// Package errs defines the failure taxonomy shared by every ragbot component.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrUnavailable       = errors.New("unavailable")
	ErrTimeout           = errors.New("timeout")
	ErrRateLimited       = errors.New("rate limited")
	ErrInvalidModel      = errors.New("invalid model")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrBackend           = errors.New("backend error")
	ErrTooLarge          = errors.New("input too large")
	ErrNoContent         = errors.New("no content")
	ErrTooManyIDs        = errors.New("too many ids")

	// ErrQuotaExceeded is a RateLimited variant: the account is out of quota
	// rather than being throttled.
	ErrQuotaExceeded = fmt.Errorf("%w: quota exceeded", ErrRateLimited)
)

// DimensionMismatchError reports the vector size a collection was created
// with alongside the size that was offered.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("%s: expected %d dimensions, got %d", ErrDimensionMismatch, e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Wrap attaches a formatted detail to one of the sentinel kinds.
func Wrap(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, args...))
}

// Backend builds an opaque upstream failure carrying the provider's message.
func Backend(provider, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrBackend, provider, msg)
}

// Expected returns the collection dimensionality named by a mismatch error.
func Expected(err error) (int, bool) {
	var dm *DimensionMismatchError
	if errors.As(err, &dm) && dm.Expected > 0 {
		return dm.Expected, true
	}
	return 0, false
}
