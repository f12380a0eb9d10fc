package errs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// FromStatus maps an HTTP-style provider failure onto the taxonomy.
func FromStatus(provider string, status int, code, msg string) error {
	detail := msg
	if detail == "" {
		detail = http.StatusText(status)
	}

	switch {
	case status == http.StatusTooManyRequests && IsQuotaSignal(code, msg):
		return fmt.Errorf("%w: %s: %s", ErrQuotaExceeded, provider, detail)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s: %s", ErrRateLimited, provider, detail)
	case status == http.StatusNotFound || code == "model_not_found":
		return fmt.Errorf("%w: %s: %s", ErrInvalidModel, provider, detail)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s: %s", ErrInvalidInput, provider, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %s: %s", ErrTimeout, provider, detail)
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %s: %s", ErrUnavailable, provider, detail)
	default:
		return Backend(provider, fmt.Sprintf("status %d: %s", status, detail))
	}
}

// IsQuotaSignal reports whether a rate-limit response means the account is
// out of quota rather than temporarily throttled.
func IsQuotaSignal(code, msg string) bool {
	if code == "insufficient_quota" {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota") || strings.Contains(lower, "billing")
}

// FromTransport classifies errors raised before any response arrived.
func FromTransport(provider string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, syscall.ECONNREFUSED):
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, provider, err)
		}
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrBackend, provider, err)
}
