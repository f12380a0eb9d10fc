package errs

import (
	"errors"
	"fmt"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FromGoogle classifies errors returned by Google API clients, which arrive
// either as REST googleapi errors or as gRPC statuses.
func FromGoogle(provider string, err error) error {
	if err == nil {
		return nil
	}

	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		reason := ""
		if len(gErr.Errors) > 0 {
			reason = gErr.Errors[0].Reason
		}
		if reason == "quotaExceeded" {
			reason = "insufficient_quota"
		}
		return FromStatus(provider, gErr.Code, reason, gErr.Message)
	}

	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		switch st.Code() {
		case codes.ResourceExhausted:
			return fmt.Errorf("%w: %s: %s", ErrQuotaExceeded, provider, st.Message())
		case codes.NotFound:
			return fmt.Errorf("%w: %s: %s", ErrInvalidModel, provider, st.Message())
		case codes.InvalidArgument:
			return fmt.Errorf("%w: %s: %s", ErrInvalidInput, provider, st.Message())
		case codes.Unavailable:
			return fmt.Errorf("%w: %s: %s", ErrUnavailable, provider, st.Message())
		case codes.DeadlineExceeded:
			return fmt.Errorf("%w: %s: %s", ErrTimeout, provider, st.Message())
		default:
			return Backend(provider, st.Message())
		}
	}
	return FromTransport(provider, err)
}
