package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrInvalidOutcome marks a result that could not be decoded or failed Validate.
var ErrInvalidOutcome = errors.New("invalid outcome")

// StatusError is returned when the analysis service answers with a non-200
// status. Body holds the start of the response for logging.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("analysis service returned status %d: %s", e.StatusCode, e.Body)
}

// FailureReason reduces an analysis error to a short label that is safe to
// send to external endpoints. Service URLs and response bodies never appear
// in it.
func FailureReason(err error) string {
	if err == nil {
		return ""
	}

	var statusErr *StatusError
	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.As(err, &statusErr):
		return fmt.Sprintf("analysis service returned status %d", statusErr.StatusCode)
	case errors.Is(err, ErrInvalidOutcome):
		return "invalid outcome"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	case errors.As(err, &urlErr):
		return "analysis service unreachable"
	default:
		return "analysis error"
	}
}
