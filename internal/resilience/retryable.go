package resilience

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
// Statuses >= 500 and 429 are retryable by convention.
type StatusCoder interface {
	StatusCode() int
}

// transientMarkers are message substrings that identify transient
// infrastructure failures.
var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection refused",
	"connection reset",
	"network",
	"temporarily unavailable",
	"service unavailable",
	"broken pipe",
	"no such host",
}

// DefaultRetryable classifies an error as transient-infrastructure (retry)
// or not. Validation errors are never retried; circuit-open rejections are
// a degraded-mode signal, not a failure to retry against the same resource.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, domain.ErrValidation) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		code := sc.StatusCode()
		return code >= 500 || code == 429
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
