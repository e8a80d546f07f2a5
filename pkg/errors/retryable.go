// Package errors classifies errors for retry decisions.
package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// retryable is implemented by errors that know whether they can be retried.
type retryable interface {
	IsRetryable() bool
}

var transientMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"header not found",
}

// ShouldRetry reports whether an operation that failed with err is worth retrying.
// Cancellation is never retried; deadline expiry, network errors and errors that
// declare themselves retryable are.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
