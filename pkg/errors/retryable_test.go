package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type flagged struct{ retry bool }

func (f flagged) Error() string     { return "flagged" }
func (f flagged) IsRetryable() bool { return f.retry }

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("rpc: %w", context.DeadlineExceeded), true},
		{"declares retryable", fmt.Errorf("wrap: %w", flagged{retry: true}), true},
		{"declares permanent", flagged{retry: false}, false},
		{"transient message", errors.New("dial tcp: connection refused"), true},
		{"plain", errors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRetry(tt.err))
		})
	}
}
