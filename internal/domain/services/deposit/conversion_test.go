package deposit

import (
	"testing"

	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConverter_Units(t *testing.T) {
	c, err := NewConverter(decimal.RequireFromString("0.10"))
	require.NoError(t, err)

	tests := []struct {
		delta string
		want  int64
	}{
		{"0.19", 1},
		{"0.09", 0},
		{"0.10", 1},
		{"5.00", 50},
		{"0.30", 3},
		{"123.456789", 1234},
		{"0", 0},
		{"-1", 0},
	}

	for _, tt := range tests {
		t.Run(tt.delta, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Units(decimal.RequireFromString(tt.delta)))
		})
	}
}

func TestNewConverter_RejectsNonPositiveRate(t *testing.T) {
	_, err := NewConverter(decimal.Zero)
	assert.True(t, errors.IsConfiguration(err))
	_, err = NewConverter(decimal.NewFromInt(-1))
	assert.True(t, errors.IsConfiguration(err))
}
