package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWalletErrors(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		code  string
	}{
		{"configuration", ConfigurationError("hdwallet.master_seed", "empty"), IsConfiguration, CodeConfiguration},
		{"chain unavailable", ChainUnavailableError("polygon", "USDT", errors.New("timeout")), IsChainUnavailable, CodeChainUnavailable},
		{"insufficient amount", InsufficientAmountError("0.50", "1"), IsInsufficientAmount, CodeInsufficientAmount},
		{"ledger", LedgerError("add_funds", errors.New("db down")), IsLedger, CodeLedger},
		{"transfer", TransferError("bsc", "BNB", errors.New("nonce too low")), IsTransfer, CodeTransfer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, tt.check(wrapped))
			assert.Equal(t, tt.code, GetErrorCode(wrapped))
			assert.False(t, IsNotFound(wrapped))
		})
	}
}

func TestChainUnavailableIsRetryable(t *testing.T) {
	err := ChainUnavailableError("ethereum", "ETH", nil)
	assert.True(t, err.IsRetryable())
	assert.Equal(t, "ethereum ETH balance unavailable", err.Error())
}

func TestLedgerErrorRetryableWhenServiceUnavailable(t *testing.T) {
	cause := &DomainError{Err: ErrServiceUnavailable, Code: "SERVICE_UNAVAILABLE"}
	assert.True(t, LedgerError("add_funds", cause).IsRetryable())
	assert.False(t, LedgerError("add_funds", errors.New("constraint")).IsRetryable())
}

func TestWithDetailsMerges(t *testing.T) {
	err := ConfigurationError("hdwallet.hot_wallet_address", "not a hex address").
		WithDetails(map[string]interface{}{"value": "0x12"})
	details := GetErrorDetails(err)
	assert.Equal(t, "hdwallet.hot_wallet_address", details["setting"])
	assert.Equal(t, "0x12", details["value"])
}
