package errors

import (
	"errors"
	"fmt"
)

// Wallet engine error sentinels
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrChainUnavailable   = errors.New("chain unavailable")
	ErrInsufficientAmount = errors.New("insufficient amount")
	ErrLedger             = errors.New("ledger error")
	ErrTransfer           = errors.New("transfer failed")
)

// Wallet engine error codes
const (
	CodeConfiguration      = "CONFIGURATION_ERROR"
	CodeChainUnavailable   = "CHAIN_UNAVAILABLE"
	CodeInsufficientAmount = "INSUFFICIENT_AMOUNT"
	CodeLedger             = "LEDGER_ERROR"
	CodeTransfer           = "TRANSFER_FAILED"
)

// ConfigurationError reports a missing or malformed setting. Startup aborts on it.
func ConfigurationError(setting, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConfiguration,
		Code:    CodeConfiguration,
		Message: fmt.Sprintf("invalid configuration %s: %s", setting, reason),
		Details: map[string]interface{}{"setting": setting},
	}
}

// ChainUnavailableError annotates a balance read that failed or timed out.
func ChainUnavailableError(chain, asset string, cause error) *DomainError {
	de := &DomainError{
		Err:       ErrChainUnavailable,
		Code:      CodeChainUnavailable,
		Message:   fmt.Sprintf("%s %s balance unavailable", chain, asset),
		Details:   map[string]interface{}{"chain": chain, "asset": asset},
		Retryable: true,
	}
	if cause != nil {
		de.Message = fmt.Sprintf("%s: %v", de.Message, cause)
		de.Details["cause"] = cause.Error()
	}
	return de
}

// InsufficientAmountError marks a balance under the sweep floor.
func InsufficientAmountError(amountUSD, minimumUSD string) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientAmount,
		Code:    CodeInsufficientAmount,
		Message: fmt.Sprintf("amount $%s below minimum $%s", amountUSD, minimumUSD),
		Details: map[string]interface{}{"amount_usd": amountUSD, "minimum_usd": minimumUSD},
	}
}

// LedgerError wraps a failure of the wallet ledger collaborator.
func LedgerError(op string, cause error) *DomainError {
	de := &DomainError{
		Err:     ErrLedger,
		Code:    CodeLedger,
		Message: fmt.Sprintf("ledger %s failed", op),
		Details: map[string]interface{}{"operation": op},
	}
	if cause != nil {
		de.Message = fmt.Sprintf("%s: %v", de.Message, cause)
		de.Details["cause"] = cause.Error()
		de.Retryable = IsServiceUnavailable(cause)
	}
	return de
}

// TransferError wraps a failed on-chain transfer.
func TransferError(chain, asset string, cause error) *DomainError {
	de := &DomainError{
		Err:     ErrTransfer,
		Code:    CodeTransfer,
		Message: fmt.Sprintf("%s %s transfer failed", chain, asset),
		Details: map[string]interface{}{"chain": chain, "asset": asset},
	}
	if cause != nil {
		de.Message = fmt.Sprintf("%s: %v", de.Message, cause)
		de.Details["cause"] = cause.Error()
	}
	return de
}

func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

func IsChainUnavailable(err error) bool {
	return errors.Is(err, ErrChainUnavailable)
}

func IsInsufficientAmount(err error) bool {
	return errors.Is(err, ErrInsufficientAmount)
}

func IsLedger(err error) bool {
	return errors.Is(err, ErrLedger)
}

func IsTransfer(err error) bool {
	return errors.Is(err, ErrTransfer)
}
