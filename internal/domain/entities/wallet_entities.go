package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is the internal currency minted from deposits.
const DefaultCurrency = "LRS"

// Wallet is a user's internal-currency balance, held in whole units.
type Wallet struct {
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	Currency  string    `json:"currency" db:"currency"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// WalletTransactionType is the direction of a wallet posting
type WalletTransactionType string

const (
	WalletTransactionCredit WalletTransactionType = "credit"
	WalletTransactionDebit  WalletTransactionType = "debit"
)

// WalletTransactionStatus is the state of a wallet posting
type WalletTransactionStatus string

const (
	WalletTransactionCompleted WalletTransactionStatus = "completed"
	WalletTransactionFailed    WalletTransactionStatus = "failed"
)

// PaymentMethod values recorded on wallet postings
const (
	PaymentMethodCrypto = "crypto"
	PaymentMethodCard   = "card"
	PaymentMethodManual = "manual"
)

type WalletTransaction struct {
	ID            uuid.UUID               `json:"id" db:"id"`
	UserID        uuid.UUID               `json:"userId" db:"user_id"`
	Type          WalletTransactionType   `json:"type" db:"type"`
	Amount        int64                   `json:"amount" db:"amount"`
	Description   string                  `json:"description" db:"description"`
	PaymentMethod string                  `json:"paymentMethod" db:"payment_method"`
	Status        WalletTransactionStatus `json:"status" db:"status"`
	DedupKey      *string                 `json:"dedupKey,omitempty" db:"dedup_key"`
	Metadata      CreditMetadata          `json:"metadata" db:"metadata"`
	CreatedAt     time.Time               `json:"createdAt" db:"created_at"`
}

// CreditSource tags where a credit came from.
type CreditSource string

const (
	CreditSourceCryptoDeposit CreditSource = "crypto_deposit"
	CreditSourceSweep         CreditSource = "sweep"
	CreditSourceManual        CreditSource = "manual_credit"
	CreditSourceCardCheckout  CreditSource = "card_checkout"
)

func (s CreditSource) Validate() error {
	switch s {
	case CreditSourceCryptoDeposit, CreditSourceSweep, CreditSourceManual, CreditSourceCardCheckout:
		return nil
	default:
		return fmt.Errorf("invalid credit source: %s", s)
	}
}

// CreditMetadataVersion is bumped when CreditMetadata changes shape.
const CreditMetadataVersion = 2

// CreditMetadata is the structured, versioned context stored with every wallet posting.
type CreditMetadata struct {
	Version            int             `json:"version"`
	Source             CreditSource    `json:"source"`
	DedupKey           string          `json:"dedupKey,omitempty"`
	ObservedBalanceUSD decimal.Decimal `json:"observedBalanceUsd"`
	PreviousBalanceUSD decimal.Decimal `json:"previousBalanceUsd"`
	DeltaUSD           decimal.Decimal `json:"deltaUsd"`
	// Increases holds the per-HoldingKey quantities this credit paid for.
	Increases      map[string]decimal.Decimal `json:"increases,omitempty"`
	ConversionRate decimal.Decimal            `json:"conversionRate"`
	Chains         []string                   `json:"chains,omitempty"`
	Reference      string                     `json:"reference,omitempty"`
	ObservedAt     time.Time                  `json:"observedAt"`
}

// Value implements driver.Valuer so metadata is stored as JSONB.
func (m CreditMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *CreditMetadata) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = CreditMetadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// WalletPosting is a request to move units in or out of a wallet.
type WalletPosting struct {
	UserID        uuid.UUID
	Amount        int64
	Description   string
	PaymentMethod string
	DedupKey      string
	Metadata      CreditMetadata
}

// PostingResult is returned by the wallet ledger. Duplicate is set when DedupKey matched an
// earlier posting, in which case Transaction is that original posting and nothing moved.
type PostingResult struct {
	Wallet      *Wallet            `json:"wallet"`
	Transaction *WalletTransaction `json:"transaction"`
	Duplicate   bool               `json:"duplicate"`
}

// CreditResult is the outcome of issuing a deposit credit.
type CreditResult struct {
	Wallet      *Wallet            `json:"wallet"`
	Transaction *WalletTransaction `json:"transaction"`
	Duplicate   bool               `json:"duplicate"`
}
