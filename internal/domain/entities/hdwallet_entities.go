package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BIP-44 derivation path pieces for EVM deposit addresses
const (
	BIP44Purpose      uint32 = 44
	BIP44CoinTypeEVM  uint32 = 60
	BIP44Account      uint32 = 0
	BIP44ExternalPath uint32 = 0
)

// DerivationPath returns m/44'/60'/0'/0/{index}.
func DerivationPath(index uint32) string {
	return fmt.Sprintf("m/%d'/%d'/%d'/%d/%d", BIP44Purpose, BIP44CoinTypeEVM, BIP44Account, BIP44ExternalPath, index)
}

// DerivationRecord binds a user to the HD index of their deposit address. Records are never deleted.
type DerivationRecord struct {
	UserID    uuid.UUID `json:"userId" db:"user_id"`
	Index     uint32    `json:"index" db:"derivation_index"`
	Path      string    `json:"path" db:"derivation_path"`
	Address   string    `json:"address" db:"address"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// DerivedAddress is the result of deriving one child key.
type DerivedAddress struct {
	Index   uint32 `json:"index"`
	Path    string `json:"path"`
	Address string `json:"address"`
}

// User is the slice of the application user the wallet engine needs.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
