package secrets

import (
	"context"
	"fmt"

	"github.com/luris-nation/wallet_service/pkg/crypto"
)

// Manager resolves the named secrets the wallet engine needs.
type Manager struct {
	provider      Provider
	encryptionKey string
}

// NewManager creates a manager. encryptionKey is only needed for encrypted-at-rest values.
func NewManager(provider Provider, encryptionKey string) *Manager {
	return &Manager{provider: provider, encryptionKey: encryptionKey}
}

// GetMasterSeed loads the deployment master seed stored under key, decrypting it when encrypted.
func (m *Manager) GetMasterSeed(ctx context.Context, key string, encrypted bool) (string, error) {
	value, err := m.provider.GetSecret(ctx, key)
	if err != nil {
		return "", fmt.Errorf("failed to load master seed: %w", err)
	}
	if !encrypted {
		return value, nil
	}
	if m.encryptionKey == "" {
		return "", fmt.Errorf("master seed is encrypted but no encryption key is configured")
	}
	plain, err := crypto.Open(value, m.encryptionKey, key)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt master seed: %w", err)
	}
	return plain, nil
}
