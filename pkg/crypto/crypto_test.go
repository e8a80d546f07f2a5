package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mnemonic = "test test test test test test test test test test test junk"

func TestSealOpen(t *testing.T) {
	sealed, err := Seal(mnemonic, "passphrase", "HDWALLET_MASTER_SEED")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "test")

	plain, err := Open(sealed, "passphrase", "HDWALLET_MASTER_SEED")
	require.NoError(t, err)
	assert.Equal(t, mnemonic, plain)

	again, err := Seal(mnemonic, "passphrase", "HDWALLET_MASTER_SEED")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "fresh salt and nonce per seal")
}

func TestOpenRejects(t *testing.T) {
	sealed, err := Seal(mnemonic, "passphrase", "HDWALLET_MASTER_SEED")
	require.NoError(t, err)

	tests := []struct {
		name       string
		sealed     string
		passphrase string
		label      string
		malformed  bool
	}{
		{"wrong passphrase", sealed, "wrong", "HDWALLET_MASTER_SEED", false},
		{"wrong label", sealed, "passphrase", "DATABASE_PASSWORD", false},
		{"not hex", "zz", "passphrase", "HDWALLET_MASTER_SEED", true},
		{"truncated", sealed[:40], "passphrase", "HDWALLET_MASTER_SEED", true},
		{"empty passphrase", sealed, "", "HDWALLET_MASTER_SEED", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.sealed, tt.passphrase, tt.label)
			require.Error(t, err)
			if tt.malformed {
				assert.ErrorIs(t, err, ErrMalformed)
			}
		})
	}
}
