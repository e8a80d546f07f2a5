package hdwallet

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestDeriver_KnownVectors(t *testing.T) {
	d, err := NewDeriver(testMnemonic)
	require.NoError(t, err)

	vectors := map[uint32]string{
		0: "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		1: "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		2: "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC",
	}

	for index, want := range vectors {
		t.Run(fmt.Sprintf("index_%d", index), func(t *testing.T) {
			got, err := d.DeriveAddress(index)
			require.NoError(t, err)
			assert.Equal(t, want, got.Address)
			assert.Equal(t, fmt.Sprintf("m/44'/60'/0'/0/%d", index), got.Path)
		})
	}
}

func TestDeriver_Deterministic(t *testing.T) {
	a, err := NewDeriver(testMnemonic)
	require.NoError(t, err)
	b, err := NewDeriver("  TEST test test test test test test test test test test junk ")
	require.NoError(t, err)

	seen := make(map[string]uint32)
	for i := uint32(0); i < 20; i++ {
		x, err := a.DeriveAddress(i)
		require.NoError(t, err)
		y, err := b.DeriveAddress(i)
		require.NoError(t, err)
		assert.Equal(t, x.Address, y.Address)

		prev, dup := seen[x.Address]
		assert.False(t, dup, "index %d collides with %d", i, prev)
		seen[x.Address] = i
	}
}

func TestDeriver_PrivateKeyMatchesAddress(t *testing.T) {
	d, err := NewDeriver(testMnemonic)
	require.NoError(t, err)

	priv, err := d.DerivePrivateKey(1)
	require.NoError(t, err)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", crypto.PubkeyToAddress(priv.PublicKey).Hex())
}

func TestDeriver_HexSeed(t *testing.T) {
	d, err := NewDeriver("0x000102030405060708090a0b0c0d0e0f")
	require.NoError(t, err)
	a, err := d.DeriveAddress(0)
	require.NoError(t, err)
	assert.Len(t, a.Address, 42)
}

func TestNewDeriver_InvalidSeed(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"unknown mnemonic word", "test test test test test test test test test test test zzzz"},
		{"not hex", "zzzz"},
		{"too short", "00010203"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewDeriver(tt.seed)
			assert.Nil(t, d)
			assert.True(t, errors.IsConfiguration(err))
		})
	}
}

func TestDerivePrivateKey_HardenedIndexRejected(t *testing.T) {
	d, err := NewDeriver(testMnemonic)
	require.NoError(t, err)

	_, err = d.DerivePrivateKey(1 << 31)
	assert.True(t, errors.IsInvalidInput(err))
}

func TestMasterSeedRedacted(t *testing.T) {
	seed, err := ParseMasterSeed(testMnemonic)
	require.NoError(t, err)
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", seed, seed, seed, seed), "test")
}
