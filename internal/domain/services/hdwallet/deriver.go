// Package hdwallet derives per-user EVM deposit addresses from the deployment master seed.
package hdwallet

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/luris-nation/wallet_service/internal/domain/entities"
	"github.com/luris-nation/wallet_service/internal/domain/errors"
	"github.com/tyler-smith/go-bip39"
)

const masterSeedSetting = "hdwallet.master_seed"

// MasterSeed holds the raw BIP-32 seed bytes. It never prints its contents.
type MasterSeed struct {
	raw []byte
}

func (MasterSeed) String() string   { return "MasterSeed([REDACTED])" }
func (MasterSeed) GoString() string { return "MasterSeed([REDACTED])" }

// ParseMasterSeed accepts a BIP-39 mnemonic or a hex seed of 16 to 64 bytes.
func ParseMasterSeed(value string) (MasterSeed, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return MasterSeed{}, errors.ConfigurationError(masterSeedSetting, "master seed is empty")
	}

	if strings.Contains(value, " ") {
		mnemonic := strings.Join(strings.Fields(strings.ToLower(value)), " ")
		if !bip39.IsMnemonicValid(mnemonic) {
			return MasterSeed{}, errors.ConfigurationError(masterSeedSetting, "invalid BIP-39 mnemonic")
		}
		return MasterSeed{raw: bip39.NewSeed(mnemonic, "")}, nil
	}

	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X"))
	if err != nil {
		return MasterSeed{}, errors.ConfigurationError(masterSeedSetting, "seed is neither a mnemonic nor hex")
	}
	if len(raw) < hdkeychain.MinSeedBytes || len(raw) > hdkeychain.MaxSeedBytes {
		return MasterSeed{}, errors.ConfigurationError(masterSeedSetting,
			fmt.Sprintf("seed must be %d-%d bytes, got %d", hdkeychain.MinSeedBytes, hdkeychain.MaxSeedBytes, len(raw)))
	}
	return MasterSeed{raw: raw}, nil
}

// Deriver derives children of m/44'/60'/0'/0. It is safe for concurrent use.
type Deriver struct {
	external *hdkeychain.ExtendedKey
}

// NewDeriver validates masterSeed and precomputes the external-chain key.
func NewDeriver(masterSeed string) (*Deriver, error) {
	seed, err := ParseMasterSeed(masterSeed)
	if err != nil {
		return nil, err
	}
	return NewDeriverFromSeed(seed)
}

func NewDeriverFromSeed(seed MasterSeed) (*Deriver, error) {
	if len(seed.raw) == 0 {
		return nil, errors.ConfigurationError(masterSeedSetting, "master seed is empty")
	}

	master, err := hdkeychain.NewMaster(seed.raw, &chaincfg.MainNetParams)
	if err != nil {
		return nil, errors.ConfigurationError(masterSeedSetting, err.Error())
	}

	key := master
	for _, step := range []uint32{
		hdkeychain.HardenedKeyStart + entities.BIP44Purpose,
		hdkeychain.HardenedKeyStart + entities.BIP44CoinTypeEVM,
		hdkeychain.HardenedKeyStart + entities.BIP44Account,
		entities.BIP44ExternalPath,
	} {
		key, err = key.Derive(step)
		if err != nil {
			return nil, errors.ConfigurationError(masterSeedSetting, fmt.Sprintf("derive account key: %v", err))
		}
	}

	return &Deriver{external: key}, nil
}

// DeriveAddress returns the checksummed address at m/44'/60'/0'/0/{index}.
func (d *Deriver) DeriveAddress(index uint32) (*entities.DerivedAddress, error) {
	priv, err := d.DerivePrivateKey(index)
	if err != nil {
		return nil, err
	}
	return &entities.DerivedAddress{
		Index:   index,
		Path:    entities.DerivationPath(index),
		Address: crypto.PubkeyToAddress(priv.PublicKey).Hex(),
	}, nil
}

// DerivePrivateKey returns the signing key for index. Only the sweep transfer path uses it.
func (d *Deriver) DerivePrivateKey(index uint32) (*ecdsa.PrivateKey, error) {
	if index >= hdkeychain.HardenedKeyStart {
		return nil, errors.ValidationError("index", fmt.Sprintf("index %d is outside the non-hardened range", index))
	}

	child, err := d.external.Derive(index)
	if err != nil {
		return nil, fmt.Errorf("derive child %d: %w", index, err)
	}
	ecPriv, err := child.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("child %d private key: %w", index, err)
	}

	priv, err := crypto.ToECDSA(ecPriv.Serialize())
	if err != nil {
		return nil, fmt.Errorf("child %d ecdsa key: %w", index, err)
	}
	return priv, nil
}
