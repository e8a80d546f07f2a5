// Package crypto seals secrets at rest with AES-256-GCM under an argon2id-stretched passphrase.
//
// Sealed format, hex encoded: salt(16) || nonce(12) || ciphertext+tag. The label is bound as
// associated data, so a value sealed for one secret name does not open under another.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

var ErrMalformed = errors.New("sealed value is malformed")

func aead(passphrase string, salt []byte) (cipher.AEAD, error) {
	if passphrase == "" {
		return nil, errors.New("empty passphrase")
	}
	key := argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keySize)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext for label.
func Seal(plaintext, passphrase, label string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to create salt: %w", err)
	}
	gcm, err := aead(passphrase, salt)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to create nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, []byte(plaintext), []byte(label))
	return hex.EncodeToString(out), nil
}

// Open reverses Seal. A wrong passphrase or label fails authentication.
func Open(sealed, passphrase, label string) (string, error) {
	raw, err := hex.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(raw) < saltSize {
		return "", ErrMalformed
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := aead(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(rest) < gcm.NonceSize()+gcm.Overhead() {
		return "", ErrMalformed
	}
	nonce, ciphertext := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, []byte(label))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}
