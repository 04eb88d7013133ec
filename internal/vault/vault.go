// Package vault encrypts and decrypts credential secrets with a single
// process-wide AES-256-GCM key.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/config"
	"github.com/shohruhuz/uzbot/internal/logging"
)

const (
	keySize   = 32
	nonceSize = 12
)

// Vault holds the process encryption key for its whole lifetime.
// All methods are safe for concurrent use.
type Vault struct {
	aead cipher.AEAD
}

// New constructs a Vault from a raw 32-byte key.
func New(key []byte) (*Vault, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("vault: key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead}, nil
}

// DeriveKey stretches a passphrase and salt into a 32-byte key using argon2id.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, keySize)
}

// NewFromConfig resolves the encryption key in order of preference:
// an explicit base64 key, a passphrase+salt pair (argon2id-derived), or a
// freshly generated ephemeral key. With an ephemeral key every secret
// encrypted in this process becomes undecryptable after restart; that risk is
// logged loudly rather than hidden, and affected accounts simply require
// re-authentication.
func NewFromConfig(cfg *config.Config, log logging.Logger) (*Vault, error) {
	switch {
	case cfg.EncryptionKey != "":
		key, err := base64.StdEncoding.DecodeString(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("vault: invalid base64 encryption key: %w", err)
		}
		return New(key)
	case cfg.EncryptionPassphrase != "":
		if cfg.EncryptionSalt == "" {
			return nil, errors.New("vault: encryption_salt is required with encryption_passphrase")
		}
		return New(DeriveKey([]byte(cfg.EncryptionPassphrase), []byte(cfg.EncryptionSalt)))
	default:
		log.Warn(context.Background(), "no encryption key configured, using an ephemeral key; stored secrets will not survive a restart")
		return New(common.GenerateRandByteArray(keySize))
	}
}

// Encrypt seals the plaintext with a fresh random nonce and returns
// base64(nonce || ciphertext).
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Malformed input, a tampered ciphertext, or a key
// change since encryption all yield common.ErrDecryption; callers must treat
// that as "credential unusable, re-authentication required", never as fatal.
func (v *Vault) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	if len(raw) < nonceSize {
		return "", fmt.Errorf("%w: ciphertext too short", common.ErrDecryption)
	}
	plaintext, err := v.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrDecryption, err)
	}
	return string(plaintext), nil
}
