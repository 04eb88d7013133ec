package vault

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/config"
	"github.com/shohruhuz/uzbot/internal/logging"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(common.GenerateRandByteArray(32))
	require.NoError(t, err)
	return v
}

func TestNew_RejectsBadKeyLength(t *testing.T) {
	_, err := New([]byte("short"))
	require.Error(t, err)

	_, err = New(common.GenerateRandByteArray(31))
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := newTestVault(t)

	secrets := []string{"", "p", "hunter2", "parol bilan bo'shliq", "пароль"}
	for _, s := range secrets {
		ct, err := v.Encrypt(s)
		require.NoError(t, err)
		require.NotEqual(t, s, ct)

		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	v := newTestVault(t)

	a, err := v.Encrypt("same secret")
	require.NoError(t, err)
	b, err := v.Encrypt("same secret")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "fresh nonce per call expected")
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	v := newTestVault(t)

	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(ct)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = v.Decrypt(tampered)
	require.True(t, errors.Is(err, common.ErrDecryption), "got %v", err)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	v := newTestVault(t)

	for _, bad := range []string{"not-base64!!", "", base64.StdEncoding.EncodeToString([]byte("tiny"))} {
		_, err := v.Decrypt(bad)
		require.True(t, errors.Is(err, common.ErrDecryption), "input %q: got %v", bad, err)
	}
}

func TestDecrypt_DifferentKey(t *testing.T) {
	v1 := newTestVault(t)
	v2 := newTestVault(t)

	ct, err := v1.Encrypt("secret")
	require.NoError(t, err)

	_, err = v2.Decrypt(ct)
	require.True(t, errors.Is(err, common.ErrDecryption), "got %v", err)
}

func TestDeriveKey_DeterministicAndSaltSensitive(t *testing.T) {
	pass := []byte("secret-passphrase")

	k1 := DeriveKey(pass, []byte("salt-1"))
	k2 := DeriveKey(pass, []byte("salt-1"))
	k3 := DeriveKey(pass, []byte("salt-2"))

	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 32)
}

func TestNewFromConfig(t *testing.T) {
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	t.Run("explicit key", func(t *testing.T) {
		cfg := &config.Config{EncryptionKey: base64.StdEncoding.EncodeToString(common.GenerateRandByteArray(32))}
		v, err := NewFromConfig(cfg, log)
		require.NoError(t, err)
		require.NotNil(t, v)
	})

	t.Run("invalid base64 key", func(t *testing.T) {
		cfg := &config.Config{EncryptionKey: "%%%"}
		_, err := NewFromConfig(cfg, log)
		require.Error(t, err)
	})

	t.Run("passphrase requires salt", func(t *testing.T) {
		cfg := &config.Config{EncryptionPassphrase: "p"}
		_, err := NewFromConfig(cfg, log)
		require.Error(t, err)
	})

	t.Run("passphrase and salt give a stable key", func(t *testing.T) {
		cfg := &config.Config{EncryptionPassphrase: "p", EncryptionSalt: "s"}
		v1, err := NewFromConfig(cfg, log)
		require.NoError(t, err)
		v2, err := NewFromConfig(cfg, log)
		require.NoError(t, err)

		ct, err := v1.Encrypt("secret")
		require.NoError(t, err)
		got, err := v2.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
	})

	t.Run("ephemeral fallback", func(t *testing.T) {
		v, err := NewFromConfig(&config.Config{}, log)
		require.NoError(t, err)
		ct, err := v.Encrypt("secret")
		require.NoError(t, err)
		got, err := v.Decrypt(ct)
		require.NoError(t, err)
		assert.Equal(t, "secret", got)
	})
}
