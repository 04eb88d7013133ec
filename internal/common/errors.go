// Package common defines shared sentinel errors and small utility helpers
// used across uzbot components. Callers should use errors.Is to match the
// sentinel values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound = errors.New("not found")

	// Vault errors. A failed decryption means the stored secret is unusable
	// and the account must be re-authenticated interactively.
	ErrDecryption = errors.New("decryption failed")

	// Interactive flow errors.
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Portal errors.
	ErrCaptchaRequired = errors.New("captcha required")
	ErrTransient       = errors.New("transient network error")
	ErrUnauthorized    = errors.New("unauthorized")

	// Generic/internal flow control.
	ErrInternal = errors.New("internal error")
)
