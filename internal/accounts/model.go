package accounts

import "time"

// Account is one linked portal account of a bot user. A user may link several
// accounts; exactly one of them is active and serves all data-fetch calls.
//
// SecretCiphertext is the vault-encrypted portal password, base64 text.
// The plaintext never reaches the store. Cookies is the last known
// authenticated session; it may be empty if the account never completed a
// login.
type Account struct {
	ID               string
	UserID           string
	Login            string
	SecretCiphertext string
	Cookies          map[string]string
	Active           bool
	UpdatedAt        time.Time
}
