package accounts

import (
	"context"
	"encoding/json"
	"fmt"
)

// Repository is the persistence contract for linked accounts.
//
// Implementations must keep the active-account invariant atomic: per user,
// at most one account is active, and exactly one whenever the user has any.
// Upsert of a new login inserts it as the active account and deactivates its
// siblings in the same transaction; upsert of an existing login replaces the
// secret and cookies in place, preserving the active flag. SetActive flips
// the flag atomically and returns common.ErrNotFound when the login is not
// linked to the user.
type Repository interface {
	Upsert(ctx context.Context, userID, login, secretCiphertext string, cookies map[string]string) (*Account, error)
	GetActive(ctx context.Context, userID string) (*Account, error)
	GetByLogin(ctx context.Context, userID, login string) (*Account, error)
	SetActive(ctx context.Context, userID, login string) error
	ListByUser(ctx context.Context, userID string) ([]*Account, error)
	All(ctx context.Context) ([]*Account, error)
	CountUsers(ctx context.Context) (int64, error)
}

// marshalCookies encodes the cookie map as the JSON object stored in the
// cookies column. A nil map becomes "{}" so the column is never NULL.
func marshalCookies(cookies map[string]string) (string, error) {
	if cookies == nil {
		cookies = map[string]string{}
	}
	b, err := json.Marshal(cookies)
	if err != nil {
		return "", fmt.Errorf("cookies marshal error: %w", err)
	}
	return string(b), nil
}

func unmarshalCookies(raw string) (map[string]string, error) {
	cookies := map[string]string{}
	if raw == "" {
		return cookies, nil
	}
	if err := json.Unmarshal([]byte(raw), &cookies); err != nil {
		return nil, fmt.Errorf("cookies unmarshal error: %w", err)
	}
	return cookies, nil
}
