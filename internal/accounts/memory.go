package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shohruhuz/uzbot/internal/common"
)

// MemoryRepository keeps accounts in process memory. It backs tests and the
// zero-config development mode; everything is lost on restart.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string][]*Account
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string][]*Account)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, userID, login, secretCiphertext string, cookies map[string]string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cookies == nil {
		cookies = map[string]string{}
	}

	for _, a := range r.users[userID] {
		if a.Login == login {
			a.SecretCiphertext = secretCiphertext
			a.Cookies = copyCookies(cookies)
			a.UpdatedAt = time.Now().UTC()
			return cloneAccount(a), nil
		}
	}

	for _, a := range r.users[userID] {
		a.Active = false
	}
	a := &Account{
		ID:               uuid.NewString(),
		UserID:           userID,
		Login:            login,
		SecretCiphertext: secretCiphertext,
		Cookies:          copyCookies(cookies),
		Active:           true,
		UpdatedAt:        time.Now().UTC(),
	}
	r.users[userID] = append(r.users[userID], a)
	return cloneAccount(a), nil
}

func (r *MemoryRepository) GetActive(ctx context.Context, userID string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.users[userID] {
		if a.Active {
			return cloneAccount(a), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) GetByLogin(ctx context.Context, userID, login string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, a := range r.users[userID] {
		if a.Login == login {
			return cloneAccount(a), nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *MemoryRepository) SetActive(ctx context.Context, userID, login string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var target *Account
	for _, a := range r.users[userID] {
		if a.Login == login {
			target = a
			break
		}
	}
	if target == nil {
		return common.ErrNotFound
	}
	for _, a := range r.users[userID] {
		a.Active = false
	}
	target.Active = true
	target.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]*Account, 0, len(r.users[userID]))
	for _, a := range r.users[userID] {
		accounts = append(accounts, cloneAccount(a))
	}
	return accounts, nil
}

func (r *MemoryRepository) All(ctx context.Context) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userIDs := make([]string, 0, len(r.users))
	for id := range r.users {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	var accounts []*Account
	for _, id := range userIDs {
		for _, a := range r.users[id] {
			accounts = append(accounts, cloneAccount(a))
		}
	}
	return accounts, nil
}

func (r *MemoryRepository) CountUsers(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, accounts := range r.users {
		if len(accounts) > 0 {
			n++
		}
	}
	return n, nil
}

// cloneAccount returns a deep copy so callers can never mutate a stored
// snapshot directly; all mutation goes through repository operations.
func cloneAccount(a *Account) *Account {
	clone := *a
	clone.Cookies = copyCookies(a.Cookies)
	return &clone
}

func copyCookies(cookies map[string]string) map[string]string {
	out := make(map[string]string, len(cookies))
	for k, v := range cookies {
		out[k] = v
	}
	return out
}
