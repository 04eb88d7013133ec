package accounts

import (
	"context"
	"fmt"
	"sync"

	"github.com/shohruhuz/uzbot/internal/logging"
	"github.com/shohruhuz/uzbot/internal/vault"
)

// Service wraps a Repository with credential encryption and per-user
// serialization. The orchestrator and the refresh scheduler both go through
// it; neither touches the repository directly.
//
// Operations for the same user run one at a time so a concurrent upsert and
// account switch cannot race the active-account invariant. Different users
// proceed independently.
type Service struct {
	repo   Repository
	vault  *vault.Vault
	logger logging.Logger

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

func NewService(repo Repository, v *vault.Vault, logger logging.Logger) *Service {
	return &Service{
		repo:      repo,
		vault:     v,
		logger:    logger.With("module", "accounts"),
		userLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockUser(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// SaveAuthenticated persists the outcome of a successful login: the password
// is encrypted and stored together with the fresh session cookies. A new
// login becomes the user's active account.
func (s *Service) SaveAuthenticated(ctx context.Context, userID, login, password string, cookies map[string]string) (*Account, error) {
	ciphertext, err := s.vault.Encrypt(password)
	if err != nil {
		return nil, fmt.Errorf("secret encryption error: %w", err)
	}

	l := s.lockUser(userID)
	l.Lock()
	defer l.Unlock()

	return s.repo.Upsert(ctx, userID, login, ciphertext, cookies)
}

// UpdateCookies replaces an account's stored session cookies after a
// scheduled refresh, keeping the existing encrypted secret.
func (s *Service) UpdateCookies(ctx context.Context, account *Account, cookies map[string]string) (*Account, error) {
	l := s.lockUser(account.UserID)
	l.Lock()
	defer l.Unlock()

	return s.repo.Upsert(ctx, account.UserID, account.Login, account.SecretCiphertext, cookies)
}

// ActiveAccount returns the user's single active account, or
// common.ErrNotFound when the user has none.
func (s *Service) ActiveAccount(ctx context.Context, userID string) (*Account, error) {
	return s.repo.GetActive(ctx, userID)
}

// ActiveCookies returns the active account's session cookies for data-fetch
// collaborators.
func (s *Service) ActiveCookies(ctx context.Context, userID string) (map[string]string, error) {
	a, err := s.repo.GetActive(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.Cookies, nil
}

// SwitchAccount makes the named linked account the active one.
func (s *Service) SwitchAccount(ctx context.Context, userID, login string) error {
	l := s.lockUser(userID)
	l.Lock()
	defer l.Unlock()

	if err := s.repo.SetActive(ctx, userID, login); err != nil {
		return err
	}
	s.logger.Info(ctx, "active account switched", "user_id", userID, "login", login)
	return nil
}

// Accounts lists the user's linked accounts in link order.
func (s *Service) Accounts(ctx context.Context, userID string) ([]*Account, error) {
	return s.repo.ListByUser(ctx, userID)
}

// AllAccounts returns every stored account. Only the refresh scheduler uses
// this.
func (s *Service) AllAccounts(ctx context.Context) ([]*Account, error) {
	return s.repo.All(ctx)
}

// CountUsers reports how many users have at least one linked account.
func (s *Service) CountUsers(ctx context.Context) (int64, error) {
	return s.repo.CountUsers(ctx)
}

// DecryptSecret recovers an account's plaintext portal password. A
// common.ErrDecryption here means the stored secret is unusable (the key
// changed or the row was tampered with) and the account needs interactive
// re-authentication.
func (s *Service) DecryptSecret(account *Account) (string, error) {
	return s.vault.Decrypt(account.SecretCiphertext)
}
