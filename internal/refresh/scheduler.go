// Package refresh keeps stored portal sessions warm: at fixed hours of the
// day it re-runs the login handshake for every linked account and saves the
// fresh cookies.
package refresh

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/shohruhuz/uzbot/internal/accounts"
	"github.com/shohruhuz/uzbot/internal/logging"
	"github.com/shohruhuz/uzbot/internal/portal"
)

// Stats summarizes one sweep over all stored accounts.
type Stats struct {
	Total     int
	Refreshed int
	Skipped   int
	Failed    int
}

// Scheduler re-authenticates stored accounts on a fixed daily timetable.
// Accounts are processed independently on a bounded worker pool; one
// account's failure never touches another's stored session.
type Scheduler struct {
	store   *accounts.Service
	auth    portal.AuthClient
	logger  logging.Logger
	hours   []int
	workers int

	// Injection points for tests.
	now       func() time.Time
	retryBase time.Duration
}

func NewScheduler(store *accounts.Service, auth portal.AuthClient, logger logging.Logger, hours []int, workerCount int) *Scheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	h := make([]int, len(hours))
	copy(h, hours)
	sort.Ints(h)
	return &Scheduler{
		store:     store,
		auth:      auth,
		logger:    logger.With("module", "refresh"),
		hours:     h,
		workers:   workerCount,
		now:       time.Now,
		retryBase: 2 * time.Second,
	}
}

// Run fires a sweep at each configured hour until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.hours) == 0 {
		s.logger.Warn(ctx, "no refresh hours configured, scheduler idle")
		<-ctx.Done()
		return ctx.Err()
	}

	for {
		next := nextFire(s.now(), s.hours)
		s.logger.Info(ctx, "next session refresh scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		stats := s.Sweep(ctx)
		s.logger.Info(ctx, "session refresh sweep finished",
			"total", stats.Total, "refreshed", stats.Refreshed,
			"skipped", stats.Skipped, "failed", stats.Failed)
	}
}

// nextFire returns the earliest moment strictly after t whose hour is one of
// the configured hours, at minute zero. hours must be sorted.
func nextFire(t time.Time, hours []int) time.Time {
	for _, h := range hours {
		candidate := time.Date(t.Year(), t.Month(), t.Day(), h, 0, 0, 0, t.Location())
		if candidate.After(t) {
			return candidate
		}
	}
	tomorrow := t.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), hours[0], 0, 0, 0, t.Location())
}

// Sweep re-authenticates every stored account once, with at most s.workers
// handshakes in flight.
func (s *Scheduler) Sweep(ctx context.Context) Stats {
	all, err := s.store.AllAccounts(ctx)
	if err != nil {
		s.logger.Error(ctx, "listing accounts for refresh failed", "error", err)
		return Stats{}
	}

	stats := Stats{Total: len(all)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, s.workers)

	for _, acc := range all {
		wg.Add(1)
		go func(acc *accounts.Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			outcome := s.refreshAccount(ctx, acc)
			mu.Lock()
			switch outcome {
			case outcomeRefreshed:
				stats.Refreshed++
			case outcomeSkipped:
				stats.Skipped++
			case outcomeFailed:
				stats.Failed++
			}
			mu.Unlock()
		}(acc)
	}
	wg.Wait()
	return stats
}

type outcome int

const (
	outcomeRefreshed outcome = iota
	outcomeSkipped
	outcomeFailed
)

func (s *Scheduler) refreshAccount(ctx context.Context, acc *accounts.Account) outcome {
	password, err := s.store.DecryptSecret(acc)
	if err != nil {
		s.logger.Warn(ctx, "skipping account, stored secret unreadable",
			"user_id", acc.UserID, "login", acc.Login, "error", err)
		return outcomeSkipped
	}

	var res *portal.Result
	backoff := retry.WithMaxRetries(2, retry.NewExponential(s.retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		res = s.auth.AttemptLogin(ctx, acc.Login, password, "")
		if res.Status == portal.StatusTransient {
			return retry.RetryableError(fmt.Errorf("portal unreachable: %w", res.Cause))
		}
		return nil
	})
	if err != nil {
		s.logger.Warn(ctx, "session refresh gave up",
			"user_id", acc.UserID, "login", acc.Login, "error", err)
		return outcomeFailed
	}

	switch res.Status {
	case portal.StatusSuccess:
		if _, err := s.store.UpdateCookies(ctx, acc, res.Cookies); err != nil {
			s.logger.Error(ctx, "saving refreshed cookies failed",
				"user_id", acc.UserID, "login", acc.Login, "error", err)
			return outcomeFailed
		}
		s.logger.Info(ctx, "session refreshed", "user_id", acc.UserID, "login", acc.Login)
		return outcomeRefreshed
	case portal.StatusCaptcha:
		// Unattended refresh cannot answer a captcha; the user will be asked
		// to log in again next time they interact.
		s.logger.Warn(ctx, "refresh blocked by captcha", "user_id", acc.UserID, "login", acc.Login)
		return outcomeSkipped
	case portal.StatusInvalidCredentials:
		s.logger.Warn(ctx, "stored credentials rejected during refresh",
			"user_id", acc.UserID, "login", acc.Login)
		return outcomeFailed
	default:
		return outcomeFailed
	}
}
