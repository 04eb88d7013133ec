// Package login drives the interactive login conversation: a small
// finite-state machine per user that collects a portal login, a password,
// and at most one captcha answer, runs the handshake off the interactive
// path, and persists the outcome.
package login

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/shohruhuz/uzbot/internal/accounts"
	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/logging"
	"github.com/shohruhuz/uzbot/internal/portal"
)

// State of one user's login conversation.
type State int

const (
	StateIdle State = iota
	StateAwaitingLogin
	StateAwaitingPassword
	StateAuthenticating
	StateAwaitingCaptcha
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAwaitingPassword:
		return "awaiting_password"
	case StateAuthenticating:
		return "authenticating"
	case StateAwaitingCaptcha:
		return "awaiting_captcha"
	default:
		return "unknown"
	}
}

// User-visible failure reasons. Short and actionable; internals go to logs.
const (
	reasonInvalidCredentials = "login yoki parol xato"
	reasonCaptchaFailed      = "captcha tasdiqlanmadi, boshidan urinib ko'ring"
	reasonTransient          = "portal bilan aloqa yo'q, keyinroq urinib ko'ring"
	reasonInternal           = "ichki xatolik, keyinroq urinib ko'ring"
)

// session is the transient per-user conversation state. The password lives
// here only between the password prompt and the terminal outcome, and is
// wiped on every exit path.
type session struct {
	state      State
	login      string
	password   []byte
	generation uint64
	deadline   time.Time
}

func (s *session) wipeSecret() {
	common.WipeByteArray(s.password)
	s.password = nil
}

// Orchestrator owns every in-progress login conversation. Conversations are
// held in a bounded in-memory map keyed by user id with a TTL; there is no
// durable state here. Portal calls run on a bounded worker pool so one
// stalled handshake never blocks other users' inputs, and every call carries
// the session generation so a result arriving after a reset is discarded.
type Orchestrator struct {
	auth     portal.AuthClient
	store    *accounts.Service
	notifier Notifier
	logger   logging.Logger
	ttl      time.Duration

	workers chan struct{}

	mu       sync.Mutex
	sessions map[string]*session
	gens     map[string]uint64
}

func NewOrchestrator(auth portal.AuthClient, store *accounts.Service, notifier Notifier, logger logging.Logger, ttl time.Duration, workerCount int) *Orchestrator {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Orchestrator{
		auth:     auth,
		store:    store,
		notifier: notifier,
		logger:   logger.With("module", "login"),
		ttl:      ttl,
		workers:  make(chan struct{}, workerCount),
		sessions: make(map[string]*session),
		gens:     make(map[string]uint64),
	}
}

// Begin starts (or restarts) a login conversation and prompts for the
// portal username. Any previous conversation for this user is dropped and
// its transient secret wiped.
func (o *Orchestrator) Begin(userID string) {
	o.mu.Lock()
	if prev := o.sessions[userID]; prev != nil {
		prev.wipeSecret()
	}
	o.gens[userID]++
	o.sessions[userID] = &session{
		state:      StateAwaitingLogin,
		generation: o.gens[userID],
		deadline:   time.Now().Add(o.ttl),
	}
	o.mu.Unlock()

	o.notifier.PromptLogin(userID)
}

// Reset drops the user's conversation, wiping the transient secret. It is
// idempotent and safe while a portal call is in flight: the session
// generation moves on and the stale result is discarded on arrival.
func (o *Orchestrator) Reset(userID string) {
	o.mu.Lock()
	if s, ok := o.sessions[userID]; ok {
		s.wipeSecret()
		delete(o.sessions, userID)
	}
	o.gens[userID]++
	o.mu.Unlock()
}

// StateOf reports the user's current conversation state.
func (o *Orchestrator) StateOf(userID string) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.liveSession(userID)
	if s == nil {
		return StateIdle
	}
	return s.state
}

// SubmitLogin consumes one text input as the portal username. As a
// convenience the combined "login:parol" form is accepted too and skips the
// password prompt. Empty input re-prompts without advancing.
func (o *Orchestrator) SubmitLogin(ctx context.Context, userID, text string) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	s := o.liveSession(userID)
	if s == nil {
		o.gens[userID]++
		s = &session{state: StateAwaitingLogin, generation: o.gens[userID]}
		o.sessions[userID] = s
	}
	if s.state != StateAwaitingLogin {
		state := s.state
		o.mu.Unlock()
		o.reprompt(userID, state)
		return
	}
	if text == "" {
		o.mu.Unlock()
		o.notifier.PromptLogin(userID)
		return
	}

	if loginPart, pwPart, ok := strings.Cut(text, ":"); ok && strings.TrimSpace(loginPart) != "" && pwPart != "" {
		s.login = strings.TrimSpace(loginPart)
		s.password = []byte(pwPart)
		s.state = StateAuthenticating
		s.deadline = time.Now().Add(o.ttl)
		gen := s.generation
		loginName := s.login
		password := string(s.password)
		o.mu.Unlock()
		o.authenticate(ctx, userID, gen, loginName, password, "")
		return
	}

	s.login = text
	s.state = StateAwaitingPassword
	s.deadline = time.Now().Add(o.ttl)
	o.mu.Unlock()

	o.notifier.PromptPassword(userID)
}

// SubmitPassword consumes one text input as the plaintext password and
// starts the handshake.
func (o *Orchestrator) SubmitPassword(ctx context.Context, userID, text string) {
	o.mu.Lock()
	s := o.liveSession(userID)
	if s == nil || s.state != StateAwaitingPassword {
		state := StateIdle
		if s != nil {
			state = s.state
		}
		o.mu.Unlock()
		o.reprompt(userID, state)
		return
	}
	if text == "" {
		o.mu.Unlock()
		o.notifier.PromptPassword(userID)
		return
	}

	s.password = []byte(text)
	s.state = StateAuthenticating
	s.deadline = time.Now().Add(o.ttl)
	gen := s.generation
	loginName := s.login
	o.mu.Unlock()

	o.authenticate(ctx, userID, gen, loginName, text, "")
}

// SubmitCaptcha consumes one text input as the captcha answer and retries
// the handshake with the retained credentials.
func (o *Orchestrator) SubmitCaptcha(ctx context.Context, userID, text string) {
	text = strings.TrimSpace(text)

	o.mu.Lock()
	s := o.liveSession(userID)
	if s == nil || s.state != StateAwaitingCaptcha {
		state := StateIdle
		if s != nil {
			state = s.state
		}
		o.mu.Unlock()
		o.reprompt(userID, state)
		return
	}
	if text == "" {
		o.mu.Unlock()
		o.notifier.PromptCaptcha(userID, "")
		return
	}

	s.state = StateAuthenticating
	s.deadline = time.Now().Add(o.ttl)
	gen := s.generation
	loginName := s.login
	password := string(s.password)
	o.mu.Unlock()

	o.authenticate(ctx, userID, gen, loginName, password, text)
}

// ActiveCookies hands the active account's session cookies to data-fetch
// collaborators. The second return is false when the user has no linked
// account.
func (o *Orchestrator) ActiveCookies(ctx context.Context, userID string) (map[string]string, bool) {
	cookies, err := o.store.ActiveCookies(ctx, userID)
	if err != nil {
		return nil, false
	}
	return cookies, true
}

// authenticate runs the portal handshake on the worker pool and applies the
// outcome, unless the conversation moved on while the call was in flight.
func (o *Orchestrator) authenticate(ctx context.Context, userID string, gen uint64, loginName, password, captchaAnswer string) {
	go func() {
		o.workers <- struct{}{}
		defer func() { <-o.workers }()

		res := o.auth.AttemptLogin(ctx, loginName, password, captchaAnswer)
		o.applyResult(ctx, userID, gen, loginName, password, captchaAnswer != "", res)
	}()
}

func (o *Orchestrator) applyResult(ctx context.Context, userID string, gen uint64, loginName, password string, wasRetry bool, res *portal.Result) {
	o.mu.Lock()
	s := o.sessions[userID]
	if s == nil || s.generation != gen {
		o.mu.Unlock()
		o.logger.Debug(ctx, "discarding stale auth result", "user_id", userID)
		return
	}

	switch res.Status {
	case portal.StatusSuccess:
		s.wipeSecret()
		delete(o.sessions, userID)
		o.mu.Unlock()

		if _, err := o.store.SaveAuthenticated(ctx, userID, loginName, password, res.Cookies); err != nil {
			o.logger.Error(ctx, "account save failed", "user_id", userID, "error", err)
			o.notifier.LoginFailed(userID, reasonInternal)
			o.Begin(userID)
			return
		}
		o.logger.Info(ctx, "login completed", "user_id", userID, "login", loginName)
		o.notifier.LoginSucceeded(userID, loginName)

	case portal.StatusCaptcha:
		if wasRetry {
			// One captcha retry only; a second challenge restarts the flow.
			o.failLocked(ctx, s, userID, reasonCaptchaFailed)
			return
		}
		s.state = StateAwaitingCaptcha
		s.deadline = time.Now().Add(o.ttl)
		o.mu.Unlock()
		o.notifier.PromptCaptcha(userID, res.CaptchaImageURL)

	case portal.StatusInvalidCredentials:
		o.failLocked(ctx, s, userID, reasonInvalidCredentials)

	case portal.StatusTransient:
		o.logger.Warn(ctx, "portal unreachable during login", "user_id", userID, "error", res.Cause)
		o.failLocked(ctx, s, userID, reasonTransient)
	}
}

// failLocked finishes a failed attempt: wipes the secret, returns the
// conversation to AwaitingLogin, and prompts again. Called with o.mu held;
// releases it.
func (o *Orchestrator) failLocked(ctx context.Context, s *session, userID, reason string) {
	s.wipeSecret()
	s.login = ""
	s.state = StateAwaitingLogin
	s.deadline = time.Now().Add(o.ttl)
	o.mu.Unlock()

	o.notifier.LoginFailed(userID, reason)
	o.notifier.PromptLogin(userID)
}

// reprompt nudges the user with the prompt matching their current state
// after out-of-order input.
func (o *Orchestrator) reprompt(userID string, state State) {
	switch state {
	case StateAwaitingLogin:
		o.notifier.PromptLogin(userID)
	case StateAwaitingPassword:
		o.notifier.PromptPassword(userID)
	case StateAwaitingCaptcha:
		o.notifier.PromptCaptcha(userID, "")
	default:
		// Idle or authenticating: nothing useful to prompt.
	}
}

// liveSession returns the user's session, dropping it first if expired.
// Caller holds o.mu.
func (o *Orchestrator) liveSession(userID string) *session {
	s, ok := o.sessions[userID]
	if !ok {
		return nil
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		s.wipeSecret()
		delete(o.sessions, userID)
		return nil
	}
	return s
}

// SweepExpired drops every conversation past its deadline, wiping secrets.
// Returns how many were dropped.
func (o *Orchestrator) SweepExpired() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	dropped := 0
	for userID, s := range o.sessions {
		if !s.deadline.IsZero() && now.After(s.deadline) {
			s.wipeSecret()
			delete(o.sessions, userID)
			dropped++
		}
	}
	return dropped
}

// RunJanitor sweeps expired conversations until ctx is cancelled.
func (o *Orchestrator) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := o.SweepExpired(); n > 0 {
				o.logger.Debug(ctx, "dropped expired login conversations", "count", n)
			}
		}
	}
}
