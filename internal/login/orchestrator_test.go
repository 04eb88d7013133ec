package login

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohruhuz/uzbot/internal/accounts"
	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/logging"
	"github.com/shohruhuz/uzbot/internal/portal"
	"github.com/shohruhuz/uzbot/internal/vault"
)

type authCall struct {
	login, password, captcha string
}

// scriptedAuth replays a fixed sequence of results and records every call.
// An optional gate blocks AttemptLogin until released, to exercise in-flight
// resets.
type scriptedAuth struct {
	mu      sync.Mutex
	results []*portal.Result
	calls   []authCall
	gate    chan struct{}
}

func (a *scriptedAuth) AttemptLogin(_ context.Context, login, password, captchaAnswer string) *portal.Result {
	if a.gate != nil {
		<-a.gate
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, authCall{login: login, password: password, captcha: captchaAnswer})
	if len(a.results) == 0 {
		return &portal.Result{Status: portal.StatusTransient}
	}
	r := a.results[0]
	a.results = a.results[1:]
	return r
}

func (a *scriptedAuth) callLog() []authCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]authCall, len(a.calls))
	copy(out, a.calls)
	return out
}

type event struct {
	kind   string
	userID string
	detail string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []event
	ch     chan event
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{ch: make(chan event, 64)}
}

func (n *recordingNotifier) record(kind, userID, detail string) {
	n.mu.Lock()
	n.events = append(n.events, event{kind: kind, userID: userID, detail: detail})
	n.mu.Unlock()
	n.ch <- event{kind: kind, userID: userID, detail: detail}
}

func (n *recordingNotifier) PromptLogin(userID string)    { n.record("prompt_login", userID, "") }
func (n *recordingNotifier) PromptPassword(userID string) { n.record("prompt_password", userID, "") }
func (n *recordingNotifier) PromptCaptcha(userID, imageURL string) {
	n.record("prompt_captcha", userID, imageURL)
}
func (n *recordingNotifier) LoginSucceeded(userID, login string) { n.record("succeeded", userID, login) }
func (n *recordingNotifier) LoginFailed(userID, reason string)   { n.record("failed", userID, reason) }

// waitFor blocks until an event of the given kind arrives, failing the test
// after a timeout. Intermediate events are returned in order on demand via
// the recorder's events slice.
func (n *recordingNotifier) waitFor(t *testing.T, kind string) event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-n.ch:
			if e.kind == kind {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.kind)
	}
	return out
}

func newTestOrchestrator(t *testing.T, auth portal.AuthClient) (*Orchestrator, *accounts.Service, *recordingNotifier) {
	t.Helper()
	key := make([]byte, 32)
	v, err := vault.New(key)
	require.NoError(t, err)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	store := accounts.NewService(accounts.NewMemoryRepository(), v, log)
	notifier := newRecordingNotifier()
	o := NewOrchestrator(auth, store, notifier, log, time.Minute, 2)
	return o, store, notifier
}

func TestOrchestrator_HappyPath(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "tok"}},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))

	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	assert.Equal(t, StateAwaitingPassword, o.StateOf("u1"))

	o.SubmitPassword(ctx, "u1", "parol123")
	e := notifier.waitFor(t, "succeeded")
	assert.Equal(t, "student01", e.detail)
	assert.Equal(t, StateIdle, o.StateOf("u1"))

	acc, err := store.ActiveAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "student01", acc.Login)
	assert.Equal(t, "tok", acc.Cookies["DnevnikAuth_a"])

	secret, err := store.DecryptSecret(acc)
	require.NoError(t, err)
	assert.Equal(t, "parol123", secret)

	calls := auth.callLog()
	require.Len(t, calls, 1)
	assert.Equal(t, authCall{login: "student01", password: "parol123"}, calls[0])
}

func TestOrchestrator_CombinedLoginPassword(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "tok"}},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")

	o.SubmitLogin(ctx, "u1", "student01:parol123")
	notifier.waitFor(t, "succeeded")

	acc, err := store.ActiveAccount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "student01", acc.Login)

	calls := auth.callLog()
	require.Len(t, calls, 1)
	assert.Equal(t, "parol123", calls[0].password)
	assert.NotContains(t, notifier.kinds(), "prompt_password")
}

func TestOrchestrator_CaptchaThenSuccess(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusCaptcha, CaptchaImageURL: "https://login.emaktab.uz/captcha/image?ts=1"},
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "tok"}},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	o.SubmitPassword(ctx, "u1", "parol123")

	e := notifier.waitFor(t, "prompt_captcha")
	assert.Equal(t, "https://login.emaktab.uz/captcha/image?ts=1", e.detail)
	assert.Equal(t, StateAwaitingCaptcha, o.StateOf("u1"))

	o.SubmitCaptcha(ctx, "u1", "7h3x")
	notifier.waitFor(t, "succeeded")
	assert.Equal(t, StateIdle, o.StateOf("u1"))

	calls := auth.callLog()
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[0].captcha)
	assert.Equal(t, authCall{login: "student01", password: "parol123", captcha: "7h3x"}, calls[1])

	_, err := store.ActiveAccount(ctx, "u1")
	require.NoError(t, err)
}

func TestOrchestrator_SecondCaptchaFailsAttempt(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusCaptcha, CaptchaImageURL: "img"},
		{Status: portal.StatusCaptcha, CaptchaImageURL: "img2"},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	o.SubmitPassword(ctx, "u1", "parol123")
	notifier.waitFor(t, "prompt_captcha")

	o.SubmitCaptcha(ctx, "u1", "wrong")
	e := notifier.waitFor(t, "failed")
	assert.Equal(t, reasonCaptchaFailed, e.detail)
	notifier.waitFor(t, "prompt_login")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))

	_, err := store.ActiveAccount(ctx, "u1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestOrchestrator_InvalidCredentialsRestarts(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusInvalidCredentials},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	o.SubmitPassword(ctx, "u1", "wrongpass")

	e := notifier.waitFor(t, "failed")
	assert.Equal(t, reasonInvalidCredentials, e.detail)
	notifier.waitFor(t, "prompt_login")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))

	_, err := store.ActiveAccount(ctx, "u1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestOrchestrator_TransientFailureRestarts(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusTransient, Cause: errors.New("dial tcp: connection refused")},
	}}
	o, _, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	o.SubmitPassword(ctx, "u1", "parol123")

	e := notifier.waitFor(t, "failed")
	assert.Equal(t, reasonTransient, e.detail)
}

func TestOrchestrator_ResetDiscardsInFlightResult(t *testing.T) {
	auth := &scriptedAuth{
		results: []*portal.Result{
			{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "tok"}},
		},
		gate: make(chan struct{}),
	}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")
	o.SubmitPassword(ctx, "u1", "parol123")

	// The handshake is stuck at the gate; reset moves the generation on.
	o.Reset("u1")
	assert.Equal(t, StateIdle, o.StateOf("u1"))
	close(auth.gate)

	// Give the stale result time to arrive and be dropped.
	time.Sleep(100 * time.Millisecond)
	assert.NotContains(t, notifier.kinds(), "succeeded")
	_, err := store.ActiveAccount(ctx, "u1")
	assert.True(t, errors.Is(err, common.ErrNotFound))
}

func TestOrchestrator_EmptyInputReprompts(t *testing.T) {
	auth := &scriptedAuth{}
	o, _, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")

	o.SubmitLogin(ctx, "u1", "   ")
	notifier.waitFor(t, "prompt_login")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))

	o.SubmitLogin(ctx, "u1", "student01")
	notifier.waitFor(t, "prompt_password")

	o.SubmitPassword(ctx, "u1", "")
	notifier.waitFor(t, "prompt_password")
	assert.Equal(t, StateAwaitingPassword, o.StateOf("u1"))

	assert.Empty(t, auth.callLog())
}

func TestOrchestrator_OutOfOrderInputReprompts(t *testing.T) {
	auth := &scriptedAuth{}
	o, _, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	// Password input with no conversation at all: silence.
	o.SubmitPassword(ctx, "u1", "parol123")
	assert.Empty(t, notifier.kinds())

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")

	// Captcha input while a login is expected nudges the login prompt.
	o.SubmitCaptcha(ctx, "u1", "7h3x")
	notifier.waitFor(t, "prompt_login")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))
	assert.Empty(t, auth.callLog())
}

func TestOrchestrator_UsersAreIndependent(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "a"}},
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "b"}},
	}}
	o, store, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	o.Begin("u1")
	o.Begin("u2")
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u1"))
	assert.Equal(t, StateAwaitingLogin, o.StateOf("u2"))

	o.SubmitLogin(ctx, "u1", "first:pw1")
	notifier.waitFor(t, "succeeded")
	o.SubmitLogin(ctx, "u2", "second:pw2")
	notifier.waitFor(t, "succeeded")

	a1, err := store.ActiveAccount(ctx, "u1")
	require.NoError(t, err)
	a2, err := store.ActiveAccount(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "first", a1.Login)
	assert.Equal(t, "second", a2.Login)
}

func TestOrchestrator_SweepExpired(t *testing.T) {
	auth := &scriptedAuth{}
	o, _, notifier := newTestOrchestrator(t, auth)
	o.ttl = -time.Second // everything created is already past its deadline

	o.Begin("u1")
	o.Begin("u2")
	notifier.waitFor(t, "prompt_login")

	assert.Equal(t, 2, o.SweepExpired())
	assert.Equal(t, StateIdle, o.StateOf("u1"))
	assert.Equal(t, 0, o.SweepExpired())
}

func TestOrchestrator_ActiveCookies(t *testing.T) {
	auth := &scriptedAuth{results: []*portal.Result{
		{Status: portal.StatusSuccess, Cookies: map[string]string{"DnevnikAuth_a": "tok", "sid": "s1"}},
	}}
	o, _, notifier := newTestOrchestrator(t, auth)
	ctx := context.Background()

	_, ok := o.ActiveCookies(ctx, "u1")
	assert.False(t, ok)

	o.Begin("u1")
	notifier.waitFor(t, "prompt_login")
	o.SubmitLogin(ctx, "u1", "student01:parol123")
	notifier.waitFor(t, "succeeded")

	cookies, ok := o.ActiveCookies(ctx, "u1")
	require.True(t, ok)
	assert.Equal(t, "tok", cookies["DnevnikAuth_a"])
	assert.Equal(t, "s1", cookies["sid"])
}
