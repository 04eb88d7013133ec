// Package portal implements the login handshake against the external
// institutional portal and classifies its outcome. The portal exposes no
// stable API contract, so classification is based on what the response body
// and the resulting cookie set look like.
package portal

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/shohruhuz/uzbot/internal/common"
	"github.com/shohruhuz/uzbot/internal/config"
	"github.com/shohruhuz/uzbot/internal/logging"
)

// maxBodyBytes caps how much of a portal response is read for classification.
const maxBodyBytes = 1 << 20

// AuthClient performs one login handshake. Implementations must return
// failures as data inside Result, never as panics or process faults; the
// caller decides whether and how to retry.
type AuthClient interface {
	AttemptLogin(ctx context.Context, login, password, captchaAnswer string) *Result
}

// Client is the production AuthClient. It is stateless between calls: every
// attempt gets its own cookie jar, and the durable session cookies live in
// the account store, not here.
type Client struct {
	loginURL   string
	baseURL    string
	captchaURL string
	userAgent  string
	warmup     bool
	timeout    time.Duration
	logger     logging.Logger

	// AuthCookieName is the cookie whose presence after the POST marks an
	// authenticated session.
	AuthCookieName string

	// now is injectable so tests get deterministic cache-busting URLs.
	now func() time.Time
}

func NewClient(cfg *config.Config, logger logging.Logger) *Client {
	return &Client{
		loginURL:       cfg.PortalLoginURL,
		baseURL:        cfg.PortalBaseURL,
		captchaURL:     cfg.CaptchaImageURL,
		userAgent:      cfg.UserAgent,
		warmup:         cfg.WarmupLogin,
		timeout:        cfg.HTTPTimeout,
		logger:         logger.With("module", "portal"),
		AuthCookieName: "DnevnikAuth_a",
		now:            time.Now,
	}
}

// AttemptLogin submits the credentials (plus the captcha answer, when this is
// a retry) and classifies the response:
//
//   - body mentions a captcha and no answer was supplied → StatusCaptcha
//   - the auth cookie is present in the resulting jar → StatusSuccess
//   - transport failure, timeout, or a 5xx → StatusTransient
//   - anything else → StatusInvalidCredentials
func (c *Client) AttemptLogin(ctx context.Context, login, password, captchaAnswer string) *Result {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return &Result{Status: StatusTransient, Cause: err}
	}
	httpc := &http.Client{Timeout: c.timeout, Jar: jar}

	// The portal refuses credentials posted into a cold session: a prior GET
	// of the login page seeds its anti-bot cookies.
	if c.warmup {
		if err := c.warmupSession(ctx, httpc); err != nil {
			return &Result{Status: StatusTransient, Cause: err}
		}
	}

	form := url.Values{}
	form.Set("login", login)
	form.Set("password", password)
	if captchaAnswer != "" {
		form.Set("captchaAnswer", captchaAnswer)
		form.Set("isCaptchaRequired", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return &Result{Status: StatusTransient, Cause: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.setBrowserHeaders(req)

	resp, err := httpc.Do(req)
	if err != nil {
		return &Result{Status: StatusTransient, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Result{Status: StatusTransient, Cause: err}
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return &Result{Status: StatusTransient, Cause: fmt.Errorf("portal returned %s", resp.Status)}
	}

	if captchaAnswer == "" && strings.Contains(strings.ToLower(string(body)), "captcha") {
		c.logger.Debug(ctx, "login challenged with captcha", "login", login)
		return &Result{Status: StatusCaptcha, CaptchaImageURL: c.captchaImageURL()}
	}

	cookies := c.collectCookies(jar)
	if _, ok := cookies[c.AuthCookieName]; ok {
		c.logger.Debug(ctx, "login accepted", "login", login, "cookies", len(cookies))
		return &Result{Status: StatusSuccess, Cookies: cookies}
	}

	return &Result{Status: StatusInvalidCredentials}
}

// Validate probes the portal API with stored session cookies. It returns nil
// for a live session, common.ErrUnauthorized when the session is stale, and
// common.ErrTransient (wrapped) when the portal cannot be reached.
func (c *Client) Validate(ctx context.Context, cookies map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	c.setBrowserHeaders(req)
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	httpc := &http.Client{Timeout: c.timeout}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrTransient, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return common.ErrUnauthorized
	default:
		return fmt.Errorf("%w: portal returned %s", common.ErrTransient, resp.Status)
	}
}

func (c *Client) warmupSession(ctx context.Context, httpc *http.Client) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.loginURL, nil)
	if err != nil {
		return err
	}
	c.setBrowserHeaders(req)

	resp, err := httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	return nil
}

func (c *Client) setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.loginURL)
}

// captchaImageURL returns the challenge image URL with a cache-busting
// timestamp, so a retried challenge always fetches a fresh image.
func (c *Client) captchaImageURL() string {
	sep := "?"
	if strings.Contains(c.captchaURL, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sts=%d", c.captchaURL, sep, c.now().UnixNano())
}

func (c *Client) collectCookies(jar http.CookieJar) map[string]string {
	cookies := make(map[string]string)
	for _, raw := range []string{c.loginURL, c.baseURL} {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		for _, ck := range jar.Cookies(u) {
			cookies[ck.Name] = ck.Value
		}
	}
	return cookies
}
