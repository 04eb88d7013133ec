// Package config handles configuration for the uzbot process,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds runtime settings for the authentication core.
//
// Fields:
//   - DatabaseDSN: account store location. "postgres://..." selects the
//     Postgres repository, any other non-empty value is treated as a SQLite
//     file path, empty keeps accounts in memory (lost on restart).
//   - PortalLoginURL / PortalBaseURL / CaptchaImageURL: external portal
//     endpoints.
//   - UserAgent: browser identity presented to the portal. The portal rejects
//     non-browser clients, so this must look like a real browser.
//   - EncryptionKey: base64-encoded 32-byte AES key for credential secrets.
//   - EncryptionPassphrase / EncryptionSalt: alternative key source; the key
//     is derived with argon2id. Ignored when EncryptionKey is set.
//   - RefreshHours: hours of day (local time) at which stored sessions are
//     re-validated.
//   - HTTPTimeout: per-request timeout for portal calls.
//   - LoginStateTTL: how long an in-progress login conversation is retained.
//   - AuthWorkers: size of the worker pool running portal login calls.
//   - RefreshWorkers: concurrent accounts per refresh sweep.
//   - WarmupLogin: pre-fetch the login page before posting credentials to
//     seed anti-bot cookies.
type Config struct {
	DatabaseDSN          string
	PortalLoginURL       string
	PortalBaseURL        string
	CaptchaImageURL      string
	UserAgent            string
	EncryptionKey        string
	EncryptionPassphrase string
	EncryptionSalt       string
	RefreshHours         []int
	HTTPTimeout          time.Duration
	LoginStateTTL        time.Duration
	AuthWorkers          int
	RefreshWorkers       int
	WarmupLogin          bool
}

// LoadDefaults populates Config with development defaults.
// The empty DSN and encryption key are deliberate: without configuration the
// process runs with an in-memory store and an ephemeral key.
func (c *Config) LoadDefaults() {
	c.DatabaseDSN = ""
	c.PortalLoginURL = "https://login.emaktab.uz/login"
	c.PortalBaseURL = "https://api.emaktab.uz/v1"
	c.CaptchaImageURL = "https://login.emaktab.uz/captcha/image"
	c.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X)"
	c.RefreshHours = []int{12, 16}
	c.HTTPTimeout = 15 * time.Second
	c.LoginStateTTL = 10 * time.Minute
	c.AuthWorkers = 4
	c.RefreshWorkers = 2
	c.WarmupLogin = true
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}

// parseHours converts a comma-separated hour list ("12,16") into ints.
// Panics on malformed values, consistent with the rest of config loading.
func parseHours(s string) []int {
	parts := strings.Split(s, ",")
	hours := make([]int, 0, len(parts))
	for _, p := range parts {
		h, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || h < 0 || h > 23 {
			panic("invalid refresh hour: " + p)
		}
		hours = append(hours, h)
	}
	return hours
}
