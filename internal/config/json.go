package config

import (
	"encoding/json"
	"os"

	"github.com/shohruhuz/uzbot/internal/flagx"
	"github.com/shohruhuz/uzbot/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. Interval fields use timex.Duration, which accepts both duration
// strings ("15s") and integer nanoseconds. After unmarshalling, the values
// are copied into the runtime Config.
type JsonConfig struct {
	DatabaseDSN          *string         `json:"database_dsn"`
	PortalLoginURL       *string         `json:"portal_login_url"`
	PortalBaseURL        *string         `json:"portal_base_url"`
	CaptchaImageURL      *string         `json:"captcha_image_url"`
	UserAgent            *string         `json:"user_agent"`
	EncryptionKey        *string         `json:"encryption_key"`
	EncryptionPassphrase *string         `json:"encryption_passphrase"`
	EncryptionSalt       *string         `json:"encryption_salt"`
	RefreshHours         *string         `json:"refresh_hours"`
	HTTPTimeout          *timex.Duration `json:"http_timeout"`
	LoginStateTTL        *timex.Duration `json:"login_state_ttl"`
	AuthWorkers          *int            `json:"auth_workers"`
	RefreshWorkers       *int            `json:"refresh_workers"`
	WarmupLogin          *bool           `json:"warmup_login"`
}

// parseJson overlays configuration values from the JSON file named by the
// -c/-config flags, when present. Unset fields keep their current values.
// A file that cannot be read or parsed panics: a half-applied config is worse
// than a refused start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.PortalLoginURL != nil {
		config.PortalLoginURL = *c.PortalLoginURL
	}
	if c.PortalBaseURL != nil {
		config.PortalBaseURL = *c.PortalBaseURL
	}
	if c.CaptchaImageURL != nil {
		config.CaptchaImageURL = *c.CaptchaImageURL
	}
	if c.UserAgent != nil {
		config.UserAgent = *c.UserAgent
	}
	if c.EncryptionKey != nil {
		config.EncryptionKey = *c.EncryptionKey
	}
	if c.EncryptionPassphrase != nil {
		config.EncryptionPassphrase = *c.EncryptionPassphrase
	}
	if c.EncryptionSalt != nil {
		config.EncryptionSalt = *c.EncryptionSalt
	}
	if c.RefreshHours != nil {
		config.RefreshHours = parseHours(*c.RefreshHours)
	}
	if c.HTTPTimeout != nil {
		config.HTTPTimeout = c.HTTPTimeout.Duration
	}
	if c.LoginStateTTL != nil {
		config.LoginStateTTL = c.LoginStateTTL.Duration
	}
	if c.AuthWorkers != nil {
		config.AuthWorkers = *c.AuthWorkers
	}
	if c.RefreshWorkers != nil {
		config.RefreshWorkers = *c.RefreshWorkers
	}
	if c.WarmupLogin != nil {
		config.WarmupLogin = *c.WarmupLogin
	}
}
