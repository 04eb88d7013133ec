package config

import (
	"flag"
	"os"
	"time"

	"github.com/shohruhuz/uzbot/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   account store DSN (postgres://..., file path, or empty)
//	-l string   portal login URL
//	-b string   portal API base URL
//	-i string   captcha image URL
//	-k string   base64 encryption key
//	-r string   refresh hours, comma-separated (e.g. "12,16")
//	-t int      portal HTTP timeout, seconds
//	-s int      login conversation TTL, minutes
//	-w int      auth worker pool size
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-l", "-b", "-i", "-k", "-r", "-t", "-s", "-w"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "account store DSN")
	fs.StringVar(&config.PortalLoginURL, "l", config.PortalLoginURL, "portal login URL")
	fs.StringVar(&config.PortalBaseURL, "b", config.PortalBaseURL, "portal API base URL")
	fs.StringVar(&config.CaptchaImageURL, "i", config.CaptchaImageURL, "captcha image URL")
	fs.StringVar(&config.EncryptionKey, "k", config.EncryptionKey, "base64 encryption key")

	refreshHours := fs.String("r", "", "refresh hours, comma-separated")
	httpTimeout := fs.Int("t", int(config.HTTPTimeout.Seconds()), "portal HTTP timeout (in seconds)")
	loginStateTTL := fs.Int("s", int(config.LoginStateTTL.Minutes()), "login conversation TTL (in minutes)")
	fs.IntVar(&config.AuthWorkers, "w", config.AuthWorkers, "auth worker pool size")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	if *refreshHours != "" {
		config.RefreshHours = parseHours(*refreshHours)
	}
	config.HTTPTimeout = time.Duration(*httpTimeout) * time.Second
	config.LoginStateTTL = time.Duration(*loginStateTTL) * time.Minute
}
