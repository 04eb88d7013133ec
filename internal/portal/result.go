package portal

// Status classifies the outcome of a login attempt.
type Status int

const (
	// StatusSuccess means the portal accepted the credentials; Cookies holds
	// the authenticated session.
	StatusSuccess Status = iota

	// StatusCaptcha means the portal demands an interactive captcha before it
	// will consider the credentials. CaptchaImageURL points at the challenge.
	StatusCaptcha

	// StatusInvalidCredentials means the portal definitively rejected the
	// login/password pair.
	StatusInvalidCredentials

	// StatusTransient means the attempt failed for reasons presumed
	// retryable (network error, timeout, server-side failure). Cause holds
	// the underlying error.
	StatusTransient
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusCaptcha:
		return "captcha"
	case StatusInvalidCredentials:
		return "invalid_credentials"
	case StatusTransient:
		return "transient"
	default:
		return "unknown"
	}
}

// Result is the classified outcome of one login handshake. Exactly one
// variant applies: Cookies is only meaningful with StatusSuccess,
// CaptchaImageURL only with StatusCaptcha, Cause only with StatusTransient.
type Result struct {
	Status          Status
	Cookies         map[string]string
	CaptchaImageURL string
	Cause           error
}
