package login

import (
	"context"

	"github.com/shohruhuz/uzbot/internal/logging"
)

// LogNotifier writes prompts and outcomes to the structured log. It is the
// default sink when no interactive front-end is attached, and keeps the
// daemon observable while one is being wired up.
type LogNotifier struct {
	logger logging.Logger
}

func NewLogNotifier(logger logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notifier")}
}

func (n *LogNotifier) PromptLogin(userID string) {
	n.logger.Info(context.Background(), "prompting for login", "user_id", userID)
}

func (n *LogNotifier) PromptPassword(userID string) {
	n.logger.Info(context.Background(), "prompting for password", "user_id", userID)
}

func (n *LogNotifier) PromptCaptcha(userID, imageURL string) {
	n.logger.Info(context.Background(), "prompting for captcha", "user_id", userID, "image_url", imageURL)
}

func (n *LogNotifier) LoginSucceeded(userID, login string) {
	n.logger.Info(context.Background(), "login succeeded", "user_id", userID, "login", login)
}

func (n *LogNotifier) LoginFailed(userID, reason string) {
	n.logger.Warn(context.Background(), "login failed", "user_id", userID, "reason", reason)
}
