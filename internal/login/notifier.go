package login

// Notifier is the orchestrator's outbound edge: asynchronous prompts and
// outcomes delivered to whatever front-end is driving the conversation
// (a chat bot, a CLI, a test recorder). Implementations must be fast or
// hand off internally; the orchestrator calls them inline.
type Notifier interface {
	PromptLogin(userID string)
	PromptPassword(userID string)
	PromptCaptcha(userID, imageURL string)
	LoginSucceeded(userID, login string)
	LoginFailed(userID, reason string)
}
