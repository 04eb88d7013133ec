// Command loginctl links a portal account from the terminal: it walks the
// same login conversation the daemon runs for chat users, reading the
// password without echo, and stores the result in the configured account
// store.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/shohruhuz/uzbot/internal/app"
	"github.com/shohruhuz/uzbot/internal/config"
)

const localUserID = "loginctl"

type promptEvent struct {
	kind   string
	detail string
}

// termNotifier bridges the orchestrator's asynchronous prompts onto a
// terminal read loop.
type termNotifier struct {
	events chan promptEvent
}

func (n *termNotifier) PromptLogin(string)    { n.events <- promptEvent{kind: "login"} }
func (n *termNotifier) PromptPassword(string) { n.events <- promptEvent{kind: "password"} }
func (n *termNotifier) PromptCaptcha(_, imageURL string) {
	n.events <- promptEvent{kind: "captcha", detail: imageURL}
}
func (n *termNotifier) LoginSucceeded(_, login string) {
	n.events <- promptEvent{kind: "succeeded", detail: login}
}
func (n *termNotifier) LoginFailed(_, reason string) {
	n.events <- promptEvent{kind: "failed", detail: reason}
}

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	notifier := &termNotifier{events: make(chan promptEvent, 8)}
	a, err := app.NewApp(ctx, cfg, notifier)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer a.Close()

	orch := a.Orchestrator()
	reader := bufio.NewReader(os.Stdin)

	orch.Begin(localUserID)

	for e := range notifier.events {
		switch e.kind {
		case "login":
			fmt.Print("Portal login: ")
			text, err := reader.ReadString('\n')
			if err != nil {
				log.Fatalf("reading login: %v", err)
			}
			orch.SubmitLogin(ctx, localUserID, strings.TrimSpace(text))

		case "password":
			password, err := readPassword(reader)
			if err != nil {
				log.Fatalf("reading password: %v", err)
			}
			orch.SubmitPassword(ctx, localUserID, password)

		case "captcha":
			fmt.Printf("Captcha image: %s\n", e.detail)
			fmt.Print("Captcha answer: ")
			text, err := reader.ReadString('\n')
			if err != nil {
				log.Fatalf("reading captcha answer: %v", err)
			}
			orch.SubmitCaptcha(ctx, localUserID, strings.TrimSpace(text))

		case "succeeded":
			fmt.Printf("Account %q linked.\n", e.detail)
			return

		case "failed":
			fmt.Fprintf(os.Stderr, "Login failed: %s\n", e.detail)
			os.Exit(1)
		}
	}
}

// readPassword hides the input when stdin is a real terminal and falls back
// to a plain line read when it is piped.
func readPassword(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Print("Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	text, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(text, "\r\n"), nil
}
