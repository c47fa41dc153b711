// Package responder generates the guidance replies sent back to subscribers.
package responder

import "context"

type Turn struct {
	Role    string
	Content string
}

type Responder interface {
	// Reply produces the assistant response for a prompt, given recent
	// conversation turns oldest first.
	Reply(ctx context.Context, prompt string, history []Turn) (string, error)
}
