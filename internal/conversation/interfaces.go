// Package conversation keeps the bounded per-counterpart turn history the
// generation provider is prompted with.
package conversation

import "context"

// DefaultWindow is the number of turns retained per conversation.
const DefaultWindow = 10

// Role identifies who authored a turn.
type Role string

const (
	// RoleUser marks a turn written by the counterpart.
	RoleUser Role = "user"
	// RoleAssistant marks a turn written by the bot.
	RoleAssistant Role = "assistant"
)

// Turn is a single immutable entry in a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// History is the ordered turn sequence for one conversation, oldest first.
type History []Turn

// Store holds conversation histories keyed by conversation key.
//
// Implementations must be safe for concurrent use across different keys.
// Callers serialize access to any single key.
type Store interface {
	// Get returns a copy of the history for key, empty if the key is unseen.
	Get(ctx context.Context, key string) (History, error)

	// AppendAndTrim appends turn and drops the oldest turns until the history
	// fits the window. It returns a copy of the resulting history.
	AppendAndTrim(ctx context.Context, key string, turn Turn) (History, error)
}

// trim returns the trailing window turns of h.
func trim(h History, window int) History {
	if window <= 0 || len(h) <= window {
		return h
	}
	return h[len(h)-window:]
}

func clone(h History) History {
	out := make(History, len(h))
	copy(out, h)
	return out
}
