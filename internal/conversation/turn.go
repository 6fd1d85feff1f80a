package conversation

import (
	"context"
	"errors"
	"time"
)

// Role classifies who authored a turn.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleSystemError Role = "system_error"
)

// ErrNotFound is returned for conversations the caller does not own.
// Ownership failures deliberately surface as not-found rather than
// forbidden so that a non-owner cannot confirm a chat id exists.
var ErrNotFound = errors.New("chat not found or access denied")

// Turn is one persisted message in a conversation. Turns are immutable
// once appended; a conversation is only ever deleted in bulk.
type Turn struct {
	ID         int64          `json:"id"`
	ChatID     int64          `json:"chat_id"`
	UserID     int64          `json:"user_id"`
	Role       Role           `json:"role"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// SessionSummary is a per-chat preview row for session listings.
type SessionSummary struct {
	ChatID     int64     `json:"chat_id"`
	LastUpdate time.Time `json:"last_update"`
	Preview    string    `json:"preview"`
}

// Log is the append-only ordered turn store. Ordering is by creation
// time with ties broken by insertion order. Implementations must be
// safe for concurrent use.
type Log interface {
	// NextChatID allocates a chat id strictly greater than every id
	// allocated before it, across all users.
	NextChatID(ctx context.Context) (int64, error)

	// Append persists a turn and fills in its ID and CreatedAt.
	Append(ctx context.Context, t *Turn) error

	// First returns the oldest turn of a chat, or nil when the chat
	// has no turns yet.
	First(ctx context.Context, chatID int64) (*Turn, error)

	// Recent returns the most recent limit turns of a chat in
	// ascending order.
	Recent(ctx context.Context, chatID int64, limit int) ([]Turn, error)

	// List returns up to limit turns of a chat from the beginning,
	// ascending.
	List(ctx context.Context, chatID int64, limit int) ([]Turn, error)

	// Sessions returns one summary per chat the user has written to,
	// most recently active first.
	Sessions(ctx context.Context, userID int64) ([]SessionSummary, error)

	// DeleteAll removes every turn of a chat. Irreversible.
	DeleteAll(ctx context.Context, chatID int64) error
}

// PreviewLen is the number of characters of the first turn used as a
// session preview.
const PreviewLen = 50

// Preview truncates first-turn content for session listings.
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= PreviewLen {
		return content
	}
	return string(runes[:PreviewLen]) + "..."
}
