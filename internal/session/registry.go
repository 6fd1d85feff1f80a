package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parleyhq/parley/internal/conversation"
)

// Registry owns chat-id allocation and first-writer-wins ownership.
// Allocation delegates to the log's atomic sequence; ownership is fixed
// by the author of a chat's first turn and never transfers.
type Registry struct {
	log    conversation.Log
	logger *slog.Logger

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(log conversation.Log, logger *slog.Logger) *Registry {
	return &Registry{
		log:    log,
		logger: logger,
		locks:  make(map[int64]*sync.Mutex),
	}
}

// AllocateChatID returns a chat id strictly greater than every
// previously allocated id, system-wide.
func (r *Registry) AllocateChatID(ctx context.Context) (int64, error) {
	id, err := r.log.NextChatID(ctx)
	if err != nil {
		return 0, fmt.Errorf("allocate chat id: %w", err)
	}
	r.logger.Info("chat id allocated", "chat_id", id)
	return id, nil
}

// VerifyOwnership reports whether userID may access chatID. A chat with
// no turns yet belongs to nobody, so access is allowed; once the first
// turn exists only its author passes.
func (r *Registry) VerifyOwnership(ctx context.Context, chatID, userID int64) (bool, error) {
	first, err := r.log.First(ctx, chatID)
	if err != nil {
		return false, fmt.Errorf("verify ownership: %w", err)
	}
	if first == nil {
		return true, nil
	}
	return first.UserID == userID, nil
}

// DeleteConversation removes every turn of a chat after an ownership
// check. A non-owner gets conversation.ErrNotFound, never a forbidden.
func (r *Registry) DeleteConversation(ctx context.Context, chatID, userID int64) error {
	ok, err := r.VerifyOwnership(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return conversation.ErrNotFound
	}
	if err := r.log.DeleteAll(ctx, chatID); err != nil {
		return fmt.Errorf("delete chat %d: %w", chatID, err)
	}
	r.logger.Info("chat deleted", "chat_id", chatID, "user_id", userID)
	return nil
}

// LockConversation serializes pipeline invocation and log appends for
// one chat id across all connections joined to it. It returns the
// unlock function.
func (r *Registry) LockConversation(chatID int64) func() {
	r.mu.Lock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[chatID] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
