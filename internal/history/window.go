package history

import (
	"context"
	"fmt"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/session"
)

// DefaultWindow caps how many recent turns feed the pipeline. Older
// turns are hard-truncated from pipeline context but remain in the log
// for history retrieval.
const DefaultWindow = 20

// Window reconstructs the bounded, role-tagged message sequence for a
// pipeline invocation.
type Window struct {
	log      conversation.Log
	registry *session.Registry
	size     int
}

func New(log conversation.Log, registry *session.Registry, size int) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	return &Window{log: log, registry: registry, size: size}
}

// Build returns the most recent turns of the chat in ascending creation
// order, mapped to pipeline roles. system_error turns are excluded. A
// caller who does not own the chat gets conversation.ErrNotFound.
func (w *Window) Build(ctx context.Context, chatID, userID int64) ([]agent.Message, error) {
	ok, err := w.registry.VerifyOwnership(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, conversation.ErrNotFound
	}

	turns, err := w.log.Recent(ctx, chatID, w.size)
	if err != nil {
		return nil, fmt.Errorf("read history window: %w", err)
	}

	msgs := make([]agent.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case conversation.RoleUser:
			msgs = append(msgs, agent.Message{Role: agent.RoleUser, Text: t.Content})
		case conversation.RoleAssistant:
			msgs = append(msgs, agent.Message{Role: agent.RoleAssistant, Text: t.Content})
		}
		// system_error turns never reach the pipeline.
	}
	return msgs, nil
}
