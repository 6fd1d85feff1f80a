package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/parleyhq/parley/internal/agent"
	"github.com/parleyhq/parley/internal/conversation"
	"github.com/parleyhq/parley/internal/session"
)

func newTestWindow(size int) (*Window, *conversation.MemoryLog) {
	log := conversation.NewMemoryLog()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := session.New(log, logger)
	return New(log, reg, size), log
}

func TestBuild_AscendingRoles(t *testing.T) {
	w, log := newTestWindow(10)
	ctx := context.Background()

	turns := []conversation.Turn{
		{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "question"},
		{ChatID: 1, UserID: 7, Role: conversation.RoleAssistant, Content: "answer"},
		{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "followup"},
	}
	for i := range turns {
		if err := log.Append(ctx, &turns[i]); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	msgs, err := w.Build(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []agent.Message{
		{Role: agent.RoleUser, Text: "question"},
		{Role: agent.RoleAssistant, Text: "answer"},
		{Role: agent.RoleUser, Text: "followup"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i := range want {
		if msgs[i] != want[i] {
			t.Errorf("message %d: expected %+v, got %+v", i, want[i], msgs[i])
		}
	}
}

func TestBuild_ExcludesErrorTurns(t *testing.T) {
	w, log := newTestWindow(10)
	ctx := context.Background()

	turns := []conversation.Turn{
		{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "question"},
		{ChatID: 1, UserID: 7, Role: conversation.RoleSystemError, Content: "I encountered an error: boom"},
		{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "retry"},
	}
	for i := range turns {
		if err := log.Append(ctx, &turns[i]); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	msgs, err := w.Build(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected error turn excluded, got %d messages", len(msgs))
	}
	for _, m := range msgs {
		if m.Role != agent.RoleUser {
			t.Errorf("unexpected role %q in window", m.Role)
		}
	}
}

func TestBuild_Truncation(t *testing.T) {
	w, log := newTestWindow(4)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		turn := conversation.Turn{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: fmt.Sprintf("m%d", i)}
		if err := log.Append(ctx, &turn); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	msgs, err := w.Build(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	if msgs[0].Text != "m6" || msgs[3].Text != "m9" {
		t.Errorf("expected the most recent turns, got first %q last %q", msgs[0].Text, msgs[3].Text)
	}
}

func TestBuild_NonOwnerGetsNotFound(t *testing.T) {
	w, log := newTestWindow(10)
	ctx := context.Background()

	if err := log.Append(ctx, &conversation.Turn{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	_, err := w.Build(ctx, 1, 8)
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}
}

func TestNew_DefaultSize(t *testing.T) {
	w, _ := newTestWindow(0)
	if w.size != DefaultWindow {
		t.Errorf("expected default window %d, got %d", DefaultWindow, w.size)
	}
}
