package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/parleyhq/parley/internal/conversation"
)

func newTestRegistry() (*Registry, *conversation.MemoryLog) {
	log := conversation.NewMemoryLog()
	return New(log, slog.New(slog.NewTextHandler(io.Discard, nil))), log
}

func TestAllocateChatID_Distinct(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := reg.AllocateChatID(ctx)
			if err != nil {
				t.Errorf("allocation failed: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[int64]bool, n)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("chat id %d allocated twice", id)
		}
		seen[id] = true
	}
}

func TestVerifyOwnership_FixedByFirstWriter(t *testing.T) {
	reg, log := newTestRegistry()
	ctx := context.Background()

	// Before any turn exists, anyone may access.
	ok, err := reg.VerifyOwnership(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected access to an empty chat")
	}

	if err := log.Append(ctx, &conversation.Turn{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	ok, err = reg.VerifyOwnership(ctx, 1, 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected owner to pass")
	}

	ok, err = reg.VerifyOwnership(ctx, 1, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected non-owner to fail")
	}
}

func TestDeleteConversation_NonOwnerGetsNotFound(t *testing.T) {
	reg, log := newTestRegistry()
	ctx := context.Background()

	if err := log.Append(ctx, &conversation.Turn{ChatID: 1, UserID: 7, Role: conversation.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	err := reg.DeleteConversation(ctx, 1, 8)
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-owner, got %v", err)
	}

	// The owner's turns must still be there.
	turns, err := log.List(ctx, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("expected chat intact after refused delete, got %d turns", len(turns))
	}

	if err := reg.DeleteConversation(ctx, 1, 7); err != nil {
		t.Fatalf("owner delete failed: %v", err)
	}
	turns, _ = log.List(ctx, 1, 0)
	if len(turns) != 0 {
		t.Errorf("expected chat empty after owner delete, got %d turns", len(turns))
	}
}

func TestLockConversation_Serializes(t *testing.T) {
	reg, _ := newTestRegistry()

	var active int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := reg.LockConversation(1)
			defer unlock()
			if n := atomic.AddInt32(&active, 1); n != 1 {
				t.Errorf("expected exclusive hold of the chat lock, %d holders", n)
			}
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()
}
