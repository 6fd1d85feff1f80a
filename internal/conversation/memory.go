package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryLog is an in-memory Log used in tests and single-process
// development runs. Chat ids come from an atomic counter so allocation
// stays collision-free under concurrent callers.
type MemoryLog struct {
	mu         sync.Mutex
	turns      []Turn
	nextTurnID int64
	nextChatID int64
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) NextChatID(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextChatID++
	return m.nextChatID, nil
}

func (m *MemoryLog) Append(ctx context.Context, t *Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTurnID++
	t.ID = m.nextTurnID
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.turns = append(m.turns, *t)
	// Keep the allocator ahead of externally chosen chat ids so a
	// resumed chat never collides with a future allocation.
	if t.ChatID > m.nextChatID {
		m.nextChatID = t.ChatID
	}
	return nil
}

func (m *MemoryLog) First(ctx context.Context, chatID int64) (*Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.turns {
		if m.turns[i].ChatID == chatID {
			t := m.turns[i]
			return &t, nil
		}
	}
	return nil, nil
}

func (m *MemoryLog) Recent(ctx context.Context, chatID int64, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.chatTurns(chatID)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

func (m *MemoryLog) List(ctx context.Context, chatID int64, limit int) ([]Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.chatTurns(chatID)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *MemoryLog) Sessions(ctx context.Context, userID int64) ([]SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type agg struct {
		first      *Turn
		lastUpdate time.Time
	}
	byChat := make(map[int64]*agg)
	var order []int64
	for i := range m.turns {
		t := &m.turns[i]
		if t.UserID != userID {
			continue
		}
		a, ok := byChat[t.ChatID]
		if !ok {
			a = &agg{first: t, lastUpdate: t.CreatedAt}
			byChat[t.ChatID] = a
			order = append(order, t.ChatID)
			continue
		}
		if t.CreatedAt.After(a.lastUpdate) {
			a.lastUpdate = t.CreatedAt
		}
	}

	out := make([]SessionSummary, 0, len(order))
	for _, id := range order {
		a := byChat[id]
		out = append(out, SessionSummary{
			ChatID:     id,
			LastUpdate: a.lastUpdate,
			Preview:    Preview(a.first.Content),
		})
	}
	// Most recently active first.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].LastUpdate.After(out[i].LastUpdate) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (m *MemoryLog) DeleteAll(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.turns[:0]
	for _, t := range m.turns {
		if t.ChatID != chatID {
			kept = append(kept, t)
		}
	}
	m.turns = kept
	return nil
}

// chatTurns returns the chat's turns in insertion order. Caller holds mu.
func (m *MemoryLog) chatTurns(chatID int64) []Turn {
	var out []Turn
	for _, t := range m.turns {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out
}
