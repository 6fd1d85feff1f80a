package agent

import "sync"

// CheckpointStore retains the final pipeline state of a chat's last
// invocation, keyed exclusively by chat id. Implementations must keep
// states for different chat ids fully isolated under concurrent access.
type CheckpointStore interface {
	Load(chatID int64) (PipelineState, bool)
	Save(state PipelineState)
}

// MemoryCheckpoints is the default in-process CheckpointStore. State does
// not survive a restart; conversations rebuild their context from the
// persisted log on the next turn.
type MemoryCheckpoints struct {
	mu     sync.RWMutex
	states map[int64]PipelineState
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{states: make(map[int64]PipelineState)}
}

func (m *MemoryCheckpoints) Load(chatID int64) (PipelineState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[chatID]
	if !ok {
		return PipelineState{}, false
	}
	return st.clone(), true
}

func (m *MemoryCheckpoints) Save(state PipelineState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[state.ChatID] = state.clone()
}
