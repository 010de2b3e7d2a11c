package session

import (
	"context"
	"sync"
)

// MemoryStore is the in-memory reference Store implementation, useful for
// tests and for embedding the runtime without a surrounding database. It
// guards every session's record with one store-wide mutex; a production
// deployment would shard this, but the core never needs more than the
// interface.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	messages map[string][]MessageDelta
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]MessageDelta),
	}
}

func (m *MemoryStore) LoadSession(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, &NotFoundError{SessionID: id}
	}
	clone := *s
	return &clone, nil
}

func (m *MemoryStore) SaveSession(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *s
	m.sessions[s.ID] = &clone
	return nil
}

func (m *MemoryStore) AppendMessage(_ context.Context, delta MessageDelta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[delta.SessionID] = append(m.messages[delta.SessionID], delta)
	return nil
}

func (m *MemoryStore) LoadMessages(_ context.Context, sessionID string, fromStep int) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deltas := m.messages[sessionID]
	out := make([]Message, 0, len(deltas))
	for _, d := range deltas {
		if d.Step >= fromStep {
			out = append(out, d.Message)
		}
	}
	return out, nil
}

func (m *MemoryStore) EnumerateNonTerminalSessions(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Session
	for _, s := range m.sessions {
		if !s.State.Terminal() {
			clone := *s
			out = append(out, &clone)
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
