package lease

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Lease for tests. The Now field lets tests move
// time instead of sleeping, and ForHolder derives views of the same lease
// for competing holders.
type Memory struct {
	Resource string
	Holder   string
	Now      func() time.Time

	state *memoryState
}

type memoryState struct {
	mu         sync.Mutex
	heldBy     string
	acquiredAt time.Time
}

func NewMemory(config Config) *Memory {
	return &Memory{
		Resource: config.Resource,
		Holder:   config.Holder,
		Now:      time.Now,
		state:    &memoryState{},
	}
}

// ForHolder returns a view of the same underlying lease owned by another
// contender.
func (m *Memory) ForHolder(holder string) *Memory {
	return &Memory{Resource: m.Resource, Holder: holder, Now: m.Now, state: m.state}
}

func (m *Memory) Acquire(ctx context.Context, ttl time.Duration) (*Token, error) {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	now := m.Now()
	if m.state.heldBy != "" && now.Sub(m.state.acquiredAt) <= ttl {
		return nil, ErrBusy
	}

	m.state.heldBy = m.Holder
	m.state.acquiredAt = now
	return &Token{Resource: m.Resource, Holder: m.Holder, AcquiredAt: now}, nil
}

func (m *Memory) Release(ctx context.Context, token *Token) error {
	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if m.state.heldBy == token.Holder {
		m.state.heldBy = ""
	}
	return nil
}
