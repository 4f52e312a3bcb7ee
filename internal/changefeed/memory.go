package changefeed

import (
	"context"
	"sync"
)

// Memory is an in-process feed for the demo backend and tests.
type Memory struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewMemory() *Memory {
	return &Memory{subs: make(map[string]map[chan struct{}]struct{})}
}

func (m *Memory) Publish(_ context.Context, familyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[familyID] {
		notify(ch)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, familyID string) (<-chan struct{}, func(), error) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	if m.subs[familyID] == nil {
		m.subs[familyID] = make(map[chan struct{}]struct{})
	}
	m.subs[familyID][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs[familyID], ch)
			if len(m.subs[familyID]) == 0 {
				delete(m.subs, familyID)
			}
			m.mu.Unlock()
			close(ch)
		})
	}
	return ch, closeFn, nil
}

// Subscribers returns the number of open subscriptions for familyID.
func (m *Memory) Subscribers(familyID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[familyID])
}
