package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	holder    string
	expiresAt time.Time
}

// MemoryStore is an in-process lock store for tests and single-node
// deployments.
type MemoryStore struct {
	mu    sync.Mutex
	locks map[string]entry
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		locks: make(map[string]entry),
		now:   time.Now,
	}
}

func (s *MemoryStore) Acquire(_ context.Context, key, holder string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.locks[key]; ok && s.now().Before(e.expiresAt) {
		return false, nil
	}
	s.locks[key] = entry{holder: holder, expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}
