package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery is how many Takes pass between removals of expired windows.
const sweepEvery = 1024

type memoryWindow struct {
	count   int
	resetAt time.Time
}

// MemoryStore keeps counters in process memory. Its state lives and dies with
// the process, so it only enforces a global limit for single-instance
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	takes   int
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error) {
	if err := ctx.Err(); err != nil {
		return Window{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.takes++
	if s.takes%sweepEvery == 0 {
		s.sweep(now)
	}

	w, ok := s.windows[key]
	if !ok || now.After(w.resetAt) {
		w = &memoryWindow{count: 1, resetAt: now.Add(window)}
		s.windows[key] = w
		return Window{Count: 1, ResetAt: w.resetAt}, limit >= 1, nil
	}
	if w.count >= limit {
		return Window{Count: w.count, ResetAt: w.resetAt}, false, nil
	}
	w.count++
	return Window{Count: w.count, ResetAt: w.resetAt}, true, nil
}

// Len is the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

func (s *MemoryStore) sweep(now time.Time) {
	for k, w := range s.windows {
		if now.After(w.resetAt) {
			delete(s.windows, k)
		}
	}
}
