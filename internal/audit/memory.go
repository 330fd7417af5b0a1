package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps entries in process memory.
type MemoryRepository struct {
	mu      sync.Mutex
	entries []Entry
	// Fail, when set, is returned by Insert.
	Fail error
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (r *MemoryRepository) Insert(ctx context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	for _, prev := range r.entries {
		if prev.ID == e.ID {
			return nil
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit int) ([]Entry, error) {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for i := len(r.entries) - 1; i >= 0; i-- {
		out = append(out, r.entries[i])
	}
	r.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := ClampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}
