package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type userItemKey struct{ userID, itemID string }

type visitKey struct{ userID, sessionID string }

type mark struct {
	completed   bool
	completedAt *time.Time
}

// MemoryRepository keeps checklists and visits in process memory.
type MemoryRepository struct {
	mu     sync.RWMutex
	items  map[string]Item
	marks  map[userItemKey]mark
	visits map[visitKey]Visit
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:  make(map[string]Item),
		marks:  make(map[userItemKey]mark),
		visits: make(map[visitKey]Visit),
	}
}

func (r *MemoryRepository) Items(ctx context.Context, sessionID string) ([]Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.itemsLocked(sessionID), nil
}

func (r *MemoryRepository) itemsLocked(sessionID string) []Item {
	var out []Item
	for _, it := range r.items {
		if it.SessionID == sessionID {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (r *MemoryRepository) ReplaceItems(ctx context.Context, sessionID string, items []Item) ([]Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, it := range r.items {
		if it.SessionID != sessionID {
			continue
		}
		delete(r.items, id)
		for k := range r.marks {
			if k.itemID == id {
				delete(r.marks, k)
			}
		}
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		it.SessionID = sessionID
		r.items[it.ID] = it
		out = append(out, it)
	}
	return out, nil
}

func (r *MemoryRepository) UserItems(ctx context.Context, userID, sessionID string) ([]ItemState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.itemsLocked(sessionID)
	out := make([]ItemState, 0, len(items))
	for _, it := range items {
		m := r.marks[userItemKey{userID, it.ID}]
		out = append(out, ItemState{Item: it, Completed: m.completed, CompletedAt: m.completedAt})
	}
	return out, nil
}

func (r *MemoryRepository) SaveMarks(ctx context.Context, userID string, marks []Mark, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range marks {
		k := userItemKey{userID, m.ItemID}
		prev := r.marks[k]
		next := mark{completed: m.Completed}
		if m.Completed {
			next.completedAt = prev.completedAt
			if next.completedAt == nil {
				at := now
				next.completedAt = &at
			}
		}
		r.marks[k] = next
	}
	return nil
}

func (r *MemoryRepository) CountItems(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), nil
}

func (r *MemoryRepository) CountCompleted(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k, m := range r.marks {
		if k.userID == userID && m.completed {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) RecordVisit(ctx context.Context, userID, sessionID string, seconds int, now time.Time) (Visit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := visitKey{userID, sessionID}
	v, ok := r.visits[k]
	if !ok {
		v.ViewedAt = now
	}
	v.LastAccess = now
	v.TimeSpent += seconds
	r.visits[k] = v
	return v, nil
}

func (r *MemoryRepository) CountVisits(ctx context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for k := range r.visits {
		if k.userID == userID {
			n++
		}
	}
	return n, nil
}
