package qrcode

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps codes in process memory. A single mutex makes
// Replace atomic with respect to every reader.
type MemoryRepository struct {
	mu     sync.RWMutex
	byCode map[string]Code
	now    func() time.Time
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byCode: make(map[string]Code), now: time.Now}
}

func (r *MemoryRepository) Replace(ctx context.Context, c Code) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.byCode[c.Code]; taken {
		return Code{}, ErrCodeTaken
	}
	for k, prev := range r.byCode {
		if prev.SessionID == c.SessionID && prev.IsActive {
			prev.IsActive = false
			r.byCode[k] = prev
		}
	}
	c.IsActive = true
	c.CreatedAt = r.now().UTC()
	r.byCode[c.Code] = c
	return c, nil
}

func (r *MemoryRepository) GetByCode(ctx context.Context, code string) (Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byCode[code]
	if !ok {
		return Code{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepository) Active(ctx context.Context, sessionID string) (Code, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.byCode {
		if c.SessionID == sessionID && c.IsActive {
			return c, nil
		}
	}
	return Code{}, ErrNotFound
}

// ActiveCount counts active codes of a session.
func (r *MemoryRepository) ActiveCount(sessionID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, c := range r.byCode {
		if c.SessionID == sessionID && c.IsActive {
			n++
		}
	}
	return n
}
