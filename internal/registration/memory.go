package registration

import (
	"context"
	"sort"
	"sync"
	"time"

	"pio7/internal/account"
)

// MemoryRepository keeps codes in process memory and creates accounts in users.
type MemoryRepository struct {
	mu    sync.Mutex
	codes map[string]Code
	// uses maps user id to the code id it registered with.
	uses  map[string]string
	users account.Repository
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty repo.
func NewMemoryRepository(users account.Repository) *MemoryRepository {
	return &MemoryRepository{codes: make(map[string]Code), uses: make(map[string]string), users: users}
}

func (r *MemoryRepository) Create(ctx context.Context, c Code) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.codes {
		if existing.Code == c.Code {
			return Code{}, ErrCodeTaken
		}
	}
	c.CreatedAt = time.Now().UTC()
	r.codes[c.ID] = c
	return c, nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Code, error) {
	r.mu.Lock()
	out := make([]Code, 0, len(r.codes))
	for _, c := range r.codes {
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) SetActive(ctx context.Context, id string, active bool) (Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[id]
	if !ok {
		return Code{}, ErrCodeNotFound
	}
	c.Active = active
	r.codes[id] = c
	return c, nil
}

func (r *MemoryRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[id]; !ok {
		return ErrCodeNotFound
	}
	delete(r.codes, id)
	for user, code := range r.uses {
		if code == id {
			delete(r.uses, user)
		}
	}
	return nil
}

// Redeem holds the lock across the account insert, so two sign-ups cannot
// both take the last use.
func (r *MemoryRepository) Redeem(ctx context.Context, code string, now time.Time, u account.User) (account.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		c     Code
		found bool
	)
	for _, candidate := range r.codes {
		if candidate.Code == code {
			c, found = candidate, true
			break
		}
	}
	if !found {
		return account.User{}, ErrCodeNotFound
	}
	if err := c.CheckAt(now); err != nil {
		return account.User{}, err
	}
	created, err := r.users.Create(ctx, u)
	if err != nil {
		return account.User{}, err
	}
	c.UsedCount++
	r.codes[c.ID] = c
	r.uses[created.ID] = c.ID
	return created, nil
}

// CodeOf reports which code id a user registered with.
func (r *MemoryRepository) CodeOf(userID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.uses[userID]
	return id, ok
}
