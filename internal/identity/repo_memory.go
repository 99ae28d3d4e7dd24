package identity

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryDirectory is an in-memory Directory for tests and local development.
// It is not intended for production use.
type MemoryDirectory struct {
	mu     sync.RWMutex
	byID   map[string]User
	byName map[string]string // username -> id
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:   map[string]User{},
		byName: map[string]string{},
	}
}

// Add registers a user, assigning an id when none is given. Duplicate
// usernames overwrite the previous mapping; tests control their own inputs.
func (d *MemoryDirectory) Add(u User) User {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	d.byID[u.ID] = u
	d.byName[u.Username] = u.ID
	return u
}

func (d *MemoryDirectory) FindByUsername(ctx context.Context, username string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[username]
	if !ok {
		return User{}, ErrNotFound
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) FindByID(ctx context.Context, id string) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}
