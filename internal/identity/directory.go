package identity

import (
	"context"
	"errors"
	"time"
)

// User is the minimal identity record the relay needs. Credential storage and
// verification live outside this service.
type User struct {
	ID        string    `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

var ErrNotFound = errors.New("identity: user not found")

// Directory resolves user identities. The relay only ever looks users up; it
// never creates or mutates them.
type Directory interface {
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
}
