package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresDirectory reads identities from the shared users table.
//
// Expected schema:
//
//	CREATE TABLE users (
//	    id         UUID PRIMARY KEY,
//	    username   TEXT NOT NULL UNIQUE,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE username = $1`
	return d.scanOne(ctx, q, username)
}

func (d *PostgresDirectory) FindByID(ctx context.Context, id string) (User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE id = $1`
	return d.scanOne(ctx, q, id)
}

func (d *PostgresDirectory) scanOne(ctx context.Context, q string, arg any) (User, error) {
	var u User
	err := d.db.QueryRowContext(ctx, q, arg).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("identity: query user: %w", err)
	}
	return u, nil
}
