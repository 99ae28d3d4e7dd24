package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo persists audit events via database/sql (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE call_audit_events (
//	    id            UUID PRIMARY KEY,
//	    type          TEXT NOT NULL,
//	    actor_user_id TEXT NOT NULL DEFAULT '',
//	    peer_user_id  TEXT NOT NULL DEFAULT '',
//	    call_id       TEXT NOT NULL DEFAULT '',
//	    message       TEXT NOT NULL DEFAULT '',
//	    created_at    TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX call_audit_events_call_id_idx ON call_audit_events (call_id);
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
		INSERT INTO call_audit_events (id, type, actor_user_id, peer_user_id, call_id, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, string(e.Type), e.ActorUserID, e.PeerUserID, e.CallID, e.Message, e.CreatedAt)
	return err
}
