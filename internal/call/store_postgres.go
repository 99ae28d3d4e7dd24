package call

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"videocall-relay/pkg/utils"

	"github.com/google/uuid"
)

// PostgresStore persists sessions in Postgres via database/sql (pgx stdlib).
//
// Per-record serialization comes from SELECT ... FOR UPDATE on the session
// row: two concurrent transitions on the same call id queue on the row lock,
// and the loser observes the terminal state and no-ops. Unrelated calls lock
// different rows and do not contend.
//
// The one-CONNECTED-per-user check cannot rely on row locks alone: two
// connects on different sessions sharing a participant lock different rows,
// and under read committed neither busy check sees the other's uncommitted
// CONNECTED row. Create and connect therefore take pg_advisory_xact_lock on
// each participant id (sorted, to avoid lock-order deadlocks) before the busy
// check, serializing all admission decisions that involve a given user.
//
// Expected schema:
//
//	CREATE TABLE video_calls (
//	    id           UUID PRIMARY KEY,
//	    caller_id    UUID NOT NULL REFERENCES users(id),
//	    receiver_id  UUID NOT NULL REFERENCES users(id),
//	    status       TEXT NOT NULL,
//	    created_at   TIMESTAMPTZ NOT NULL,
//	    connected_at TIMESTAMPTZ,
//	    ended_at     TIMESTAMPTZ,
//	    CHECK ((ended_at IS NOT NULL) = (status IN ('ENDED', 'MISSED')))
//	);
//	CREATE INDEX video_calls_caller_idx   ON video_calls (caller_id, created_at DESC);
//	CREATE INDEX video_calls_receiver_idx ON video_calls (receiver_id, created_at DESC);
//	CREATE INDEX video_calls_connected_idx ON video_calls (caller_id, receiver_id)
//	    WHERE status = 'CONNECTED';
type PostgresStore struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
	newID func() string
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now, newID: uuid.NewString}
}

const sessionColumns = `id, caller_id, receiver_id, status, created_at, connected_at, ended_at`

func (p *PostgresStore) Create(ctx context.Context, callerID, receiverID string) (Session, error) {
	if callerID == "" || receiverID == "" {
		return Session{}, ErrInvalidArgument
	}

	out := Session{
		ID:         p.newID(),
		CallerID:   callerID,
		ReceiverID: receiverID,
		Status:     StatusRinging,
		CreatedAt:  p.clock().UTC(),
	}

	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := lockParticipants(ctx, tx, callerID, receiverID); err != nil {
			return err
		}

		const busyQ = `
			SELECT id FROM video_calls
			WHERE status = 'CONNECTED'
			  AND (caller_id IN ($1, $2) OR receiver_id IN ($1, $2))
			LIMIT 1`
		var busyID string
		err := tx.QueryRowContext(ctx, busyQ, callerID, receiverID).Scan(&busyID)
		if err == nil {
			return ErrBusy
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("call: busy check: %w", err)
		}

		const insQ = `
			INSERT INTO video_calls (id, caller_id, receiver_id, status, created_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.ExecContext(ctx, insQ, out.ID, out.CallerID, out.ReceiverID, out.Status, out.CreatedAt); err != nil {
			return fmt.Errorf("call: insert: %w", err)
		}
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	return out, nil
}

func (p *PostgresStore) Get(ctx context.Context, id, requesterID string) (Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM video_calls WHERE id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, id))
	if err != nil {
		return Session{}, err
	}
	if !s.IsParticipant(requesterID) {
		return Session{}, ErrForbidden
	}
	return s, nil
}

func (p *PostgresStore) Transition(ctx context.Context, id, requesterID string, next Status) (Session, bool, error) {
	var out Session
	var outChanged bool

	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		const q = `SELECT ` + sessionColumns + ` FROM video_calls WHERE id = $1 FOR UPDATE`
		s, err := scanSession(tx.QueryRowContext(ctx, q, id))
		if err != nil {
			return err
		}
		if !s.IsParticipant(requesterID) {
			return ErrForbidden
		}

		if next == StatusConnected && s.Status == StatusRinging {
			if err := lockParticipants(ctx, tx, s.CallerID, s.ReceiverID); err != nil {
				return err
			}

			const busyQ = `
				SELECT id FROM video_calls
				WHERE status = 'CONNECTED'
				  AND id <> $1
				  AND (caller_id IN ($2, $3) OR receiver_id IN ($2, $3))
				LIMIT 1`
			var busyID string
			err := tx.QueryRowContext(ctx, busyQ, s.ID, s.CallerID, s.ReceiverID).Scan(&busyID)
			if err == nil {
				return ErrBusy
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("call: busy check: %w", err)
			}
		}

		changed, err := applyTransition(&s, next, p.clock().UTC())
		if err != nil {
			return err
		}
		if changed {
			const updQ = `
				UPDATE video_calls
				SET status = $2, connected_at = $3, ended_at = $4
				WHERE id = $1`
			if _, err := tx.ExecContext(ctx, updQ, s.ID, s.Status, s.ConnectedAt, s.EndedAt); err != nil {
				return fmt.Errorf("call: update: %w", err)
			}
		}
		out = s
		outChanged = changed
		return nil
	})
	if err != nil {
		return Session{}, false, err
	}
	return out, outChanged, nil
}

func (p *PostgresStore) ListByParticipant(ctx context.Context, userID string, limit int) ([]Session, error) {
	if userID == "" {
		return nil, ErrInvalidArgument
	}
	if limit <= 0 {
		limit = 100
	}

	const q = `
		SELECT ` + sessionColumns + `
		FROM video_calls
		WHERE caller_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := p.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("call: list: %w", err)
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// lockParticipants takes transaction-scoped advisory locks for both
// participants. Locks are keyed by a hash of the user id and always acquired
// in sorted order so two admissions over the same pair cannot deadlock.
func lockParticipants(ctx context.Context, tx *sql.Tx, callerID, receiverID string) error {
	for _, k := range participantLockKeys(callerID, receiverID) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, k); err != nil {
			return fmt.Errorf("call: participant lock: %w", err)
		}
	}
	return nil
}

// participantLockKeys maps the pair to its advisory lock keys: deterministic
// per user id, sorted, deduplicated.
func participantLockKeys(callerID, receiverID string) []int64 {
	a, b := participantLockKey(callerID), participantLockKey(receiverID)
	if a == b {
		return []int64{a}
	}
	if a > b {
		a, b = b, a
	}
	return []int64{a, b}
}

func participantLockKey(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return int64(h.Sum64())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var s Session
	var connectedAt, endedAt sql.NullTime
	err := r.Scan(&s.ID, &s.CallerID, &s.ReceiverID, &s.Status, &s.CreatedAt, &connectedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("call: scan: %w", err)
	}
	if connectedAt.Valid {
		t := connectedAt.Time
		s.ConnectedAt = &t
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	return s, nil
}
