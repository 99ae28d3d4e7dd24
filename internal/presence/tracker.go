package presence

import (
	"context"
	"time"

	"videocall-relay/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "videocall:conns:"

// Tracker keeps a per-user live-connection counter in Redis. It serves two
// purposes: capping simultaneous websocket connections per user, and
// answering "is this user online" across relay instances.
//
// A nil Tracker (Redis not configured) disables both: Acquire always grants
// and IsOnline reports false with ok=false so callers can fall back to
// process-local state.
type Tracker struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewTracker(rdb *redis.Client, maxConnsPerUser int, ttl time.Duration) *Tracker {
	if rdb == nil {
		return nil
	}
	if maxConnsPerUser <= 0 {
		maxConnsPerUser = 8
	}
	if ttl <= 0 {
		// TTL is a crash backstop; live connections refresh it on pong.
		ttl = 5 * time.Minute
	}
	return &Tracker{rdb: rdb, limit: maxConnsPerUser, ttl: ttl}
}

func (t *Tracker) Enabled() bool { return t != nil }

func key(userID string) string { return keyPrefix + userID }

// Acquire claims one connection slot for the user. Returns false when the
// per-user cap is reached.
func (t *Tracker) Acquire(ctx context.Context, userID string) (bool, error) {
	if t == nil {
		return true, nil
	}
	return utils.AcquireConnSlot(ctx, t.rdb, key(userID), t.limit, t.ttl)
}

// Release frees a slot claimed by Acquire. Best-effort on disconnect paths.
func (t *Tracker) Release(ctx context.Context, userID string) error {
	if t == nil {
		return nil
	}
	return utils.ReleaseConnSlot(ctx, t.rdb, key(userID))
}

// Touch extends the slot TTL while the connection is alive.
func (t *Tracker) Touch(ctx context.Context, userID string) error {
	if t == nil {
		return nil
	}
	return utils.TouchConnSlots(ctx, t.rdb, key(userID), t.ttl)
}

// IsOnline reports whether the user holds any connection slot. ok is false
// when the tracker is disabled and the answer is unknown.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (online bool, ok bool, err error) {
	if t == nil {
		return false, false, nil
	}
	online, err = utils.HasConnSlots(ctx, t.rdb, key(userID))
	if err != nil {
		return false, false, err
	}
	return online, true, nil
}
