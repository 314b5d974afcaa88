package email

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dans3367/pigeonpost/internal/database"
)

// ErrLimited means all send slots are taken right now. Callers treat it as
// transient and retry under their activity policy.
var ErrLimited = errors.New("provider concurrency limit reached")

// slotTTL caps how long a leaked slot (worker crash between acquire and
// release) can depress capacity before the counter self-heals.
const slotTTL = 2 * time.Minute

// Limiter bounds concurrent sends per provider with a Redis counter, so the
// bound holds across all worker processes, survives restarts, and is not a
// per-process in-memory map.
type Limiter struct {
	rdb   *database.Redis
	limit int64
}

// NewLimiter creates a new Limiter
func NewLimiter(rdb *database.Redis, limit int) *Limiter {
	return &Limiter{rdb: rdb, limit: int64(limit)}
}

// Acquire claims a send slot for the provider. The returned release func
// must be called once the send finishes, success or not.
func (l *Limiter) Acquire(ctx context.Context, provider string) (func(), error) {
	key := fmt.Sprintf("send_slots:%s", provider)

	count, err := l.rdb.Incr(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire send slot: %w", err)
	}
	// Expiry is the leak guard, not correctness; a failed EXPIRE is ignored
	_ = l.rdb.Expire(ctx, key, slotTTL)
	if count > l.limit {
		// Give the slot back; do not hold it while waiting
		_, _ = l.rdb.Decr(context.WithoutCancel(ctx), key)
		return nil, ErrLimited
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		_, _ = l.rdb.Decr(context.WithoutCancel(ctx), key)
	}, nil
}
