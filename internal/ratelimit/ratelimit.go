package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	windowSeconds = 60
	// keyTTL keeps the current and previous window alive.
	keyTTL = 120 * time.Second
)

// Result reports one admission decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   int64
}

// Limiter approximates a sliding 60-second window using two fixed windows
// weighted by the fraction elapsed in the current one. State is one counter
// per account per window in the shared KV store.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time
}

// NewLimiter constructs a Limiter.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// CheckAndIncrement counts this request against the account window and
// decides admission. KV failures admit the request; the limiter never fails
// closed on infrastructure errors.
func (l *Limiter) CheckAndIncrement(ctx context.Context, accountID uint64, limit int) Result {
	nowSec := l.now().Unix()
	window := nowSec / windowSeconds
	resetAt := (window + 1) * windowSeconds

	currKey := windowKey(accountID, window)
	prevKey := windowKey(accountID, window-1)

	pipe := l.rdb.Pipeline()
	prevCmd := pipe.Get(ctx, prevKey)
	currCmd := pipe.Incr(ctx, currKey)
	pipe.Expire(ctx, currKey, keyTTL)
	if _, errExec := pipe.Exec(ctx); errExec != nil && errExec != redis.Nil {
		log.WithError(errExec).Warn("ratelimit: kv unavailable, admitting request")
		return Result{Allowed: true, Limit: limit, Remaining: limit, ResetAt: resetAt}
	}

	prev, _ := prevCmd.Int64()
	curr := currCmd.Val()

	progress := float64(nowSec%windowSeconds) / windowSeconds
	estimated := int64(float64(prev)*(1-progress)) + curr

	if estimated > int64(limit) {
		// Roll back the increment we just made.
		if errDecr := l.rdb.Decr(ctx, currKey).Err(); errDecr != nil {
			log.WithError(errDecr).Warn("ratelimit: rollback failed")
		}
		return Result{Allowed: false, Limit: limit, Remaining: 0, ResetAt: resetAt}
	}

	remaining := int64(limit) - estimated
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: limit, Remaining: int(remaining), ResetAt: resetAt}
}

// RetryAfter returns the seconds a rejected caller should wait, at least 1.
func (r Result) RetryAfter(now time.Time) int64 {
	wait := r.ResetAt - now.Unix()
	if wait < 1 {
		wait = 1
	}
	return wait
}

func windowKey(accountID uint64, window int64) string {
	return fmt.Sprintf("ratelimit:%d:%d", accountID, window)
}
