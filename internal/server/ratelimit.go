package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civicmesh/orchestrator/pkg/api"
	"github.com/civicmesh/orchestrator/pkg/log"
)

type (
	// Limiter enforces two layers of per-address rate limiting in redis:
	// a per-minute budget and a per-second burst guard against looping
	// clients. A redis outage fails open; throttling is protective, not
	// load-bearing.
	Limiter struct {
		rdb       *redis.Client
		perMinute int
		burst     int
	}

	// Verdict is the result of one admission check
	Verdict struct {
		Code       api.ErrorCode
		Message    string
		RetryAfter int
		OK         bool
	}
)

// NewLimiter creates a Limiter over the given redis client
func NewLimiter(rdb *redis.Client, perMinute, burst int) *Limiter {
	return &Limiter{
		rdb:       rdb,
		perMinute: perMinute,
		burst:     burst,
	}
}

var allowed = Verdict{OK: true}

// Allow checks both limit layers for a client address. The burst layer is
// checked first so a looping client is rejected before it burns its
// per-minute budget.
func (l *Limiter) Allow(ctx context.Context, clientIP string) Verdict {
	count, ttl, err := l.bump(ctx, "rl:burst:"+clientIP, time.Second)
	if err != nil {
		l.failOpen(clientIP, err)
		return allowed
	}
	if count > int64(l.burst) {
		return Verdict{
			Code: api.ErrCodeBurstLimit,
			Message: "Too many requests per second. " +
				"Possible infinite loop detected.",
			RetryAfter: 1,
		}
	}

	count, ttl, err = l.bump(ctx, "rl:min:"+clientIP, time.Minute)
	if err != nil {
		l.failOpen(clientIP, err)
		return allowed
	}
	if count > int64(l.perMinute) {
		return Verdict{
			Code:       api.ErrCodeRateLimit,
			Message:    "Too many requests. Please slow down.",
			RetryAfter: retryAfter(ttl),
		}
	}
	return allowed
}

// bump increments a window counter, starting the window on first hit
func (l *Limiter) bump(
	ctx context.Context, key string, window time.Duration,
) (int64, time.Duration, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	count := incr.Val()
	if count == 1 || ttl.Val() < 0 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
		return count, window, nil
	}
	return count, ttl.Val(), nil
}

func (l *Limiter) failOpen(clientIP string, err error) {
	slog.Warn("Rate limiter unavailable, admitting request",
		slog.String("client_ip", clientIP),
		log.Error(err))
}

func retryAfter(ttl time.Duration) int {
	secs := int(ttl / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// String describes the limiter's configuration for startup logging
func (l *Limiter) String() string {
	return fmt.Sprintf("%d/min, burst %d/s", l.perMinute, l.burst)
}
