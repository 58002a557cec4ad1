// Package throttle provides the rate limiter used by actions to de-bounce
// side effects under at-least-once replays.
package throttle

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter answers whether an (action, key) pair may fire again. MarkAndTest
// returns true at most once per period across all callers and updates the
// state atomically.
type Limiter interface {
	MarkAndTest(ctx context.Context, action, key string, period time.Duration) bool
}

const stripeCount = 64

type stripe struct {
	mu   sync.Mutex
	last map[string]time.Time
}

// LocalLimiter keeps the fire times in process memory under striped locks.
type LocalLimiter struct {
	stripes [stripeCount]stripe
	now     func() time.Time
}

// NewLocal constructs a process-local limiter.
func NewLocal() *LocalLimiter {
	l := &LocalLimiter{now: time.Now}
	for i := range l.stripes {
		l.stripes[i].last = make(map[string]time.Time)
	}
	return l
}

// MarkAndTest reports whether the pair is allowed to fire now, recording the
// fire time when it is.
func (l *LocalLimiter) MarkAndTest(_ context.Context, action, key string, period time.Duration) bool {
	full := action + "\x00" + key
	s := &l.stripes[stripeFor(full)]
	s.mu.Lock()
	defer s.mu.Unlock()

	now := l.now()
	if last, ok := s.last[full]; ok && now.Sub(last) < period {
		return false
	}
	s.last[full] = now
	return true
}

func stripeFor(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % stripeCount
}

// RedisLimiter shares rate-limit state across replicas through Redis. A
// single SET NX with expiry gives the atomic mark-and-test; on Redis errors
// it fails open so a flaky store cannot suppress notifications.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	log    *slog.Logger
}

// NewRedis constructs a Redis-backed limiter.
func NewRedis(client *redis.Client, log *slog.Logger) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "kestrel:throttle:",
		log:    log.With("component", "redis_limiter"),
	}
}

// MarkAndTest reports whether the pair may fire, claiming the slot for the
// period when it does.
func (l *RedisLimiter) MarkAndTest(ctx context.Context, action, key string, period time.Duration) bool {
	redisKey := l.prefix + action + ":" + key
	ok, err := l.client.SetNX(ctx, redisKey, time.Now().Unix(), period).Result()
	if err != nil {
		l.log.Warn("redis rate limit check failed, allowing", "key", redisKey, "error", err)
		return true
	}
	return ok
}
