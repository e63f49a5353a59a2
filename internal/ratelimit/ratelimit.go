package ratelimit

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/AndreCAndersen/home2telldus/internal/apperrors"
)

type LimiterConfig struct {
	RPS   int
	Burst int
	// MaxKeys caps the keys tracked by MemoryLimiter.
	MaxKeys int
}

// Limiter decides whether one more request for key may pass.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Middleware rejects requests over the limit with a RateLimitedError body.
func Middleware(l Limiter, prefix string, keyFunc func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := prefix + ":" + keyFunc(r)
			allowed, err := l.Allow(r.Context(), key)
			if err != nil {
				// Fail open when the backend is unreachable.
				slog.Warn("rate limiter unavailable", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				apperrors.WriteError(w, apperrors.RateLimited())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// DefaultMaxKeys bounds the in-memory buckets when LimiterConfig.MaxKeys is unset.
const DefaultMaxKeys = 4096

// MemoryLimiter keeps one token bucket per key in process memory. At most
// MaxKeys buckets are held; the least recently seen key is dropped first.
type MemoryLimiter struct {
	cfg     LimiterConfig
	mu      sync.Mutex
	buckets *simplelru.LRU[string, *rate.Limiter]
	now     func() time.Time
}

func NewMemory(cfg LimiterConfig) *MemoryLimiter {
	if cfg.MaxKeys <= 0 {
		cfg.MaxKeys = DefaultMaxKeys
	}
	// NewLRU only fails on a non-positive size.
	buckets, _ := simplelru.NewLRU[string, *rate.Limiter](cfg.MaxKeys, nil)
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: buckets,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lim, ok := m.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rate.Limit(m.cfg.RPS), m.cfg.Burst)
		m.buckets.Add(key, lim)
	}
	return lim.AllowN(m.now(), 1), nil
}

// Len reports how many keys currently hold a bucket.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buckets.Len()
}

// RedisLimiter shares token buckets between gateway replicas.
type RedisLimiter struct {
	Redis  *redis.Client
	Config LimiterConfig
	now    func() time.Time
}

func NewRedis(client *redis.Client, cfg LimiterConfig) *RedisLimiter {
	return &RedisLimiter{Redis: client, Config: cfg, now: time.Now}
}

// KEYS[1] = key, ARGV[1] = max_tokens (burst), ARGV[2] = refill_rate (tokens per second), ARGV[3] = now (ms).
// Returns 1 if allowed, 0 if not.
var tokenBucket = redis.NewScript(`
local tokens_key = KEYS[1]
local max_tokens = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local bucket = redis.call('HMGET', tokens_key, 'tokens', 'last')
local tokens = tonumber(bucket[1]) or max_tokens
local last = tonumber(bucket[2]) or now
local delta = math.max(0, now - last) / 1000
local refill = math.floor(delta * refill_rate)
tokens = math.min(max_tokens, tokens + refill)
if refill > 0 then
  last = now
end
local allowed = 0
if tokens > 0 then
  tokens = tokens - 1
  allowed = 1
end
redis.call('HMSET', tokens_key, 'tokens', tokens, 'last', last)
redis.call('EXPIRE', tokens_key, math.max(2, math.ceil(max_tokens / math.max(refill_rate, 1))))
return allowed
`)

func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	clock := rl.now
	if clock == nil {
		clock = time.Now
	}
	now := clock().UnixMilli()
	res, err := tokenBucket.Run(ctx, rl.Redis, []string{key}, rl.Config.Burst, rl.Config.RPS, now).Result()
	if err != nil {
		slog.Error("redis eval error", "key", key, "error", err)
		return false, err
	}
	var allowed int64
	switch v := res.(type) {
	case int64:
		allowed = v
	case string:
		allowed, _ = strconv.ParseInt(v, 10, 64)
	}
	slog.Debug("token bucket", "key", key, "allowed", allowed, "max", rl.Config.Burst, "rps", rl.Config.RPS)
	return allowed == 1, nil
}

// KeyByIP keys on the client address (after chi's RealIP middleware).
func KeyByIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
