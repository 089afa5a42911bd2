// Package ratelimit limits requests per key. The in-process limiter is used
// by default; with Redis configured the window is shared across replicas.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory keeps a token bucket per key. A bucket holds requests tokens and
// refills at requests per window. Buckets idle for a whole window are full
// again and get dropped, so the key set stays bounded by recent clients.
type Memory struct {
	requests int
	every    rate.Limit
	idle     time.Duration
	now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewMemory(requests int, window time.Duration) *Memory {
	return &Memory{
		requests: requests,
		every:    rate.Limit(float64(requests) / window.Seconds()),
		idle:     window,
		now:      time.Now,
		buckets:  make(map[string]*bucket),
	}
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := m.now()

	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.every, m.requests)}
		m.buckets[key] = b
	}
	b.seen = now
	if now.Sub(m.lastSweep) >= m.idle {
		m.sweep(now)
	}
	m.mu.Unlock()

	return b.lim.AllowN(now, 1), nil
}

// sweep drops idle buckets. m.mu must be held.
func (m *Memory) sweep(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.seen) >= m.idle {
			delete(m.buckets, k)
		}
	}
	m.lastSweep = now
}

func (m *Memory) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Redis is a fixed window counter shared by every instance using the same
// Redis. Redis failures let the request through.
type Redis struct {
	client   *redis.Client
	requests int
	window   time.Duration
	prefix   string
	log      *slog.Logger
}

func NewRedis(client *redis.Client, requests int, window time.Duration, log *slog.Logger) *Redis {
	return &Redis{client: client, requests: requests, window: window, prefix: "ratelimit:", log: log}
}

// Connect parses url and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	const op = "ratelimit.Connect"

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return client, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	const op = "ratelimit.Redis.Allow"

	window := time.Now().UnixNano() / int64(r.window)
	k := fmt.Sprintf("%s%s:%d", r.prefix, key, window)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, r.window)
	if _, err := pipe.Exec(ctx); err != nil {
		r.log.Warn("rate_limit_unavailable", slog.String("op", op), slog.String("err", err.Error()))
		return true, fmt.Errorf("%s: %w", op, err)
	}
	return incr.Val() <= int64(r.requests), nil
}
