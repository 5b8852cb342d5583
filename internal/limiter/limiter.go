// Package limiter provides the circuit breaker that protects oracle
// providers from hammering: a shared cooldown window in redis plus a local
// in-process cap on concurrent calls.
package limiter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Breaker gates oracle calls per provider/model. IsOpen reports an active
// cooldown, Open starts or extends one, Close resets it after a successful
// call, and Allow reserves an inflight slot.
type Breaker interface {
	IsOpen(ctx context.Context, provider, model string) bool
	Open(ctx context.Context, provider, model string)
	Close(ctx context.Context, provider, model string)
	Allow(provider, model string) (func(), bool)
}

// Adaptive is the redis-backed Breaker. The cooldown window doubles on every
// consecutive Open up to a cap, so a provider that keeps rate limiting gets
// left alone for progressively longer. Inflight slots stay process-local.
type Adaptive struct {
	rdb         *redis.Client
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu  sync.Mutex
	sem map[string]chan struct{}
}

type Options struct {
	RedisURL    string
	MaxInflight int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func New(opts Options) (*Adaptive, error) {
	if opts.MaxInflight <= 0 {
		opts.MaxInflight = 2
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 5 * time.Minute
	}

	ro, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(ro)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Adaptive{
		rdb:         rdb,
		maxInflight: opts.MaxInflight,
		baseBackoff: opts.BaseBackoff,
		maxBackoff:  opts.MaxBackoff,
		sem:         make(map[string]chan struct{}),
	}, nil
}

func breakerKey(provider, model string) string {
	return fmt.Sprintf("oracle:cb:%s:%s", strings.ToLower(provider), strings.ToLower(model))
}

// IsOpen reports whether the cooldown for provider/model is still running.
// Redis errors count as closed so a redis outage never blocks the oracle.
func (a *Adaptive) IsOpen(ctx context.Context, provider, model string) bool {
	until, err := a.rdb.Get(ctx, breakerKey(provider, model)).Int64()
	if err != nil {
		return false
	}
	return time.Now().Unix() < until
}

// Open starts or extends the cooldown. Consecutive opens double the window
// up to the configured maximum; the attempt counter expires with the key.
func (a *Adaptive) Open(ctx context.Context, provider, model string) {
	key := breakerKey(provider, model)

	attempts, _ := a.rdb.Incr(ctx, key+":attempts").Result()
	if attempts < 1 {
		attempts = 1
	}
	window := a.baseBackoff * (1 << (attempts - 1))
	if window > a.maxBackoff {
		window = a.maxBackoff
	}

	until := time.Now().Add(window).Unix()
	_ = a.rdb.Set(ctx, key, until, window).Err()
	_ = a.rdb.Expire(ctx, key+":attempts", a.maxBackoff).Err()
}

// Close clears the cooldown and the attempt counter for provider/model.
func (a *Adaptive) Close(ctx context.Context, provider, model string) {
	key := breakerKey(provider, model)
	_ = a.rdb.Del(ctx, key, key+":attempts").Err()
}

// Allow reserves a local inflight slot for provider/model. It returns the
// release function and true on success, or a no-op and false when the cap is
// already reached.
func (a *Adaptive) Allow(provider, model string) (func(), bool) {
	slot := strings.ToLower(provider) + ":" + strings.ToLower(model)

	a.mu.Lock()
	ch, ok := a.sem[slot]
	if !ok {
		ch = make(chan struct{}, a.maxInflight)
		a.sem[slot] = ch
	}
	a.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}

// CloseClient releases the redis connection.
func (a *Adaptive) CloseClient() error { return a.rdb.Close() }
