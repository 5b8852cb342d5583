package limiter

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Local is an in-process Breaker used when redis is not configured.
// Cooldown state lives in memory and is lost on restart.
type Local struct {
	maxInflight int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	mu       sync.Mutex
	until    map[string]time.Time
	attempts map[string]int
	sem      map[string]chan struct{}
}

func NewLocal(maxInflight int, baseBackoff, maxBackoff time.Duration) *Local {
	if maxInflight <= 0 {
		maxInflight = 2
	}
	if baseBackoff <= 0 {
		baseBackoff = 30 * time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = 5 * time.Minute
	}
	return &Local{
		maxInflight: maxInflight,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		until:       map[string]time.Time{},
		attempts:    map[string]int{},
		sem:         map[string]chan struct{}{},
	}
}

func localKey(provider, model string) string {
	return strings.ToLower(provider) + ":" + strings.ToLower(model)
}

func (l *Local) IsOpen(_ context.Context, provider, model string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.until[localKey(provider, model)])
}

func (l *Local) Open(_ context.Context, provider, model string) {
	k := localKey(provider, model)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[k]++
	d := l.baseBackoff * (1 << (l.attempts[k] - 1))
	if d > l.maxBackoff {
		d = l.maxBackoff
	}
	l.until[k] = time.Now().Add(d)
}

func (l *Local) Close(_ context.Context, provider, model string) {
	k := localKey(provider, model)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.until, k)
	delete(l.attempts, k)
}

func (l *Local) Allow(provider, model string) (func(), bool) {
	k := localKey(provider, model)
	l.mu.Lock()
	ch, ok := l.sem[k]
	if !ok {
		ch = make(chan struct{}, l.maxInflight)
		l.sem[k] = ch
	}
	l.mu.Unlock()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
		return func() {}, false
	}
}
