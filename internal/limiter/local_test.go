package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBreakerBackoff(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(2, 50*time.Millisecond, time.Second)

	assert.False(t, l.IsOpen(ctx, "openai", "gpt-4.1"))

	l.Open(ctx, "openai", "gpt-4.1")
	assert.True(t, l.IsOpen(ctx, "openai", "gpt-4.1"))
	// other models unaffected
	assert.False(t, l.IsOpen(ctx, "openai", "gpt-4o"))

	l.Close(ctx, "openai", "gpt-4.1")
	assert.False(t, l.IsOpen(ctx, "openai", "gpt-4.1"))
}

func TestLocalBreakerExpires(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(2, 10*time.Millisecond, 20*time.Millisecond)

	l.Open(ctx, "anthropic", "claude-3-haiku")
	require.True(t, l.IsOpen(ctx, "anthropic", "claude-3-haiku"))

	time.Sleep(30 * time.Millisecond)
	assert.False(t, l.IsOpen(ctx, "anthropic", "claude-3-haiku"))
}

func TestLocalInflightCap(t *testing.T) {
	l := NewLocal(2, time.Minute, time.Hour)

	r1, ok := l.Allow("openai", "gpt-4.1")
	require.True(t, ok)
	_, ok = l.Allow("openai", "gpt-4.1")
	require.True(t, ok)

	_, ok = l.Allow("openai", "gpt-4.1")
	assert.False(t, ok)

	r1()
	_, ok = l.Allow("openai", "gpt-4.1")
	assert.True(t, ok)
}
