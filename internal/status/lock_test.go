package status

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLockerExclusion(t *testing.T) {
	ctx := context.Background()
	l := NewLocalLocker()

	release, err := l.Acquire(ctx, "session-1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "session-1")
	assert.ErrorIs(t, err, ErrLocked)

	// other sessions are independent
	release2, err := l.Acquire(ctx, "session-2")
	require.NoError(t, err)
	release2()

	release()
	release3, err := l.Acquire(ctx, "session-1")
	require.NoError(t, err)
	release3()
}
