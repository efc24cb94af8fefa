package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureSingleAssignment(t *testing.T) {
	f := NewFuture[int]()
	hooks := 0
	f.OnSettle(func() { hooks++ })

	assert.False(t, f.Settled())
	assert.True(t, f.Resolve(1))
	assert.False(t, f.Resolve(2))
	assert.False(t, f.Reject(errors.New("late")))

	v, err := f.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, hooks)

	// Hooks registered after settling run at once.
	f.OnSettle(func() { hooks++ })
	assert.Equal(t, 2, hooks)
}

func TestFutureAwaitContextRejects(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, f.Settled())
	assert.False(t, f.Resolve("too late"))
}
