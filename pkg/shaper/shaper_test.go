package shaper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireSucceedsImmediatelyWithinBudget(t *testing.T) {
	s := New(Limits{RequestsPerMinute: 60, TokensPerMinute: 6000}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Acquire(ctx, 10))
}

func TestAcquireBlocksOnRequestBudget(t *testing.T) {
	// rpm=2 means one request every 30s once the initial burst is spent.
	var lastWait time.Duration
	var lastOn string
	s := New(Limits{RequestsPerMinute: 2, TokensPerMinute: 100000}, func(on string, wait time.Duration) {
		lastOn = on
		lastWait = wait
	})
	ctx := context.Background()

	require.NoError(t, s.Acquire(ctx, 1))
	require.NoError(t, s.Acquire(ctx, 1))

	ctxShort, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctxShort, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "requests", lastOn)
	assert.Greater(t, lastWait, time.Duration(0))
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	s := New(Limits{RequestsPerMinute: 1, TokensPerMinute: 100}, nil)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, 1))

	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()
	err := s.Acquire(cancelCtx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAcquireBlocksOnTokenBudgetSeparatelyFromRequests(t *testing.T) {
	s := New(Limits{RequestsPerMinute: 6000, TokensPerMinute: 60}, nil)
	ctx := context.Background()
	require.NoError(t, s.Acquire(ctx, 60))

	ctxShort, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := s.Acquire(ctxShort, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
