package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueueDequeueCompleteRoundTrip(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	resultCh := make(chan any, 1)
	errCh := make(chan error, 1)
	go func() {
		v, err := q.Enqueue(ctx, 1, "payload", 0)
		resultCh <- v
		errCh <- err
	}()

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "payload", item.Payload)
	q.Complete(item, "done")

	assert.Equal(t, "done", <-resultCh)
	assert.NoError(t, <-errCh)
}

func TestDequeueOrdersByPriorityThenArrival(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	go func() { _, _ = q.Enqueue(ctx, 5, "low-a", 0) }()
	time.Sleep(5 * time.Millisecond)
	go func() { _, _ = q.Enqueue(ctx, 1, "high", 0) }()
	time.Sleep(5 * time.Millisecond)
	go func() { _, _ = q.Enqueue(ctx, 5, "low-b", 0) }()
	time.Sleep(5 * time.Millisecond)

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "high", first.Payload)
	q.Complete(first, nil)

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low-a", second.Payload)
	q.Complete(second, nil)

	third, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "low-b", third.Payload)
	q.Complete(third, nil)
}

func TestEnqueueReturnsErrQueueFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	go func() { _, _ = q.Enqueue(ctx, 1, "a", time.Second) }()
	time.Sleep(10 * time.Millisecond)

	_, err := q.Enqueue(ctx, 1, "b", 0)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestEnqueueTimesOut(t *testing.T) {
	q := New(10)
	ctx := context.Background()
	_, err := q.Enqueue(ctx, 1, "never-served", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrQueueTimeout)
	assert.Equal(t, 0, q.Len())
}

func TestEnqueueRespectsContextCancellation(t *testing.T) {
	q := New(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Enqueue(ctx, 1, "x", time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClearCancelsAllPending(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	errCh := make(chan error, 2)
	go func() { _, err := q.Enqueue(ctx, 1, "a", 0); errCh <- err }()
	go func() { _, err := q.Enqueue(ctx, 2, "b", 0); errCh <- err }()
	time.Sleep(10 * time.Millisecond)

	q.Clear()
	assert.ErrorIs(t, <-errCh, ErrQueueCleared)
	assert.ErrorIs(t, <-errCh, ErrQueueCleared)
	assert.Equal(t, 0, q.Len())
}

func TestFailPropagatesError(t *testing.T) {
	q := New(10)
	ctx := context.Background()

	resultErrCh := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, 1, "payload", 0)
		resultErrCh <- err
	}()

	item, err := q.Dequeue(ctx)
	require.NoError(t, err)
	sentinel := assert.AnError
	q.Fail(item, sentinel)
	assert.ErrorIs(t, <-resultErrCh, sentinel)
}
