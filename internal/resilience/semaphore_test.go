package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSemaphoreTryAcquire(t *testing.T) {
	s := NewSemaphore(2)

	assert.True(t, s.TryAcquire())
	assert.True(t, s.TryAcquire())
	assert.False(t, s.TryAcquire())
	assert.Equal(t, 2, s.Current())

	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestSemaphoreAcquireBlocksUntilRelease(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := s.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()

	select {
	case <-acquired:
		t.Fatal("acquire should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	s.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
	assert.Equal(t, 1, s.Current())
}

func TestSemaphoreAcquireContextCancel(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the cancelled waiter must not consume the next release
	s.Release()
	assert.True(t, s.TryAcquire())
}

func TestSemaphoreResizeGrowWakesWaiters(t *testing.T) {
	s := NewSemaphore(1)
	require.NoError(t, s.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		if err := s.Acquire(context.Background()); err == nil {
			close(acquired)
		}
	}()
	time.Sleep(10 * time.Millisecond)

	s.Resize(2)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by resize")
	}
	assert.Equal(t, 2, s.Current())
	assert.Equal(t, 2, s.Capacity())
}

func TestSemaphoreResizeShrinkDrains(t *testing.T) {
	s := NewSemaphore(2)
	require.NoError(t, s.Acquire(context.Background()))
	require.NoError(t, s.Acquire(context.Background()))

	s.Resize(1)
	assert.Equal(t, 2, s.Current())

	s.Release()
	assert.Equal(t, 1, s.Current())
	assert.False(t, s.TryAcquire(), "capacity 1 is still fully held")
}
