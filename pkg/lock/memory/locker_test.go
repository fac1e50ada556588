package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cuewise/pkg/lock"
	"cuewise/pkg/lock/memory"
)

func TestLocker_AcquireFree(t *testing.T) {
	locker := memory.New()
	defer locker.Close()

	handle, err := locker.Acquire(context.Background(), "player")
	require.NoError(t, err)
	require.NoError(t, handle.Release(context.Background()))
}

func TestLocker_SecondAcquireBlocksUntilRelease(t *testing.T) {
	locker := memory.New()
	defer locker.Close()
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)

	granted := make(chan lock.Handle, 1)
	go func() {
		h, err := locker.Acquire(ctx, "player")
		if err == nil {
			granted <- h
		}
	}()

	select {
	case <-granted:
		t.Fatal("second acquire succeeded while lock was held")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Release(ctx))

	select {
	case h := <-granted:
		require.NoError(t, h.Release(ctx))
	case <-time.After(time.Second):
		t.Fatal("waiter was not granted after release")
	}
}

func TestLocker_GrantsInArrivalOrder(t *testing.T) {
	locker := memory.New()
	defer locker.Close()
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)

	order := make(chan int, 2)
	acquire := func(id int) chan lock.Handle {
		got := make(chan lock.Handle, 1)
		go func() {
			h, err := locker.Acquire(ctx, "player")
			if err == nil {
				order <- id
				got <- h
			}
		}()
		return got
	}

	gotA := acquire(1)
	time.Sleep(20 * time.Millisecond) // ensure A queues before B
	gotB := acquire(2)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, first.Release(ctx))
	hA := <-gotA
	require.NoError(t, hA.Release(ctx))
	hB := <-gotB
	require.NoError(t, hB.Release(ctx))

	assert.Equal(t, 1, <-order)
	assert.Equal(t, 2, <-order)
}

func TestLocker_CancelledWaiterIsSkipped(t *testing.T) {
	locker := memory.New()
	defer locker.Close()
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)

	waitCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		_, err := locker.Acquire(waitCtx, "player")
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)

	// The abandoned waiter must not consume the next grant.
	require.NoError(t, first.Release(ctx))
	quickCtx, quickCancel := context.WithTimeout(ctx, time.Second)
	defer quickCancel()
	handle, err := locker.Acquire(quickCtx, "player")
	require.NoError(t, err)
	require.NoError(t, handle.Release(ctx))
}

func TestHandle_DoneClosesOnRelease(t *testing.T) {
	locker := memory.New()
	defer locker.Close()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)

	select {
	case <-handle.Done():
		t.Fatal("Done closed before release")
	default:
	}

	require.NoError(t, handle.Release(ctx))

	select {
	case <-handle.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after release")
	}
}

func TestHandle_ReleaseIsIdempotent(t *testing.T) {
	locker := memory.New()
	defer locker.Close()
	ctx := context.Background()

	handle, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)
	require.NoError(t, handle.Release(ctx))
	require.NoError(t, handle.Release(ctx))

	// A double release must not grant the lock twice.
	h2, err := locker.Acquire(ctx, "player")
	require.NoError(t, err)
	defer h2.Release(ctx)

	blocked := make(chan struct{})
	go func() {
		h3, err := locker.Acquire(ctx, "player")
		if err == nil {
			close(blocked)
			h3.Release(ctx)
		}
	}()
	select {
	case <-blocked:
		t.Fatal("lock granted while still held")
	case <-time.After(50 * time.Millisecond):
	}
}
