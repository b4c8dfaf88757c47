package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFuture[T any](t *testing.T, f *Future[T], within time.Duration) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	v, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		t.Fatalf("timed out waiting for future")
	}
	return v, err
}

func TestDispatcher_NeverExceedsCeilingAndDropsNothing(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 3, Spacing: time.Millisecond})
	defer d.Close()

	var running, peak, done atomic.Int32
	release := make(chan struct{})

	const total = 20
	futures := make([]*Future[int], 0, total)
	for i := range total {
		futures = append(futures, Enqueue(d, func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			done.Add(1)
			return i, nil
		}))
	}

	require.Eventually(t, func() bool { return d.Active() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, total-3, d.Pending(), "overload grows the queue")
	close(release)

	for i, f := range futures {
		v, err := waitFuture(t, f, 2*time.Second)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
	assert.EqualValues(t, total, done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestDispatcher_StartsInFIFOOrder(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 1, Spacing: 0})
	defer d.Close()

	var mu sync.Mutex
	var order []int
	var last *Future[struct{}]
	for i := range 5 {
		last = d.Submit(func(ctx context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}
	_, err := waitFuture(t, last, time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestDispatcher_FailureRejectsFutureWithoutBlockingQueue(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 1, Spacing: 0})
	defer d.Close()

	boom := errors.New("boom")
	var calls atomic.Int32
	failed := d.Submit(func(ctx context.Context) error {
		calls.Add(1)
		return boom
	})
	next := d.Submit(func(ctx context.Context) error { return nil })

	_, err := waitFuture(t, failed, time.Second)
	assert.ErrorIs(t, err, boom)
	_, err = waitFuture(t, next, time.Second)
	assert.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load(), "dispatcher never retries on its own")
}

func TestDispatcher_SpacesConsecutiveStarts(t *testing.T) {
	const spacing = 40 * time.Millisecond
	d := New(context.Background(), Options{MaxActive: 3, Spacing: spacing})
	defer d.Close()

	var mu sync.Mutex
	var starts []time.Time
	var futures []*Future[struct{}]
	for range 3 {
		futures = append(futures, d.Submit(func(ctx context.Context) error {
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
			return nil
		}))
	}
	for _, f := range futures {
		_, err := waitFuture(t, f, time.Second)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, starts, 3)
	assert.GreaterOrEqual(t, starts[2].Sub(starts[0]), 2*spacing-5*time.Millisecond)
}

func TestDispatcher_CloseRejectsQueued(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 1, Spacing: 0})

	block := make(chan struct{})
	running := d.Submit(func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	queued := d.Submit(func(ctx context.Context) error { return nil })

	require.Eventually(t, func() bool { return d.Active() == 1 }, time.Second, time.Millisecond)
	d.Close()

	_, err := waitFuture(t, queued, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = waitFuture(t, running, time.Second)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = waitFuture(t, d.Submit(func(ctx context.Context) error { return nil }), time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDispatcher_DrainWaitsForQueuedAndFollowUpWork(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 1, Spacing: 5 * time.Millisecond})
	defer d.Close()

	var ran atomic.Int32
	d.Submit(func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		ran.Add(1)
		// Submitted while this op still holds its slot.
		d.Submit(func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		return nil
	})
	d.Submit(func(ctx context.Context) error {
		ran.Add(1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(ctx))
	assert.Equal(t, int32(3), ran.Load())
	assert.Zero(t, d.Pending())
	assert.Zero(t, d.Active())

	require.NoError(t, d.Drain(ctx), "an idle dispatcher drains at once")
}

func TestDispatcher_DrainHonoursContext(t *testing.T) {
	d := New(context.Background(), Options{MaxActive: 1})
	defer d.Close()

	block := make(chan struct{})
	defer close(block)
	d.Submit(func(ctx context.Context) error {
		<-block
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Drain(ctx), context.DeadlineExceeded)
}
