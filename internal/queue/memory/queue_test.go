package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reposync/internal/catalog"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	result := make(chan catalog.QueueItem, 1)
	errCh := make(chan error, 1)

	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- item
	}()

	time.Sleep(10 * time.Millisecond) // allow goroutine to start
	if err := q.Enqueue(context.Background(), catalog.QueueItem{Source: "https://github.com/o/r"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		if got.Source != "https://github.com/o/r" || got.Seq != 1 {
			t.Fatalf("unexpected item %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return item")
	}
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	qDequeue := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := qDequeue.Dequeue(ctx); err == nil ||
		err.Error() != "dequeue canceled: context canceled" {
		t.Fatalf("expected dequeue cancel error, got %v", err)
	}

	qEnqueue := NewQueue(1)
	if err := qEnqueue.Enqueue(context.Background(), catalog.QueueItem{Source: "primed"}); err != nil {
		t.Fatalf("failed to prime enqueue queue: %v", err)
	}
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if err := qEnqueue.Enqueue(ctx, catalog.QueueItem{}); err == nil ||
		err.Error() != "enqueue canceled: context canceled" {
		t.Fatalf("expected enqueue cancel error, got %v", err)
	}
	if got := qEnqueue.Pending(); got != 1 {
		t.Fatalf("canceled enqueue must not stay pending, got %d", got)
	}
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	q.Close()
	if _, err := q.Dequeue(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	if err := q.Enqueue(context.Background(), catalog.QueueItem{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected queue closed error, got %v", err)
	}
	// Closing twice should be safe.
	q.Close()
}

func TestQueueCloseReleasesBlockedEnqueue(t *testing.T) {
	t.Parallel()

	q := NewQueue(0)
	errCh := make(chan error, 1)
	go func() {
		errCh <- q.Enqueue(context.Background(), catalog.QueueItem{Source: "blocked"})
	}()
	time.Sleep(10 * time.Millisecond)
	q.Close()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("enqueue stayed blocked after close")
	}
}

func TestQueueDrainWaitsForDone(t *testing.T) {
	t.Parallel()

	q := NewQueue(4)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, catalog.QueueItem{Source: "a"}))
	require.NoError(t, q.Enqueue(ctx, catalog.QueueItem{Source: "b"}))

	drained := make(chan error, 1)
	go func() { drained <- q.Drain(ctx) }()

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, q.Len())

	q.Done(first)
	select {
	case <-drained:
		t.Fatal("drain returned before every item was done")
	case <-time.After(20 * time.Millisecond):
	}

	// Items added after the barrier are not waited for.
	require.NoError(t, q.Enqueue(ctx, catalog.QueueItem{Source: "late"}))
	q.Done(second)
	select {
	case err := <-drained:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("drain did not return")
	}
	require.Equal(t, 1, q.Pending())
}

func TestQueueDrainCanceled(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	require.NoError(t, q.Enqueue(context.Background(), catalog.QueueItem{Source: "stuck"}))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, q.Drain(ctx), context.DeadlineExceeded)
}

func TestQueueDrainEmpty(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewQueue(1).Drain(context.Background()))
}

func TestQueueConcurrentProducers(t *testing.T) {
	t.Parallel()

	q := NewQueue(2)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				if err := q.Enqueue(ctx, catalog.QueueItem{Source: "x"}); err != nil {
					t.Errorf("Enqueue() error = %v", err)
					return
				}
			}
		}()
	}
	seen := make(map[uint64]bool)
	for i := 0; i < 200; i++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.False(t, seen[item.Seq], "duplicate seq %d", item.Seq)
		seen[item.Seq] = true
		q.Done(item)
	}
	wg.Wait()
	require.NoError(t, q.Drain(ctx))
}
