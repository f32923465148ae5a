package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/queue/memory"
)

type countingRunner struct {
	queue   *memory.Queue
	started *atomic.Int32
	handled *atomic.Int32
}

func (r countingRunner) Run(ctx context.Context) {
	r.started.Add(1)
	for {
		item, err := r.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		r.handled.Add(1)
		r.queue.Done(item)
	}
}

func TestDispatcherBuildsFixedPool(t *testing.T) {
	t.Parallel()

	var built []int
	d, err := New(memory.NewQueue(1), 3, func(i int) Runner {
		built = append(built, i)
		return countingRunner{}
	})
	require.NoError(t, err)
	require.Equal(t, 3, d.Size())
	require.Equal(t, []int{0, 1, 2}, built)

	_, err = New(memory.NewQueue(1), 0, nil)
	require.Error(t, err)
}

func TestDispatcherDrainsAllItems(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	var started, handled atomic.Int32
	d, err := New(q, 3, func(int) Runner {
		return countingRunner{queue: q, started: &started, handled: &handled}
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, d.Start(ctx))
	require.Error(t, d.Start(ctx), "second start is rejected")
	for i := 0; i < 25; i++ {
		require.NoError(t, d.Enqueue(ctx, catalog.QueueItem{Source: fmt.Sprintf("https://github.com/o/r%d", i)}))
	}
	drainCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, d.Drain(drainCtx))
	require.EqualValues(t, 25, handled.Load())

	d.Stop()
	require.EqualValues(t, 3, started.Load())
}

func TestDispatcherStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	var started, handled atomic.Int32
	d, err := New(q, 2, func(int) Runner {
		return countingRunner{queue: q, started: &started, handled: &handled}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))
	require.Eventually(t, func() bool { return started.Load() == 2 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		d.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, catalog.QueueItem) error { return errors.New("boom") }
func (failingQueue) Drain(context.Context) error                     { return errors.New("drain boom") }

func TestDispatcherWrapsQueueErrors(t *testing.T) {
	t.Parallel()

	d, err := New(failingQueue{}, 1, func(int) Runner { return countingRunner{} })
	require.NoError(t, err)
	err = d.Enqueue(context.Background(), catalog.QueueItem{})
	require.EqualError(t, err, "queue enqueue: boom")
	require.EqualError(t, d.Drain(context.Background()), "queue drain: drain boom")
	d.Stop()
}
