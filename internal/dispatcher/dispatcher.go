// Package dispatcher manages a fixed-size worker pool over the work queue.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/metrics"
)

// Queue is the producer and barrier side of the work queue.
type Queue interface {
	Enqueue(ctx context.Context, item catalog.QueueItem) error
	Drain(ctx context.Context) error
}

// Runner is a long-lived worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   Queue
	workers []Runner

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds exactly size workers with newWorker. The pool never grows or
// shrinks afterwards.
func New(queue Queue, size int, newWorker func(index int) Runner) (*Dispatcher, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	workers := make([]Runner, 0, size)
	for i := 0; i < size; i++ {
		workers = append(workers, newWorker(i))
	}
	return &Dispatcher{queue: queue, workers: workers}, nil
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Start launches every worker. Workers stop when ctx ends or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return errors.New("dispatcher already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	for _, w := range d.workers {
		d.wg.Add(1)
		metrics.IncActiveWorkers()
		go func(wk Runner) {
			defer d.wg.Done()
			defer metrics.DecActiveWorkers()
			wk.Run(runCtx)
		}(w)
	}
	return nil
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item catalog.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Drain waits until every item enqueued so far has been processed.
func (d *Dispatcher) Drain(ctx context.Context) error {
	if err := d.queue.Drain(ctx); err != nil {
		return fmt.Errorf("queue drain: %w", err)
	}
	return nil
}

// Stop cancels the workers and waits for them to return.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}
