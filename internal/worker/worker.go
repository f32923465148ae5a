// Package worker implements the per-item fetch-and-merge loop.
package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/contributors"
	"github.com/JakeFAU/reposync/internal/metrics"
)

// ContextCatalog is the report context for store-level notices.
const ContextCatalog = "catalog"

// Queue is the consumer side of the work queue.
type Queue interface {
	Dequeue(ctx context.Context) (catalog.QueueItem, error)
	Done(item catalog.QueueItem)
}

// Assembler builds the assembly for one repository.
type Assembler interface {
	Assemble(ctx context.Context, id catalog.Identifier, sub *catalog.Submission) (catalog.Assembly, error)
}

// Store merges assemblies under its own lock.
type Store interface {
	Merge(a catalog.Assembly, opts catalog.MergeOptions) catalog.MergeResult
}

// Ledger counts contributions in submission mode.
type Ledger interface {
	Record(userID string, first bool) contributors.Stats
}

// Reporter receives per-item failures.
type Reporter interface {
	Warnf(scope, format string, args ...any)
	Fail(scope string, err error)
}

// Worker consumes queue items until its context ends.
type Worker struct {
	queue     Queue
	assembler Assembler
	store     Store
	reporter  Reporter
	ledger    Ledger
	opts      catalog.MergeOptions
	logger    *zap.Logger
}

// New constructs a Worker. ledger is only used in submission mode and may be
// nil.
func New(
	queue Queue,
	assembler Assembler,
	store Store,
	reporter Reporter,
	ledger Ledger,
	opts catalog.MergeOptions,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		assembler: assembler,
		store:     store,
		reporter:  reporter,
		ledger:    ledger,
		opts:      opts,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Debug("worker stopping", zap.Error(err))
			}
			return
		}
		w.logger.Debug("dequeued item", zap.String("source", item.Source), zap.Uint64("seq", item.Seq))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item catalog.QueueItem) {
	defer w.queue.Done(item)
	defer func() {
		if rec := recover(); rec != nil {
			metrics.ObserveRecord(metrics.OutcomeFailed)
			w.reporter.Fail(item.Source, fmt.Errorf("panic while processing: %v", rec))
		}
	}()

	id, err := catalog.ParseIdentifier(item.Source)
	if err != nil {
		metrics.ObserveRecord(metrics.OutcomeFailed)
		w.reporter.Fail(item.Source, err)
		return
	}
	assembly, err := w.assembler.Assemble(ctx, id, item.Submission)
	if err != nil {
		metrics.ObserveRecord(metrics.OutcomeFailed)
		w.reporter.Fail(id.String(), fmt.Errorf("assemble: %w", err))
		return
	}

	res := w.store.Merge(assembly, w.opts)
	if res.Created {
		metrics.ObserveRecord(metrics.OutcomeCreated)
		if w.opts.Mode == catalog.ModeBulkRefresh {
			w.reporter.Warnf(ContextCatalog, "No stored record for %s (id %s); added as a new entry", id, res.Key)
		}
	} else {
		metrics.ObserveRecord(metrics.OutcomeUpdated)
	}
	if w.opts.Mode == catalog.ModeSingleSubmission && w.ledger != nil {
		w.ledger.Record(w.opts.UserID, res.FirstContribution)
	}
	w.logger.Info("record merged",
		zap.String("repo", id.String()),
		zap.String("key", res.Key.String()),
		zap.Bool("created", res.Created),
	)
}
