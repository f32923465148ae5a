// Package app holds the run context of one sync: the configuration, the
// catalog store, the work queue and worker pool, the report and the
// contributor ledger, plus the outbound sinks written when the run ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/api"
	"github.com/JakeFAU/reposync/internal/assembler"
	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/config"
	"github.com/JakeFAU/reposync/internal/contributors"
	"github.com/JakeFAU/reposync/internal/dispatcher"
	"github.com/JakeFAU/reposync/internal/hash/sha256"
	"github.com/JakeFAU/reposync/internal/metrics"
	"github.com/JakeFAU/reposync/internal/queue/memory"
	"github.com/JakeFAU/reposync/internal/report"
	"github.com/JakeFAU/reposync/internal/storage"
	"github.com/JakeFAU/reposync/internal/worker"
)

// Report contexts owned by the run itself.
const (
	ContextSubmission = "submission"
	ContextMirror     = "mirror"
	ContextPublish    = "publish"
)

// RunFinishedEvent labels the run summary message.
const RunFinishedEvent = "run.finished"

// Mirror receives every record once the run has merged them.
type Mirror interface {
	EnsureSchema(ctx context.Context) error
	Upsert(ctx context.Context, entries []catalog.Entry, syncedAt time.Time) error
}

// Publisher sends the run summary.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock reads wall time.
type Clock interface {
	Now() time.Time
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the external services a run talks to. Mirror, Publisher and Wiki
// are optional.
type Deps struct {
	Blobs     storage.BlobStore
	API       assembler.API
	Wiki      assembler.WikiProber
	Mirror    Mirror
	Publisher Publisher
	Clock     Clock
	IDs       IDGenerator
}

// Summary describes a finished run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Mode       string    `json:"mode"`
	Records    int       `json:"records"`
	Failures   int       `json:"failures"`
	Warnings   int       `json:"warnings"`
	Digest     string    `json:"catalog_sha256"`
	FinishedAt time.Time `json:"finished_at"`
}

// App is the run context. One App drives exactly one run.
type App struct {
	cfg       config.Config
	deps      Deps
	logger    *zap.Logger
	runID     string
	startedAt time.Time

	reporter  *report.Reporter
	assembler *assembler.Assembler
	queue     *memory.Queue
	hasher    *sha256.Hasher

	mu         sync.RWMutex
	mode       catalog.Mode
	store      *catalog.Store
	dispatcher *dispatcher.Dispatcher
	merged     atomic.Int64
	finished   atomic.Bool
}

// New builds the run context.
func New(cfg config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if deps.Blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if deps.API == nil {
		return nil, errors.New("github api is required")
	}
	if deps.Clock == nil || deps.IDs == nil {
		return nil, errors.New("clock and id generator are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := deps.IDs.NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))
	reporter := report.New(logger)
	return &App{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		runID:     runID,
		startedAt: deps.Clock.Now(),
		reporter:  reporter,
		assembler: assembler.New(deps.API, deps.Wiki, reporter, assembler.Config{
			SiteURL:      cfg.GitHub.SiteURL,
			MaxTreeDepth: cfg.Sync.MaxTreeDepth,
		}, logger),
		queue:  memory.NewQueue(cfg.Sync.QueueDepth),
		hasher: sha256.New(),
		store:  catalog.NewStore(),
	}, nil
}

// RunID returns the identifier of this run.
func (a *App) RunID() string {
	return a.runID
}

// Reporter exposes the run's report channel.
func (a *App) Reporter() *report.Reporter {
	return a.reporter
}

// Refresh re-derives every stored record from GitHub and writes the catalog
// back once the queue drains.
func (a *App) Refresh(ctx context.Context) (Summary, error) {
	store, err := a.loadCatalog(ctx)
	if err != nil {
		return Summary{}, err
	}
	sources, missing := store.Sources()
	for _, key := range missing {
		a.reporter.Warnf(worker.ContextCatalog, "Record %s has no html_url; skipped", key)
	}
	items := make([]catalog.QueueItem, 0, len(sources))
	for _, src := range sources {
		items = append(items, catalog.QueueItem{Source: src})
	}
	opts := catalog.MergeOptions{Mode: catalog.ModeBulkRefresh}
	if _, err := a.run(ctx, store, opts, nil, items); err != nil {
		return Summary{}, err
	}
	return a.finish(ctx, nil)
}

// Submit merges one user submission and credits its author.
func (a *App) Submit(ctx context.Context, payload []byte) (Summary, error) {
	if err := a.cfg.ValidateSubmit(); err != nil {
		return Summary{}, err
	}
	sub, err := catalog.ParseSubmission(payload)
	if err != nil {
		return Summary{}, a.abortSubmission(ctx, fmt.Errorf("parse submission: %w", err))
	}
	if _, err := catalog.ParseIdentifier(sub.GitHubURL); err != nil {
		return Summary{}, a.abortSubmission(ctx, fmt.Errorf("check submission: %w", err))
	}
	store, err := a.loadCatalog(ctx)
	if err != nil {
		return Summary{}, err
	}
	ledger, err := a.loadLedger(ctx)
	if err != nil {
		return Summary{}, err
	}
	opts := catalog.MergeOptions{Mode: catalog.ModeSingleSubmission, UserID: a.cfg.Sync.UserID}
	items := []catalog.QueueItem{{Source: sub.GitHubURL, Submission: sub}}
	failed, err := a.run(ctx, store, opts, ledger, items)
	if err != nil {
		return Summary{}, err
	}
	if failed != nil {
		// The submission was dropped; the catalog and ledger stay as they were.
		if ferr := a.flushReport(ctx); ferr != nil {
			a.logger.Error("flush report", zap.Error(ferr))
		}
		return Summary{}, fmt.Errorf("process submission: %w", failed)
	}
	return a.finish(ctx, ledger)
}

// abortSubmission reports err and writes the report before giving up.
func (a *App) abortSubmission(ctx context.Context, err error) error {
	a.reporter.Fail(ContextSubmission, err)
	if ferr := a.flushReport(ctx); ferr != nil {
		a.logger.Error("flush report", zap.Error(ferr))
	}
	return err
}

// Status implements api.StatusSource.
func (a *App) Status() api.RunStatus {
	a.mu.RLock()
	mode := a.mode
	workers := 0
	if a.dispatcher != nil {
		workers = a.dispatcher.Size()
	}
	a.mu.RUnlock()
	counts := a.reporter.Counts()
	status := api.RunStatus{
		RunID:     a.runID,
		StartedAt: a.startedAt,
		Workers:   workers,
		Queued:    a.queue.Len(),
		Pending:   a.queue.Pending(),
		Records:   int(a.merged.Load()),
		Warnings:  counts.Warnings,
		Failures:  counts.Failures,
		Finished:  a.finished.Load(),
	}
	if mode != 0 {
		status.Mode = mode.String()
	}
	return status
}

// Record implements api.StatusSource.
func (a *App) Record(key catalog.StoreKey) (catalog.Record, bool) {
	a.mu.RLock()
	store := a.store
	a.mu.RUnlock()
	return store.Get(key)
}

func (a *App) loadCatalog(ctx context.Context) (*catalog.Store, error) {
	data, err := storage.GetOptional(ctx, a.deps.Blobs, a.cfg.Storage.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	store, err := catalog.DecodeStore(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	a.logger.Info("catalog loaded", zap.Int("records", store.Len()), zap.String("path", a.cfg.Storage.CatalogPath))
	return store, nil
}

func (a *App) loadLedger(ctx context.Context) (*contributors.Ledger, error) {
	data, err := storage.GetOptional(ctx, a.deps.Blobs, a.cfg.Storage.ContributorsPath)
	if err != nil {
		return nil, fmt.Errorf("load contributors: %w", err)
	}
	ledger, err := contributors.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load contributors: %w", err)
	}
	return ledger, nil
}

// run starts the pool, feeds it items and waits for every item to finish.
// failed is the first error that dropped an item, if any.
func (a *App) run(
	ctx context.Context,
	store *catalog.Store,
	opts catalog.MergeOptions,
	ledger *contributors.Ledger,
	items []catalog.QueueItem,
) (failed error, err error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("sync canceled: %w", err)
	}
	var workerLedger worker.Ledger
	if ledger != nil {
		workerLedger = ledger
	}
	counted := &countingStore{store: store, merged: &a.merged}
	failures := &failureLog{Reporter: a.reporter}
	d, err := dispatcher.New(a.queue, a.cfg.Sync.Concurrency, func(i int) dispatcher.Runner {
		return worker.New(a.queue, a.assembler, counted, failures, workerLedger, opts,
			a.logger.Named("worker").With(zap.Int("index", i)))
	})
	if err != nil {
		return nil, fmt.Errorf("build worker pool: %w", err)
	}

	a.mu.Lock()
	a.mode = opts.Mode
	a.store = store
	a.dispatcher = d
	a.mu.Unlock()

	if err := d.Start(ctx); err != nil {
		return nil, fmt.Errorf("start worker pool: %w", err)
	}
	defer func() {
		d.Stop()
		a.queue.Close()
	}()

	a.logger.Info("sync started",
		zap.String("mode", opts.Mode.String()),
		zap.Int("items", len(items)),
		zap.Int("workers", d.Size()),
	)
	for _, item := range items {
		if err := d.Enqueue(ctx, item); err != nil {
			return nil, fmt.Errorf("enqueue %s: %w", item.Source, err)
		}
	}
	if err := d.Drain(ctx); err != nil {
		return nil, fmt.Errorf("drain: %w", err)
	}
	return failures.first(), nil
}

// finish persists the run's outputs. The catalog is written first, so a
// failing optional sink never loses merged records.
func (a *App) finish(ctx context.Context, ledger *contributors.Ledger) (Summary, error) {
	now := a.deps.Clock.Now()
	a.mu.RLock()
	store, mode := a.store, a.mode
	a.mu.RUnlock()

	snapshot, err := store.Encode()
	if err != nil {
		return Summary{}, err
	}
	uri, err := a.deps.Blobs.PutObject(ctx, a.cfg.Storage.CatalogPath, "application/json", snapshot)
	if err != nil {
		return Summary{}, fmt.Errorf("write catalog: %w", err)
	}
	digest := a.hasher.Hash(snapshot)
	a.logger.Info("catalog written", zap.String("uri", uri), zap.String("sha256", digest), zap.Int("records", store.Len()))

	if ledger != nil {
		data, err := ledger.Encode()
		if err != nil {
			return Summary{}, err
		}
		if _, err := a.deps.Blobs.PutObject(ctx, a.cfg.Storage.ContributorsPath, "application/json", data); err != nil {
			return Summary{}, fmt.Errorf("write contributors: %w", err)
		}
	}

	if a.deps.Mirror != nil {
		if err := a.mirror(ctx, store, now); err != nil {
			a.reporter.Warnf(ContextMirror, "Unable to mirror catalog: %v", err)
		}
	}

	counts := a.reporter.Counts()
	summary := Summary{
		RunID:      a.runID,
		Mode:       mode.String(),
		Records:    int(a.merged.Load()),
		Failures:   counts.Failures,
		Warnings:   counts.Warnings,
		Digest:     digest,
		FinishedAt: now,
	}
	if a.deps.Publisher != nil {
		id, err := a.deps.Publisher.Publish(ctx, RunFinishedEvent, summary)
		if err != nil {
			a.reporter.Warnf(ContextPublish, "Unable to publish run summary: %v", err)
			summary.Warnings++
		} else {
			a.logger.Debug("run summary published", zap.String("message_id", id))
		}
	}

	if err := a.flushReport(ctx); err != nil {
		return summary, err
	}
	if err := metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("metrics push failed", zap.Error(err))
	}
	a.finished.Store(true)
	a.logger.Info("sync finished",
		zap.Int("records", summary.Records),
		zap.Int("warnings", summary.Warnings),
		zap.Int("failures", summary.Failures),
	)
	return summary, nil
}

func (a *App) mirror(ctx context.Context, store *catalog.Store, syncedAt time.Time) error {
	if err := a.deps.Mirror.EnsureSchema(ctx); err != nil {
		return err
	}
	return a.deps.Mirror.Upsert(ctx, store.Entries(), syncedAt)
}

func (a *App) flushReport(ctx context.Context) error {
	err := a.reporter.Flush(ctx, a.deps.Blobs, report.Paths{
		Exceptions: a.cfg.Report.ExceptionsPath,
		Comment:    a.cfg.Report.CommentPath,
	})
	if err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// countingStore counts merges for status and the run summary.
type countingStore struct {
	store  *catalog.Store
	merged *atomic.Int64
}

func (c *countingStore) Merge(a catalog.Assembly, opts catalog.MergeOptions) catalog.MergeResult {
	res := c.store.Merge(a, opts)
	c.merged.Add(1)
	return res
}

// failureLog forwards to the run reporter and keeps the first item failure.
type failureLog struct {
	*report.Reporter
	mu  sync.Mutex
	err error
}

func (f *failureLog) Fail(scope string, err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.Reporter.Fail(scope, err)
}

func (f *failureLog) first() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}
