// Package report collects the recoverable failures of a run and renders them
// as the markdown exception artifact.
package report

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/metrics"
	"github.com/JakeFAU/reposync/internal/storage"
)

// Entry is one reported failure.
type Entry struct {
	Context string `json:"context"`
	Message string `json:"message"`
	// Fatal marks failures that dropped an item from the run.
	Fatal bool `json:"fatal"`
}

// Counts summarizes the entries of a run.
type Counts struct {
	Warnings int `json:"warnings"`
	Failures int `json:"failures"`
}

// Reporter is an ordered, goroutine-safe collector of entries.
type Reporter struct {
	mu      sync.Mutex
	entries []Entry
	logger  *zap.Logger
}

// New builds a Reporter that also logs every entry.
func New(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{logger: logger.Named("report")}
}

// Warn records a recoverable failure.
func (r *Reporter) Warn(scope, message string) {
	r.add(Entry{Context: scope, Message: message})
	r.logger.Warn(message, zap.String("context", scope))
	metrics.ObserveWarning(scope)
}

// Warnf is Warn with formatting.
func (r *Reporter) Warnf(scope, format string, args ...any) {
	r.Warn(scope, fmt.Sprintf(format, args...))
}

// Fail records a failure that dropped an item.
func (r *Reporter) Fail(scope string, err error) {
	r.add(Entry{Context: scope, Message: err.Error(), Fatal: true})
	r.logger.Error("item failed", zap.String("context", scope), zap.Error(err))
}

func (r *Reporter) add(e Entry) {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
}

// Entries returns a copy of the entries in the order they were reported.
func (r *Reporter) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Counts tallies warnings and failures.
func (r *Reporter) Counts() Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	var c Counts
	for _, e := range r.entries {
		if e.Fatal {
			c.Failures++
		} else {
			c.Warnings++
		}
	}
	return c
}

// Markdown renders entries in the exception block format used by the issue
// workflow.
func Markdown(entries []Entry) []byte {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString("# :bangbang: **Exception Occurred** :bangbang:\n\n```txt\n")
		b.WriteString(e.Context)
		b.WriteString(": ")
		b.WriteString(e.Message)
		b.WriteString("\n```\n\n")
	}
	return []byte(b.String())
}

// Paths names the artifacts the report is appended to. Empty paths are skipped.
type Paths struct {
	Exceptions string
	Comment    string
}

// Flush appends the rendered entries to every configured artifact. Nothing
// is written when there are no entries.
func (r *Reporter) Flush(ctx context.Context, store storage.BlobStore, paths Paths) error {
	entries := r.Entries()
	if len(entries) == 0 {
		return nil
	}
	doc := Markdown(entries)
	for _, path := range []string{paths.Exceptions, paths.Comment} {
		if path == "" {
			continue
		}
		if _, err := storage.AppendObject(ctx, store, path, "text/markdown", doc); err != nil {
			return fmt.Errorf("flush report: %w", err)
		}
	}
	return nil
}
