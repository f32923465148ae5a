package assembler

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/github"
)

// localFields validates the submission against the live tree. Invalid
// scanner paths are dropped with a warning; the rest of the submission is
// kept.
func (a *Assembler) localFields(ctx context.Context, repo github.Repo, sub *catalog.Submission) *catalog.LocalFields {
	ctx, span := a.tracer.Start(ctx, "submission")
	defer span.End()

	categories := append(catalog.Categories(nil), sub.Categories...)
	if len(categories) == 0 {
		a.warn.Warn(ContextCategories, "No categories selected")
		categories = catalog.Categories{catalog.CategoriesUnset}
	}

	mapping := catalog.DefaultScannerMapping()
	for _, key := range sub.ScannerMapping.UnknownKeys() {
		a.warn.Warnf(ContextScannerMapping, "Unknown scanner category: %s", key)
	}
	accepted := 0
	for _, category := range catalog.ScannerCategories {
		for _, scanner := range sub.ScannerMapping[category] {
			if a.validScanner(ctx, repo, scanner) {
				mapping[category] = append(mapping[category], scanner)
				accepted++
			}
		}
	}

	if categories.Contains(scannerCategory) && accepted == 0 && !a.hasScannersDir(ctx, repo) {
		a.warn.Warn(ContextScanners, "No valid scanners found.")
	}
	return &catalog.LocalFields{Categories: categories, ScannerMapping: mapping}
}

func (a *Assembler) validScanner(ctx context.Context, repo github.Repo, scanner string) bool {
	if !strings.HasSuffix(scanner, scannerExtension) {
		a.warn.Warnf(ContextScannerMapping, "Invalid file extension for scanner: %s", scanner)
		return false
	}
	entry, err := a.api.Stat(ctx, repo, scanner)
	if err != nil {
		if !errors.Is(err, github.ErrNotFound) {
			a.logger.Debug("scanner lookup failed", zap.String("scanner", scanner), zap.Error(err))
		}
		a.warn.Warnf(ContextScannerMapping, "Invalid scanner path: %s", scanner)
		return false
	}
	if entry.Type != github.ContentFile {
		a.warn.Warnf(ContextScannerMapping, "Found \"%s\" but it is not a file.", scanner)
		return false
	}
	return true
}

// hasScannersDir looks for a Scanners directory holding at least one scanner
// category directory.
func (a *Assembler) hasScannersDir(ctx context.Context, repo github.Repo) bool {
	entries, err := a.api.Contents(ctx, repo, scannersDir)
	if err != nil {
		a.warn.Warn(ContextScanners, "No \"Scanners\" directory found in repo.")
		return false
	}
	for _, entry := range entries {
		if !catalog.IsScannerCategory(entry.Name) {
			continue
		}
		if entry.Type != github.ContentDir {
			a.warn.Warnf(ContextScanners, "Found \"%s\" but it is not a directory.", entry.Name)
			continue
		}
		return true
	}
	return false
}
