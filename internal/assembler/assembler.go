// Package assembler runs the ordered GitHub calls for one repository and
// turns the responses into a catalog assembly ready to merge.
package assembler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/catalog"
	"github.com/JakeFAU/reposync/internal/github"
)

// ErrMissingIdentity is returned when the repository payload cannot be
// fetched or carries no id. The item is dropped without touching the store.
var ErrMissingIdentity = errors.New("missing repository identity")

// Warning contexts reported by the assembler.
const (
	ContextCategories     = "categories"
	ContextScannerMapping = "scanner_mapping"
	ContextScanners       = "scanners"
	ContextWiki           = "GitHub Wiki"
	ContextIssues         = "issues"
	ContextPages          = "pages"
	ContextReleases       = "releases"
	ContextBranches       = "branches"
	ContextContents       = "contents"
)

const (
	defaultSiteURL      = "https://github.com"
	defaultMaxTreeDepth = 8
	scannerCategory     = "Scanner"
	scannersDir         = "Scanners"
	scannerExtension    = ".py"
)

// API is the subset of the GitHub client the assembler calls.
type API interface {
	Repository(ctx context.Context, r github.Repo) (*github.Repository, error)
	Issues(ctx context.Context, r github.Repo) ([]github.Issue, error)
	Pages(ctx context.Context, r github.Repo) (*github.Pages, error)
	Releases(ctx context.Context, r github.Repo) ([]github.Release, error)
	Branches(ctx context.Context, r github.Repo) ([]github.Branch, error)
	Commit(ctx context.Context, r github.Repo, sha string) (*github.Commit, error)
	Contents(ctx context.Context, r github.Repo, path string) ([]github.ContentEntry, error)
	Stat(ctx context.Context, r github.Repo, path string) (*github.ContentEntry, error)
	HasElevatedToken() bool
}

// WikiProber reports whether a repository wiki has any pages.
type WikiProber interface {
	HasPages(ctx context.Context, owner, repo string) (bool, error)
}

// Warner receives recoverable failures.
type Warner interface {
	Warn(scope, message string)
	Warnf(scope, format string, args ...any)
}

// Config tunes the assembler.
type Config struct {
	// SiteURL is the web root used for branch archive links.
	SiteURL string
	// MaxTreeDepth bounds the contents walk.
	MaxTreeDepth int
}

// Assembler builds catalog assemblies. It is safe for concurrent use.
type Assembler struct {
	api    API
	wiki   WikiProber
	warn   Warner
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New builds an Assembler. wiki may be nil, which skips the probe and trusts
// the has_wiki flag.
func New(api API, wiki WikiProber, warn Warner, cfg Config, logger *zap.Logger) *Assembler {
	if cfg.SiteURL == "" {
		cfg.SiteURL = defaultSiteURL
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.MaxTreeDepth <= 0 {
		cfg.MaxTreeDepth = defaultMaxTreeDepth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		api:    api,
		wiki:   wiki,
		warn:   warn,
		cfg:    cfg,
		logger: logger.Named("assembler"),
		tracer: otel.Tracer("github.com/JakeFAU/reposync/internal/assembler"),
	}
}

// Assemble runs every step for id. sub is nil for bulk refreshes. Only a
// failed repository fetch is fatal; every later step degrades to an empty
// value and a warning.
func (a *Assembler) Assemble(ctx context.Context, id catalog.Identifier, sub *catalog.Submission) (catalog.Assembly, error) {
	ctx, span := a.tracer.Start(ctx, "assemble", trace.WithAttributes(
		attribute.String("repo", id.String()),
		attribute.Bool("submission", sub != nil),
	))
	defer span.End()

	repo := github.Repo{Owner: id.Owner, Name: id.Repo}
	meta, err := a.repository(ctx, repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing identity")
		return catalog.Assembly{}, err
	}
	span.SetAttributes(attribute.Int64("repo.id", meta.ID))

	remote := remoteRecord(meta)
	remote.OpenIssuesCount, remote.OpenPullRequestsCount = a.issueCounts(ctx, repo)
	remote.GHPagesURL = a.pagesURL(ctx, repo)

	downloads := a.releaseDownloads(ctx, repo)
	downloads = append(downloads, a.branchDownloads(ctx, repo, meta.DefaultBranch)...)
	sortDownloads(downloads)
	remote.Downloads = downloads

	images := a.walkImages(ctx, repo)
	remote.ThumbImageURL = images.thumb
	remote.AttributionImageURL = images.attribution

	out := catalog.Assembly{
		Key:    catalog.StoreKey(meta.ID),
		Remote: remote,
	}
	if sub != nil {
		out.Local = a.localFields(ctx, repo, sub)
	}
	if meta.HasWiki {
		out.WikiEmpty = a.wikiEmpty(ctx, id)
	}
	a.logger.Debug("assembled repository",
		zap.String("repo", id.String()),
		zap.Int64("id", meta.ID),
		zap.Int("downloads", len(downloads)),
	)
	return out, nil
}

func (a *Assembler) repository(ctx context.Context, repo github.Repo) (*github.Repository, error) {
	ctx, span := a.tracer.Start(ctx, "repository")
	defer span.End()
	meta, err := a.api.Repository(ctx, repo)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %w", ErrMissingIdentity, repo.Owner, repo.Name, err)
	}
	if meta == nil || meta.ID <= 0 {
		return nil, fmt.Errorf("%w: %s/%s: no id in response", ErrMissingIdentity, repo.Owner, repo.Name)
	}
	return meta, nil
}

func remoteRecord(meta *github.Repository) catalog.Record {
	rec := catalog.Record{
		Archived:        meta.Archived,
		AvatarImageURL:  meta.Owner.AvatarURL,
		DefaultBranch:   meta.DefaultBranch,
		Description:     meta.Description,
		Disabled:        meta.Disabled,
		ForksCount:      meta.ForksCount,
		FullName:        meta.FullName,
		HasDiscussions:  meta.HasDiscussions,
		HasDownloads:    meta.HasDownloads,
		HasIssues:       meta.HasIssues,
		HasWiki:         meta.HasWiki,
		Homepage:        meta.Homepage,
		HTMLURL:         meta.HTMLURL,
		Name:            meta.Name,
		StargazersCount: meta.StargazersCount,
	}
	if meta.License != nil {
		name := meta.License.Name
		rec.License = &name
		rec.LicenseURL = meta.License.URL
	}
	return rec
}

func (a *Assembler) issueCounts(ctx context.Context, repo github.Repo) (issues, pulls int) {
	ctx, span := a.tracer.Start(ctx, "issues")
	defer span.End()
	list, err := a.api.Issues(ctx, repo)
	if err != nil {
		a.warn.Warnf(ContextIssues, "Unable to list issues for %s/%s: %v", repo.Owner, repo.Name, err)
		return 0, 0
	}
	for _, issue := range list {
		if issue.IsPullRequest() {
			pulls++
		} else {
			issues++
		}
	}
	return issues, pulls
}

// pagesURL needs a token with repo scope, so it only runs with the elevated
// token.
func (a *Assembler) pagesURL(ctx context.Context, repo github.Repo) *string {
	if !a.api.HasElevatedToken() {
		return nil
	}
	ctx, span := a.tracer.Start(ctx, "pages")
	defer span.End()
	pages, err := a.api.Pages(ctx, repo)
	if errors.Is(err, github.ErrNotFound) {
		return nil
	}
	if err != nil {
		a.warn.Warnf(ContextPages, "Unable to fetch pages for %s/%s: %v", repo.Owner, repo.Name, err)
		return nil
	}
	if pages.HTMLURL == "" {
		return nil
	}
	u := pages.HTMLURL
	return &u
}

func (a *Assembler) wikiEmpty(ctx context.Context, id catalog.Identifier) bool {
	if a.wiki == nil {
		return false
	}
	ctx, span := a.tracer.Start(ctx, "wiki")
	defer span.End()
	has, err := a.wiki.HasPages(ctx, id.Owner, id.Repo)
	if err != nil {
		a.warn.Warnf(ContextWiki, "Unable to search wiki for %s/%s", id.Owner, id.Repo)
		return true
	}
	return !has
}
