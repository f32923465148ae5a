// Package wiki probes github.com search to learn whether a repository wiki
// actually has pages. The REST API reports has_wiki=true for every repository
// with the feature enabled, even when the wiki is empty.
package wiki

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/reposync/internal/github"
)

// ErrProbeFailed wraps the last failure once every probe attempt is spent.
var ErrProbeFailed = errors.New("wiki probe failed")

const defaultSiteURL = "https://github.com"

// Config controls the prober.
type Config struct {
	SiteURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     github.Backoff
}

// Governor gates each probe attempt on API quota.
type Governor interface {
	AwaitCapacity(ctx context.Context, pools ...string) error
}

// Prober runs the wiki search with a colly collector.
type Prober struct {
	cfg           Config
	baseCollector *colly.Collector
	clock         github.Clock
	governor      Governor
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type probeResult struct {
	status int
	body   string
}

// New builds a Prober. governor may be nil.
func New(cfg Config, clk github.Clock, governor Governor, logger *zap.Logger) *Prober {
	if cfg.SiteURL == "" {
		cfg.SiteURL = defaultSiteURL
	}
	cfg.SiteURL = strings.TrimRight(cfg.SiteURL, "/")
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	return &Prober{
		cfg:           cfg,
		baseCollector: c,
		clock:         clk,
		governor:      governor,
		logger:        logger.Named("wiki"),
	}
}

// SearchURL returns the wiki search page for owner/repo.
func (p *Prober) SearchURL(owner, repo string) string {
	return fmt.Sprintf("%s/search?q=%s&type=wikis", p.cfg.SiteURL, url.QueryEscape("repo:"+owner+"/"+repo))
}

// HasPages reports whether the wiki search matched any page. Non-200
// responses and transport failures are retried with backoff.
func (p *Prober) HasPages(ctx context.Context, owner, repo string) (bool, error) {
	target := p.SearchURL(owner, repo)
	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("wiki probe: %w", err)
		}
		if p.governor != nil {
			if err := p.governor.AwaitCapacity(ctx, github.PoolCore); err != nil {
				return false, fmt.Errorf("wiki probe: %w", err)
			}
		}
		res, err := p.visit(ctx, target)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return false, fmt.Errorf("wiki probe: %w", ctx.Err())
			}
			lastErr = err
		case res.status == http.StatusOK:
			return !noMatches(res.body, owner, repo), nil
		default:
			lastErr = fmt.Errorf("unexpected status %d", res.status)
		}
		p.logger.Debug("wiki probe attempt failed",
			zap.String("repo", owner+"/"+repo),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
		if attempt == p.cfg.MaxAttempts {
			break
		}
		if err := p.clock.Sleep(ctx, p.cfg.Backoff.Delay(attempt)); err != nil {
			return false, fmt.Errorf("wiki probe: %w", err)
		}
	}
	return false, fmt.Errorf("%w for %s/%s: %w", ErrProbeFailed, owner, repo, lastErr)
}

// noMatches looks for the empty-result banners github.com renders for
// anonymous and signed-in sessions.
func noMatches(body, owner, repo string) bool {
	anonymous := fmt.Sprintf("We couldn’t find any wiki pages matching &#39;repo:%s/%s&#39;", owner, repo)
	return strings.Contains(body, anonymous) ||
		strings.Contains(body, "Your search did not match any <!-- -->wikis")
}

func (p *Prober) visit(ctx context.Context, target string) (probeResult, error) {
	var (
		result   probeResult
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}
	collector.SetRequestTimeout(p.cfg.Timeout)
	p.configureCollectorHooks(collector, &result, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return probeResult{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if result.status != 0 {
			return result, nil
		}
		if fetchErr != nil {
			return probeResult{}, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		if err != nil {
			return probeResult{}, fmt.Errorf("colly visit failed: %w", err)
		}
		return probeResult{}, errors.New("colly returned no response")
	}
}

func (p *Prober) configureCollectorHooks(hooks collectorHooks, result *probeResult, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*result = probeResult{status: r.StatusCode, body: string(r.Body)}
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*result = probeResult{status: r.StatusCode, body: string(r.Body)}
			return
		}
		*fetchErr = err
	})
}
