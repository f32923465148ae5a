// Package github is a small client for the fixed set of GitHub REST endpoints
// the sync pipeline reads. Every call goes through Fetch, which applies
// client-side pacing, an optional quota check, and bounded retries with
// exponential backoff.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/reposync/internal/metrics"
)

// Errors returned by the client.
var (
	// ErrAttemptsExhausted wraps the last failure once every attempt is spent.
	ErrAttemptsExhausted = errors.New("attempts exhausted")
	// ErrNotFound reports a 404 on an endpoint where absence is expected.
	ErrNotFound = errors.New("not found")
)

const (
	defaultAPIURL       = "https://api.github.com"
	defaultAPIVersion   = "2022-11-28"
	defaultMaxAttempts  = 8
	defaultMaxPages     = 10
	defaultMaxBodyBytes = 16 << 20
	mediaTypeJSON       = "application/vnd.github+json"
)

// Clock supplies time and cancellable sleeps.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config controls the client.
type Config struct {
	APIURL string
	// Token authenticates every call. ElevatedToken replaces it when set and
	// unlocks endpoints that need repo scope.
	Token               string
	ElevatedToken       string
	APIVersion          string
	UserAgent           string
	Timeout             time.Duration
	MaxAttempts         int
	ContentsMaxAttempts int
	Backoff             Backoff
	// RequestsPerSecond paces calls client-side. Zero disables pacing.
	RequestsPerSecond float64
	QuotaGovernor     bool
	MaxPages          int
	MaxBodyBytes      int64
}

// Request describes one GET.
type Request struct {
	// Endpoint labels the call in logs and metrics.
	Endpoint string
	// Path is relative to the API base URL unless it is absolute.
	Path string
	// Allowed lists the status codes that end the retry loop. Defaults to 200.
	Allowed     []int
	MaxAttempts int
	// Governed runs the quota governor before every attempt.
	Governed bool
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// StatusError reports a status code outside the allowed set.
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.Endpoint, e.StatusCode)
}

// Client issues paced, retried GitHub API calls.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	governor   *Governor
	clock      Clock
	logger     *zap.Logger
}

// NewClient builds a client. A quota governor is attached when
// cfg.QuotaGovernor is set.
func NewClient(cfg Config, clk Clock, logger *zap.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultAPIVersion
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.ContentsMaxAttempts <= 0 {
		cfg.ContentsMaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}

	var transport http.RoundTripper = newHTTPTransport()
	if token := cfg.activeToken(); token != "" {
		transport = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   transport,
		}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		limiter:    rate.NewLimiter(limit, 1),
		clock:      clk,
		logger:     logger.Named("github"),
	}
	if cfg.QuotaGovernor {
		c.governor = NewGovernor(c, clk, logger)
	}
	return c
}

func (cfg Config) activeToken() string {
	if cfg.ElevatedToken != "" {
		return cfg.ElevatedToken
	}
	return cfg.Token
}

// HasElevatedToken reports whether repo-scoped endpoints are reachable.
func (c *Client) HasElevatedToken() bool {
	return c.cfg.ElevatedToken != ""
}

// Governor returns the attached quota governor, or nil.
func (c *Client) Governor() *Governor {
	return c.governor
}

// Fetch performs a GET with retries. Transport failures and statuses outside
// req.Allowed are retried after a backoff sleep; no sleep follows the final
// attempt. Exhaustion returns ErrAttemptsExhausted wrapping the last cause.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	target := c.resolve(req.Path)
	allowed := req.Allowed
	if len(allowed) == 0 {
		allowed = []int{http.StatusOK}
	}
	attempts := req.MaxAttempts
	if attempts <= 0 {
		attempts = c.cfg.MaxAttempts
	}
	endpoint := req.Endpoint
	if endpoint == "" {
		endpoint = "unknown"
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if req.Governed && c.governor != nil {
			if err := c.governor.AwaitCapacity(ctx, PoolCore); err != nil {
				return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
			}
		}

		resp, err := c.do(ctx, endpoint, target)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, fmt.Errorf("fetch %s: %w", endpoint, ctx.Err())
			}
			lastErr = err
		case slices.Contains(allowed, resp.StatusCode):
			return resp, nil
		default:
			lastErr = &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
		}

		c.logger.Debug("github attempt failed",
			zap.String("endpoint", endpoint),
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(lastErr),
		)
		if attempt == attempts {
			break
		}
		metrics.ObserveRetry(endpoint)
		if err := c.clock.Sleep(ctx, c.cfg.Backoff.Delay(attempt)); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", endpoint, err)
		}
	}
	return nil, fmt.Errorf("fetch %s after %d attempts: %w: %w", endpoint, attempts, ErrAttemptsExhausted, lastErr)
}

func (c *Client) do(ctx context.Context, endpoint, target string) (*Response, error) {
	start := time.Now()
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(waited)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Accept", mediaTypeJSON)
	httpReq.Header.Set("X-GitHub-Api-Version", c.cfg.APIVersion)
	if c.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		metrics.ObserveAPIRequest(endpoint, 0)
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	metrics.ObserveAPIRequest(endpoint, resp.StatusCode)

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > c.cfg.MaxBodyBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", c.cfg.MaxBodyBytes)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.cfg.APIURL + path
}

// FetchList follows rel="next" links and concatenates every page, up to the
// configured page cap.
func FetchList[T any](ctx context.Context, c *Client, req Request) ([]T, error) {
	var out []T
	next := withPerPage(req.Path)
	for page := 0; next != "" && page < c.cfg.MaxPages; page++ {
		req.Path = next
		resp, err := c.Fetch(ctx, req)
		if err != nil {
			return out, err
		}
		var items []T
		if err := resp.Decode(&items); err != nil {
			return out, fmt.Errorf("%s page %d: %w", req.Endpoint, page+1, err)
		}
		out = append(out, items...)
		next = nextLink(resp.Header.Get("Link"))
	}
	return out, nil
}

func withPerPage(path string) string {
	if strings.Contains(path, "per_page=") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "per_page=100"
}

// nextLink extracts the rel="next" target from an RFC 8288 Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "rel") {
				continue
			}
			for _, rel := range strings.Fields(strings.Trim(strings.TrimSpace(value), `"`)) {
				if rel == "next" {
					return target[1 : len(target)-1]
				}
			}
		}
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
