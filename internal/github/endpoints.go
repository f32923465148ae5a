package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Repo names a repository for the typed endpoint helpers.
type Repo struct {
	Owner string
	Name  string
}

func (r Repo) path() string {
	return "/repos/" + url.PathEscape(r.Owner) + "/" + url.PathEscape(r.Name)
}

// License is the license summary on a repository.
type License struct {
	Name string  `json:"name"`
	URL  *string `json:"url"`
}

// Owner is the account owning a repository.
type Owner struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Repository is the subset of the repository payload the catalog uses.
type Repository struct {
	ID              int64    `json:"id"`
	Name            string   `json:"name"`
	FullName        string   `json:"full_name"`
	HTMLURL         string   `json:"html_url"`
	Description     *string  `json:"description"`
	Homepage        *string  `json:"homepage"`
	DefaultBranch   string   `json:"default_branch"`
	Archived        bool     `json:"archived"`
	Disabled        bool     `json:"disabled"`
	HasDiscussions  bool     `json:"has_discussions"`
	HasDownloads    bool     `json:"has_downloads"`
	HasIssues       bool     `json:"has_issues"`
	HasWiki         bool     `json:"has_wiki"`
	ForksCount      int      `json:"forks_count"`
	StargazersCount int      `json:"stargazers_count"`
	Owner           Owner    `json:"owner"`
	License         *License `json:"license"`
}

// Issue is an open issue or pull request.
type Issue struct {
	Number      int             `json:"number"`
	PullRequest json.RawMessage `json:"pull_request"`
}

// IsPullRequest reports whether the issue carries the pull request marker.
func (i Issue) IsPullRequest() bool {
	return len(i.PullRequest) > 0 && string(i.PullRequest) != "null"
}

// Pages is the GitHub Pages site configuration.
type Pages struct {
	HTMLURL string `json:"html_url"`
}

// Asset is a release attachment.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Release is a published or draft release.
type Release struct {
	Name        *string `json:"name"`
	TagName     string  `json:"tag_name"`
	Draft       bool    `json:"draft"`
	Prerelease  bool    `json:"prerelease"`
	PublishedAt *string `json:"published_at"`
	ZipballURL  string  `json:"zipball_url"`
	Assets      []Asset `json:"assets"`
}

// Branch is a branch head.
type Branch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

// Commit is the subset of a commit payload holding the authorship date.
type Commit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Author *struct {
			Date string `json:"date"`
		} `json:"author"`
	} `json:"commit"`
}

// AuthorDate returns the author date, or "" when absent.
func (c Commit) AuthorDate() string {
	if c.Commit.Author == nil {
		return ""
	}
	return c.Commit.Author.Date
}

// Content types reported by the contents endpoint.
const (
	ContentFile = "file"
	ContentDir  = "dir"
)

// ContentEntry is one item of a contents listing.
type ContentEntry struct {
	Name        string  `json:"name"`
	Path        string  `json:"path"`
	Type        string  `json:"type"`
	DownloadURL *string `json:"download_url"`
}

// Repository fetches core repository metadata.
func (c *Client) Repository(ctx context.Context, r Repo) (*Repository, error) {
	resp, err := c.Fetch(ctx, Request{Endpoint: "repo", Path: r.path(), Governed: true})
	if err != nil {
		return nil, err
	}
	var repo Repository
	if err := resp.Decode(&repo); err != nil {
		return nil, fmt.Errorf("repo: %w", err)
	}
	return &repo, nil
}

// Issues lists open issues and pull requests.
func (c *Client) Issues(ctx context.Context, r Repo) ([]Issue, error) {
	return FetchList[Issue](ctx, c, Request{Endpoint: "issues", Path: r.path() + "/issues", Governed: true})
}

// Pages fetches the Pages site configuration. It returns ErrNotFound when the
// repository has no site.
func (c *Client) Pages(ctx context.Context, r Repo) (*Pages, error) {
	resp, err := c.Fetch(ctx, Request{
		Endpoint: "pages",
		Path:     r.path() + "/pages",
		Allowed:  []int{http.StatusOK, http.StatusNotFound},
		Governed: true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("pages: %w", ErrNotFound)
	}
	var pages Pages
	if err := resp.Decode(&pages); err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}
	return &pages, nil
}

// Releases lists releases, drafts included.
func (c *Client) Releases(ctx context.Context, r Repo) ([]Release, error) {
	return FetchList[Release](ctx, c, Request{Endpoint: "releases", Path: r.path() + "/releases", Governed: true})
}

// Branches lists branches.
func (c *Client) Branches(ctx context.Context, r Repo) ([]Branch, error) {
	return FetchList[Branch](ctx, c, Request{Endpoint: "branches", Path: r.path() + "/branches", Governed: true})
}

// Commit fetches one commit.
func (c *Client) Commit(ctx context.Context, r Repo, sha string) (*Commit, error) {
	resp, err := c.Fetch(ctx, Request{
		Endpoint: "commits",
		Path:     r.path() + "/commits/" + url.PathEscape(sha),
		Governed: true,
	})
	if err != nil {
		return nil, err
	}
	var commit Commit
	if err := resp.Decode(&commit); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &commit, nil
}

// Contents lists a directory. An empty path lists the repository root. It
// returns ErrNotFound when the path does not exist.
func (c *Client) Contents(ctx context.Context, r Repo, path string) ([]ContentEntry, error) {
	resp, err := c.contents(ctx, r, path)
	if err != nil {
		return nil, err
	}
	if !isJSONArray(resp.Body) {
		return nil, fmt.Errorf("contents %q: not a directory", path)
	}
	var entries []ContentEntry
	if err := resp.Decode(&entries); err != nil {
		return nil, fmt.Errorf("contents %q: %w", path, err)
	}
	return entries, nil
}

// Stat describes the item at path. Directories report Type "dir". It returns
// ErrNotFound when the path does not exist.
func (c *Client) Stat(ctx context.Context, r Repo, path string) (*ContentEntry, error) {
	resp, err := c.contents(ctx, r, path)
	if err != nil {
		return nil, err
	}
	if isJSONArray(resp.Body) {
		trimmed := strings.Trim(path, "/")
		name := trimmed[strings.LastIndex(trimmed, "/")+1:]
		return &ContentEntry{Name: name, Path: trimmed, Type: ContentDir}, nil
	}
	var entry ContentEntry
	if err := resp.Decode(&entry); err != nil {
		return nil, fmt.Errorf("contents %q: %w", path, err)
	}
	return &entry, nil
}

func (c *Client) contents(ctx context.Context, r Repo, path string) (*Response, error) {
	resp, err := c.Fetch(ctx, Request{
		Endpoint:    "contents",
		Path:        r.path() + "/contents" + escapePath(path),
		Allowed:     []int{http.StatusOK, http.StatusNotFound},
		MaxAttempts: c.cfg.ContentsMaxAttempts,
		Governed:    true,
	})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("contents %q: %w", path, ErrNotFound)
	}
	return resp, nil
}

// RateLimit reads current quota usage with a single ungoverned attempt.
func (c *Client) RateLimit(ctx context.Context) (*RateLimitStatus, error) {
	resp, err := c.Fetch(ctx, Request{Endpoint: "rate_limit", Path: "/rate_limit", MaxAttempts: 1})
	if err != nil {
		return nil, err
	}
	var status RateLimitStatus
	if err := resp.Decode(&status); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return &status, nil
}

func escapePath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return ""
	}
	segments := strings.Split(trimmed, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/" + strings.Join(segments, "/")
}

func isJSONArray(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return len(trimmed) > 0 && trimmed[0] == '['
}
