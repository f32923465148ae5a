package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// BundleSuffix is stripped from repository names when stored.
const BundleSuffix = ".bundle"

// Record is the merged catalog entry for one repository.
//
// Remote-authoritative fields are replaced on every refresh. Categories,
// ScannerMapping, the attribution fields and Extra are local and survive
// refreshes. Extra holds any key the catalog does not model explicitly.
type Record struct {
	Archived              bool       `json:"archived"`
	AttributionImageURL   *string    `json:"attribution_image_url"`
	AvatarImageURL        string     `json:"avatar_image_url"`
	DefaultBranch         string     `json:"default_branch"`
	Description           *string    `json:"description"`
	Disabled              bool       `json:"disabled"`
	Downloads             []Download `json:"downloads"`
	ForksCount            int        `json:"forks_count"`
	FullName              string     `json:"full_name"`
	GHPagesURL            *string    `json:"gh_pages_url"`
	HasDiscussions        bool       `json:"has_discussions"`
	HasDownloads          bool       `json:"has_downloads"`
	HasIssues             bool       `json:"has_issues"`
	HasWiki               bool       `json:"has_wiki"`
	Homepage              *string    `json:"homepage"`
	HTMLURL               string     `json:"html_url"`
	License               *string    `json:"license"`
	LicenseURL            *string    `json:"license_url"`
	Name                  string     `json:"name"`
	OpenIssuesCount       int        `json:"open_issues_count"`
	OpenPullRequestsCount int        `json:"open_pull_requests_count"`
	StargazersCount       int        `json:"stargazers_count"`
	ThumbImageURL         *string    `json:"thumb_image_url"`

	Categories     Categories     `json:"categories"`
	ScannerMapping ScannerMapping `json:"scanner_mapping"`
	PluginAddedBy  *string        `json:"plugin_added_by,omitempty"`
	PluginEditedBy *string        `json:"plugin_edited_by,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`

	// categoriesText is set when categories is stored as a bare string.
	categoriesText bool
}

// remoteKeys are owned by GitHub. releases and branches are legacy keys that
// the downloads timeline replaced; they are recognized so they get dropped.
var remoteKeys = map[string]struct{}{
	"archived":                 {},
	"attribution_image_url":    {},
	"avatar_image_url":         {},
	"branches":                 {},
	"default_branch":           {},
	"description":              {},
	"disabled":                 {},
	"downloads":                {},
	"forks_count":              {},
	"full_name":                {},
	"gh_pages_url":             {},
	"has_discussions":          {},
	"has_downloads":            {},
	"has_issues":               {},
	"has_wiki":                 {},
	"homepage":                 {},
	"html_url":                 {},
	"license":                  {},
	"license_url":              {},
	"name":                     {},
	"open_issues_count":        {},
	"open_pull_requests_count": {},
	"releases":                 {},
	"stargazers_count":         {},
	"thumb_image_url":          {},
}

var localKeys = map[string]struct{}{
	"categories":       {},
	"scanner_mapping":  {},
	"plugin_added_by":  {},
	"plugin_edited_by": {},
}

// IsRemoteKey reports whether key is replaced from GitHub on refresh.
func IsRemoteKey(key string) bool {
	_, ok := remoteKeys[key]
	return ok
}

func isModeledKey(key string) bool {
	if _, ok := remoteKeys[key]; ok {
		return true
	}
	_, ok := localKeys[key]
	return ok
}

type recordAlias Record

// MarshalJSON emits modeled fields and Extra as one object with sorted keys.
func (r Record) MarshalJSON() ([]byte, error) {
	base, err := marshalNoEscape(recordAlias(r))
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	for k, v := range r.Extra {
		if isModeledKey(k) {
			continue
		}
		fields[k] = v
	}
	if r.categoriesText && len(r.Categories) == 1 {
		text, err := marshalNoEscape(r.Categories[0])
		if err != nil {
			return nil, fmt.Errorf("encode record: %w", err)
		}
		fields["categories"] = text
	}
	out, err := marshalNoEscape(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON decodes modeled fields and keeps every other key in Extra.
func (r *Record) UnmarshalJSON(data []byte) error {
	var alias recordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	*r = Record(alias)
	r.Extra = nil
	if cats, ok := raw["categories"]; ok {
		trimmed := bytes.TrimSpace(cats)
		r.categoriesText = len(trimmed) > 0 && trimmed[0] == '"'
	}
	for k, v := range raw {
		if isModeledKey(k) {
			continue
		}
		if r.Extra == nil {
			r.Extra = make(map[string]json.RawMessage)
		}
		r.Extra[k] = append(json.RawMessage(nil), v...)
	}
	return nil
}

// remoteOnly copies the GitHub-owned fields into a fresh record.
func (r Record) remoteOnly() Record {
	return Record{
		Archived:              r.Archived,
		AttributionImageURL:   r.AttributionImageURL,
		AvatarImageURL:        r.AvatarImageURL,
		DefaultBranch:         r.DefaultBranch,
		Description:           r.Description,
		Disabled:              r.Disabled,
		Downloads:             r.Downloads,
		ForksCount:            r.ForksCount,
		FullName:              r.FullName,
		GHPagesURL:            r.GHPagesURL,
		HasDiscussions:        r.HasDiscussions,
		HasDownloads:          r.HasDownloads,
		HasIssues:             r.HasIssues,
		HasWiki:               r.HasWiki,
		Homepage:              r.Homepage,
		HTMLURL:               r.HTMLURL,
		License:               r.License,
		LicenseURL:            r.LicenseURL,
		Name:                  r.Name,
		OpenIssuesCount:       r.OpenIssuesCount,
		OpenPullRequestsCount: r.OpenPullRequestsCount,
		StargazersCount:       r.StargazersCount,
		ThumbImageURL:         r.ThumbImageURL,
	}
}

// TrimBundleSuffix removes a trailing ".bundle" token.
func TrimBundleSuffix(name string) string {
	return strings.TrimSuffix(name, BundleSuffix)
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if len(extra) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

func stringPtr(s string) *string {
	return &s
}
