// Package catalog defines the plugin catalog record model, the keyed store that
// holds it, and the merge rules that reconcile fresh GitHub metadata with
// locally curated fields.
package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StoreKey is the numeric repository id assigned by GitHub. It survives
// renames, unlike the owner/repo pair.
type StoreKey int64

// String renders the key the way it is stored in the catalog snapshot.
func (k StoreKey) String() string {
	return strconv.FormatInt(int64(k), 10)
}

// ParseStoreKey parses a snapshot key.
func ParseStoreKey(s string) (StoreKey, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse store key %q: %w", s, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("store key %q must be positive", s)
	}
	return StoreKey(v), nil
}

// Mode selects how local fields are sourced during a merge.
type Mode int

// Supported sync modes.
const (
	ModeBulkRefresh Mode = iota + 1
	ModeSingleSubmission
)

func (m Mode) String() string {
	switch m {
	case ModeBulkRefresh:
		return "bulk_refresh"
	case ModeSingleSubmission:
		return "single_submission"
	default:
		return "unknown"
	}
}

// Download types used in the release/branch timeline.
const (
	DownloadRelease = "release"
	DownloadBranch  = "branch"
)

// Download is one entry of the release+branch timeline. Fields are declared
// in JSON key order so encoded snapshots stay sorted.
type Download struct {
	BundleURL      string            `json:"bundle_url"`
	CommitSHA      string            `json:"commit_sha,omitempty"`
	Date           string            `json:"date"`
	DefaultBranch  *bool             `json:"default_branch,omitempty"`
	DownloadAssets map[string]string `json:"download_assets"`
	Name           string            `json:"name"`
	Prerelease     *bool             `json:"prerelease,omitempty"`
	ReleaseTag     string            `json:"release_tag,omitempty"`
	Type           string            `json:"type"`
}

// CategoriesUnset marks a submission that selected no category. It is stored
// as a bare string rather than a list.
const CategoriesUnset = ":bangbang: NONE :bangbang:"

// Categories is the curated category list. Older snapshots stored a bare
// string, so decoding accepts either form. Record keeps track of the stored
// form and writes a bare string back unchanged.
type Categories []string

// UnmarshalJSON accepts a list, a single string, or null.
func (c *Categories) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*c = nil
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("decode categories: %w", err)
		}
		*c = Categories{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(trimmed, &list); err != nil {
		return fmt.Errorf("decode categories: %w", err)
	}
	*c = list
	return nil
}

// Contains reports whether name is one of the categories.
func (c Categories) Contains(name string) bool {
	for _, v := range c {
		if v == name {
			return true
		}
	}
	return false
}

// ScannerCategories are the fixed scanner mapping keys.
var ScannerCategories = []string{"Common", "Movies", "Music", "Series"}

// IsScannerCategory reports whether name is a scanner mapping key.
func IsScannerCategory(name string) bool {
	for _, c := range ScannerCategories {
		if c == name {
			return true
		}
	}
	return false
}

// ScannerMapping maps each scanner category to repository-relative script paths.
type ScannerMapping map[string][]string

// DefaultScannerMapping returns the empty four-category skeleton.
func DefaultScannerMapping() ScannerMapping {
	m := make(ScannerMapping, len(ScannerCategories))
	for _, c := range ScannerCategories {
		m[c] = []string{}
	}
	return m
}

// Count returns the number of scanner paths across all categories.
func (m ScannerMapping) Count() int {
	n := 0
	for _, paths := range m {
		n += len(paths)
	}
	return n
}

// Clone deep-copies the mapping.
func (m ScannerMapping) Clone() ScannerMapping {
	if m == nil {
		return nil
	}
	out := make(ScannerMapping, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}

// UnknownKeys lists keys that are not scanner categories, sorted.
func (m ScannerMapping) UnknownKeys() []string {
	var out []string
	for k := range m {
		if !IsScannerCategory(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// LocalFields are the curated values a submission supplies.
type LocalFields struct {
	Categories     Categories
	ScannerMapping ScannerMapping
}

// Submission is a user request to add or update one catalog entry.
type Submission struct {
	GitHubURL      string
	Categories     Categories
	OtherCategory  string
	Comment        string
	ScannerMapping ScannerMapping
}

// QueueItem is one unit of work for the worker pool. Submission is nil in
// bulk refresh mode.
type QueueItem struct {
	Source     string
	Submission *Submission
	// Seq is assigned by the queue on enqueue.
	Seq uint64
}
