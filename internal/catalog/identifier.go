package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Errors returned by the catalog package.
var (
	// ErrInvalidURL indicates a source string carries no github.com owner/repo pair.
	ErrInvalidURL = errors.New("invalid github repository url")
	// ErrInvalidSubmission indicates a malformed submission payload.
	ErrInvalidSubmission = errors.New("invalid submission")
)

// Identifier is the owner/repo pair parsed from a repository URL.
type Identifier struct {
	Owner string
	Repo  string
}

func (id Identifier) String() string {
	return id.Owner + "/" + id.Repo
}

var githubURLPattern = regexp.MustCompile(`(?:^|[/@.])github\.com[/:]([A-Za-z0-9-]+)/([A-Za-z0-9._-]+)`)

// ParseIdentifier extracts the owner/repo pair from a GitHub URL. Trailing
// path segments, a trailing slash and a ".git" suffix are ignored.
func ParseIdentifier(source string) (Identifier, error) {
	m := githubURLPattern.FindStringSubmatch(strings.TrimSpace(source))
	if m == nil {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidURL, source)
	}
	repo := strings.TrimSuffix(m[2], ".git")
	if repo == "" || repo == "." || repo == ".." {
		return Identifier{}, fmt.Errorf("%w: %q", ErrInvalidURL, source)
	}
	return Identifier{Owner: m[1], Repo: repo}, nil
}
