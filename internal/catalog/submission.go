package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type submissionPayload struct {
	GitHubURL          string          `json:"github_url"`
	Categories         json.RawMessage `json:"categories"`
	OtherCategory      string          `json:"other_category"`
	Comment            string          `json:"comment"`
	AdditionalComments string          `json:"additional_comments"`
	ScannerMapping     json.RawMessage `json:"scanner_mapping"`
}

// ParseSubmission decodes an issue form payload. categories may be a
// comma-joined string or a list. scanner_mapping may be an object or a string
// holding JSON, optionally wrapped in a ```JSON fence.
func ParseSubmission(data []byte) (*Submission, error) {
	var p submissionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSubmission, err)
	}
	if strings.TrimSpace(p.GitHubURL) == "" {
		return nil, fmt.Errorf("%w: no github url provided", ErrInvalidSubmission)
	}
	if isAbsent(p.Categories) {
		return nil, fmt.Errorf("%w: no categories provided", ErrInvalidSubmission)
	}
	if isAbsent(p.ScannerMapping) {
		return nil, fmt.Errorf("%w: no scanner mapping provided", ErrInvalidSubmission)
	}

	categories, err := parseCategories(p.Categories)
	if err != nil {
		return nil, err
	}
	mapping, err := parseScannerMapping(p.ScannerMapping)
	if err != nil {
		return nil, err
	}

	comment := p.Comment
	if strings.TrimSpace(comment) == "" {
		comment = p.AdditionalComments
	}

	return &Submission{
		GitHubURL:      strings.TrimSpace(p.GitHubURL),
		Categories:     categories,
		OtherCategory:  strings.TrimSpace(p.OtherCategory),
		Comment:        comment,
		ScannerMapping: mapping,
	}, nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseCategories(raw json.RawMessage) (Categories, error) {
	var joined string
	if err := json.Unmarshal(raw, &joined); err == nil {
		return splitCategories(joined), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: categories must be a string or list", ErrInvalidSubmission)
	}
	out := make(Categories, 0, len(list))
	for _, c := range list {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out, nil
}

func splitCategories(joined string) Categories {
	parts := strings.Split(joined, ",")
	out := make(Categories, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseScannerMapping(raw json.RawMessage) (ScannerMapping, error) {
	body := bytes.TrimSpace(raw)
	var text string
	if err := json.Unmarshal(body, &text); err == nil {
		body = []byte(unfence(text))
	}
	var mapping ScannerMapping
	if err := json.Unmarshal(body, &mapping); err != nil {
		return nil, fmt.Errorf("%w: invalid scanner mapping: %w", ErrInvalidSubmission, err)
	}
	if mapping == nil {
		mapping = ScannerMapping{}
	}
	return mapping, nil
}

// unfence strips a surrounding ``` fence and an optional JSON language tag.
func unfence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`")
	s = strings.TrimSpace(s)
	for _, tag := range []string{"JSON", "json"} {
		if strings.HasPrefix(s, tag) {
			s = strings.TrimPrefix(s, tag)
			break
		}
	}
	return strings.TrimSpace(s)
}
