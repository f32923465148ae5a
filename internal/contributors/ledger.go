// Package contributors keeps the per-user contribution counts behind
// contributors.json.
package contributors

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Stats counts one user's contributions.
type Stats struct {
	ItemsAdded  int `json:"items_added"`
	ItemsEdited int `json:"items_edited"`
}

// Ledger maps user ids to Stats.
type Ledger struct {
	mu    sync.Mutex
	users map[string]Stats
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{users: make(map[string]Stats)}
}

// Decode parses a contributors.json document. Empty input yields an empty ledger.
func Decode(data []byte) (*Ledger, error) {
	l := New()
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.users); err != nil {
		return nil, fmt.Errorf("decode contributors: %w", err)
	}
	if l.users == nil {
		l.users = make(map[string]Stats)
	}
	return l, nil
}

// Record counts a contribution. A user seen for the first time always starts
// with one added item.
func (l *Ledger) Record(userID string, first bool) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.users[userID]
	switch {
	case !ok:
		s = Stats{ItemsAdded: 1}
	case first:
		s.ItemsAdded++
	default:
		s.ItemsEdited++
	}
	l.users[userID] = s
	return s
}

// Get returns the stats for userID.
func (l *Ledger) Get(userID string) (Stats, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.users[userID]
	return s, ok
}

// Encode renders the ledger with sorted keys and four-space indentation.
func (l *Ledger) Encode() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	data, err := json.MarshalIndent(l.users, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("encode contributors: %w", err)
	}
	return append(data, '\n'), nil
}
