package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Store is the in-memory catalog keyed by repository id. Every
// read-modify-write happens under one mutex.
type Store struct {
	mu      sync.Mutex
	records map[StoreKey]Record
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{records: make(map[StoreKey]Record)}
}

// DecodeStore hydrates a store from a catalog snapshot. Empty input yields an
// empty store.
func DecodeStore(data []byte) (*Store, error) {
	s := NewStore()
	if len(bytes.TrimSpace(data)) == 0 {
		return s, nil
	}
	var raw map[string]Record
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	for k, rec := range raw {
		key, err := ParseStoreKey(k)
		if err != nil {
			return nil, fmt.Errorf("decode catalog: %w", err)
		}
		s.records[key] = rec
	}
	return s, nil
}

// Encode renders the catalog snapshot: four-space indented JSON with sorted
// keys, no HTML escaping and a trailing newline.
func (s *Store) Encode() ([]byte, error) {
	s.mu.Lock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k.String()] = v
	}
	s.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("encode catalog: %w", err)
	}
	return buf.Bytes(), nil
}

// Merge reconciles a with the stored record for a.Key and writes the result.
// The lookup, merge and write form one critical section.
func (s *Store) Merge(a Assembly, opts MergeOptions) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *Record
	if existing, ok := s.records[a.Key]; ok {
		prev = &existing
	}
	rec, first := Reconcile(prev, a, opts)
	s.records[a.Key] = rec
	return MergeResult{
		Key:               a.Key,
		Record:            rec,
		Created:           prev == nil,
		FirstContribution: first,
	}
}

// Get returns the record stored under key.
func (s *Store) Get(key StoreKey) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Keys returns all keys in ascending order.
func (s *Store) Keys() []StoreKey {
	s.mu.Lock()
	keys := make([]StoreKey, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Entry pairs a key with its record.
type Entry struct {
	Key    StoreKey
	Record Record
}

// Entries returns a copy of every record in ascending key order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.records))
	for k, v := range s.records {
		out = append(out, Entry{Key: k, Record: v})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Sources returns the html_url of every record in key order. Records without
// one are skipped and their keys returned separately.
func (s *Store) Sources() (sources []string, missing []StoreKey) {
	for _, e := range s.Entries() {
		if e.Record.HTMLURL == "" {
			missing = append(missing, e.Key)
			continue
		}
		sources = append(sources, e.Record.HTMLURL)
	}
	return sources, missing
}
