// Package state persists per-stream bookmarks between runs.
//
// Structure:
//
//	state.go     - Singer state document and shared helpers
//	memory.go    - In-process store
//	file.go      - Singer state.json file store
//	postgres.go  - Postgres-backed store (lib/pq or pgx)
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// Store is a bookmark store that can also report every bookmark it holds.
type Store interface {
	extract.StateStore

	// Snapshot returns the current bookmarks as a Singer state document.
	Snapshot(ctx context.Context) (*Document, error)
}

// =============================================================================
// SINGER STATE DOCUMENT
// =============================================================================

// Document is the Singer state layout:
//
//	{"bookmarks": {"survey_response": {"replication_key_value": 1672531200000}}}
type Document struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

// Bookmark is one stream's entry in a Document.
type Bookmark struct {
	ReplicationKey      string `json:"replication_key,omitempty"`
	ReplicationKeyValue any    `json:"replication_key_value"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Bookmarks: make(map[string]Bookmark)}
}

// Streams returns the bookmarked stream names, sorted.
func (d *Document) Streams() []string {
	names := make([]string, 0, len(d.Bookmarks))
	for name := range d.Bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ParseDocument decodes a Singer state document. Numbers are kept as
// json.Number so epoch-millisecond bookmarks round-trip exactly.
func ParseDocument(data []byte) (*Document, error) {
	doc := NewDocument()
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(doc); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	if doc.Bookmarks == nil {
		doc.Bookmarks = make(map[string]Bookmark)
	}
	return doc, nil
}

// with returns b holding value. An empty key leaves the recorded key name alone.
func (b Bookmark) with(key string, value any) Bookmark {
	if key != "" {
		b.ReplicationKey = key
	}
	b.ReplicationKeyValue = value
	return b
}

func (d *Document) clone() *Document {
	out := NewDocument()
	for k, v := range d.Bookmarks {
		out.Bookmarks[k] = v
	}
	return out
}

func decodeValue(data []byte) (any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
