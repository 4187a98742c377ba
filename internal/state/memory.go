package state

import (
	"context"
	"sync"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// MemoryStore keeps bookmarks in process memory.
type MemoryStore struct {
	mu  sync.RWMutex
	doc *Document
}

var (
	_ Store                   = (*MemoryStore)(nil)
	_ extract.KeyedStateStore = (*MemoryStore)(nil)
)

// NewMemoryStore creates a store seeded from doc, which may be nil.
func NewMemoryStore(doc *Document) *MemoryStore {
	if doc == nil {
		doc = NewDocument()
	}
	return &MemoryStore{doc: doc.clone()}
}

func (m *MemoryStore) GetBookmark(ctx context.Context, stream string) (any, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.doc.Bookmarks[stream]
	if !ok || b.ReplicationKeyValue == nil {
		return nil, false, nil
	}
	return b.ReplicationKeyValue, true, nil
}

// SetBookmark keeps any replication key name already recorded for stream.
func (m *MemoryStore) SetBookmark(ctx context.Context, stream string, value any) error {
	return m.SetKeyedBookmark(ctx, stream, "", value)
}

func (m *MemoryStore) SetKeyedBookmark(ctx context.Context, stream, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc.Bookmarks[stream] = m.doc.Bookmarks[stream].with(key, value)
	return nil
}

func (m *MemoryStore) Snapshot(ctx context.Context) (*Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.clone(), nil
}
