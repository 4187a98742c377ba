package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// FileStore keeps bookmarks in a Singer state.json file. Every SetBookmark
// rewrites the file atomically.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc *Document
}

var (
	_ Store                   = (*FileStore)(nil)
	_ extract.KeyedStateStore = (*FileStore)(nil)
)

// OpenFileStore loads path if it exists. A missing file starts empty.
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &FileStore{path: path, doc: doc}, nil
}

func (f *FileStore) GetBookmark(ctx context.Context, stream string) (any, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.doc.Bookmarks[stream]
	if !ok || b.ReplicationKeyValue == nil {
		return nil, false, nil
	}
	return b.ReplicationKeyValue, true, nil
}

// SetBookmark keeps any replication key name already recorded for stream.
func (f *FileStore) SetBookmark(ctx context.Context, stream string, value any) error {
	return f.SetKeyedBookmark(ctx, stream, "", value)
}

func (f *FileStore) SetKeyedBookmark(ctx context.Context, stream, key string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.doc.clone()
	next.Bookmarks[stream] = f.doc.Bookmarks[stream].with(key, value)

	if err := writeAtomic(f.path, next); err != nil {
		return err
	}
	f.doc = next
	return nil
}

func (f *FileStore) Snapshot(ctx context.Context) (*Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.clone(), nil
}

func writeAtomic(path string, doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.json")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
