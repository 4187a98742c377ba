package sink

import (
	"context"
	"sync"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// MemorySink collects records per stream.
type MemorySink struct {
	mu      sync.Mutex
	records map[string][]extract.Record
	started []string
}

var (
	_ extract.Sink          = (*MemorySink)(nil)
	_ extract.StreamStarter = (*MemorySink)(nil)
)

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{records: make(map[string][]extract.Record)}
}

func (m *MemorySink) StartStream(ctx context.Context, desc *extract.StreamDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, desc.Name)
	return nil
}

func (m *MemorySink) Emit(ctx context.Context, stream string, rec extract.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[stream] = append(m.records[stream], rec)
	return nil
}

// Records returns a copy of the stream's records.
func (m *MemorySink) Records(stream string) []extract.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]extract.Record(nil), m.records[stream]...)
}

// Started returns the streams started so far, in order.
func (m *MemorySink) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}
