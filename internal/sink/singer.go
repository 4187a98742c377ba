package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Widen/tap-gainsightpx/internal/catalog"
	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// =============================================================================
// SINGER MESSAGES
// =============================================================================

// Message is one line of Singer output.
type Message struct {
	Type          string         `json:"type"`
	Stream        string         `json:"stream,omitempty"`
	Record        map[string]any `json:"record,omitempty"`
	TimeExtracted string         `json:"time_extracted,omitempty"`
	Schema        map[string]any `json:"schema,omitempty"`
	KeyProperties []string       `json:"key_properties,omitempty"`
	BookmarkProps []string       `json:"bookmark_properties,omitempty"`
	Value         any            `json:"value,omitempty"`
}

// SingerWriter writes Singer SCHEMA, RECORD and STATE messages as JSON lines.
// It is safe for concurrent streams; each message is one atomic line.
type SingerWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time

	records map[string]int
}

var (
	_ extract.Sink          = (*SingerWriter)(nil)
	_ extract.StreamStarter = (*SingerWriter)(nil)
)

// NewSingerWriter writes to w, usually stdout.
func NewSingerWriter(w io.Writer) *SingerWriter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &SingerWriter{
		enc:     enc,
		now:     time.Now,
		records: make(map[string]int),
	}
}

// StartStream writes the stream's SCHEMA message.
func (s *SingerWriter) StartStream(ctx context.Context, desc *extract.StreamDescriptor) error {
	msg := Message{
		Type:          "SCHEMA",
		Stream:        desc.Name,
		Schema:        catalog.JSONSchema(desc),
		KeyProperties: append([]string{}, desc.PrimaryKeys...),
	}
	if desc.HasReplicationKey() {
		msg.BookmarkProps = []string{desc.ReplicationKey}
	}
	return s.write(msg)
}

// Emit writes one RECORD message.
func (s *SingerWriter) Emit(ctx context.Context, stream string, rec extract.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(Message{
		Type:          "RECORD",
		Stream:        stream,
		Record:        rec,
		TimeExtracted: s.now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	s.records[stream]++
	return nil
}

// WriteState writes a STATE message carrying value.
func (s *SingerWriter) WriteState(value any) error {
	return s.write(Message{Type: "STATE", Value: value})
}

// Records returns how many RECORD messages were written for stream.
func (s *SingerWriter) Records(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[stream]
}

func (s *SingerWriter) write(msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(msg); err != nil {
		return fmt.Errorf("write %s message: %w", msg.Type, err)
	}
	return nil
}
