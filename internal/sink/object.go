package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// Format selects the object encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

const defaultBatchSize = 10000

// ObjectConfig configures an ObjectSink.
type ObjectConfig struct {
	Bucket     string
	BasePrefix string
	RunID      string
	Format     Format

	// BatchSize is the number of records per object (default: 10000).
	BatchSize int
}

// ObjectSink buffers records per stream and writes them as objects under
//
//	<prefix>/<stream>/dt=<load date>/run=<run id>/part-000000.parquet
//
// Streams with a schema are written as Snappy-compressed Parquet; the rest,
// and any batch Parquet cannot encode, fall back to gzipped JSON lines.
type ObjectSink struct {
	store    ObjectStore
	cfg      ObjectConfig
	loadDate string
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]*objectStream
	objects []string
}

type objectStream struct {
	desc    *extract.StreamDescriptor
	pending []extract.Record
	part    int
	records int64
}

var (
	_ extract.Sink          = (*ObjectSink)(nil)
	_ extract.Flusher       = (*ObjectSink)(nil)
	_ extract.StreamStarter = (*ObjectSink)(nil)
)

// NewObjectSink creates the bucket if needed.
func NewObjectSink(ctx context.Context, store ObjectStore, cfg ObjectConfig, logger *slog.Logger) (*ObjectSink, error) {
	if store == nil {
		return nil, wrapError(CodeWriteFailed, false, errors.New("object store is required"))
	}
	if cfg.Bucket == "" {
		return nil, wrapError(CodeBucketNotFound, false, errors.New("bucket is required"))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Format == "" {
		cfg.Format = FormatParquet
	}
	if cfg.RunID == "" {
		cfg.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := store.EnsureBucket(ctx, cfg.Bucket); err != nil {
		return nil, err
	}
	return &ObjectSink{
		store:    store,
		cfg:      cfg,
		loadDate: time.Now().UTC().Format("2006-01-02"),
		logger:   logger.With("component", "object_sink"),
		streams:  make(map[string]*objectStream),
	}, nil
}

func (s *ObjectSink) StartStream(ctx context.Context, desc *extract.StreamDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream(desc.Name).desc = desc
	return nil
}

func (s *ObjectSink) Emit(ctx context.Context, stream string, rec extract.Record) error {
	s.mu.Lock()
	st := s.stream(stream)
	st.pending = append(st.pending, rec)
	full := len(st.pending) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		return s.Flush(ctx, stream)
	}
	return nil
}

// Flush writes the stream's buffered records as one object.
func (s *ObjectSink) Flush(ctx context.Context, stream string) error {
	s.mu.Lock()
	st := s.stream(stream)
	batch := st.pending
	st.pending = nil
	part := st.part
	if len(batch) > 0 {
		st.part++
	}
	desc := st.desc
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	key, data, err := s.encode(stream, desc, part, batch)
	if err != nil {
		return err
	}
	if err := s.store.PutObject(ctx, s.cfg.Bucket, key, data); err != nil {
		return err
	}

	s.mu.Lock()
	st.records += int64(len(batch))
	s.objects = append(s.objects, fmt.Sprintf("s3://%s/%s", s.cfg.Bucket, key))
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Wrote object", "stream", stream, "key", key, "records", len(batch), "bytes", len(data))
	return nil
}

// Objects returns the URLs of every object written so far.
func (s *ObjectSink) Objects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.objects...)
}

func (s *ObjectSink) stream(name string) *objectStream {
	st, ok := s.streams[name]
	if !ok {
		st = &objectStream{}
		s.streams[name] = st
	}
	return st
}

func (s *ObjectSink) encode(stream string, desc *extract.StreamDescriptor, part int, batch []extract.Record) (string, []byte, error) {
	base := joinPath(
		s.cfg.BasePrefix,
		stream,
		fmt.Sprintf("dt=%s", s.loadDate),
		fmt.Sprintf("run=%s", s.cfg.RunID),
	)

	if s.cfg.Format == FormatParquet && desc != nil && len(desc.Schema) > 0 {
		data, err := encodeParquet(desc.Schema, batch)
		if err == nil {
			return joinPath(base, fmt.Sprintf("part-%06d.parquet", part)), data, nil
		}
		s.logger.Warn("Parquet encoding failed, falling back to JSONL", "stream", stream, "error", err)
	}

	buf := &bytes.Buffer{}
	if err := encodeJSONLines(buf, batch); err != nil {
		return "", nil, wrapError(CodeEncodeFailed, false, err)
	}
	return joinPath(base, fmt.Sprintf("part-%06d.jsonl.gz", part)), buf.Bytes(), nil
}

// =============================================================================
// ENCODERS
// =============================================================================

func encodeJSONLines(buf *bytes.Buffer, records []extract.Record) error {
	gz := gzip.NewWriter(buf)
	enc := json.NewEncoder(gz)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			_ = gz.Close()
			return err
		}
	}
	return gz.Close()
}

func encodeParquet(fields []extract.Field, records []extract.Record) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)
	pw, err := writer.NewJSONWriter(parquetSchema(fields), pfw, 4)
	if err != nil {
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for i, rec := range records {
		row, err := json.Marshal(projectRow(fields, rec))
		if err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if err := pw.Write(string(row)); err != nil {
			_ = pw.WriteStop()
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	if err := pfw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parquetSchema(fields []extract.Field) string {
	cols := make([]map[string]string, 0, len(fields))
	for _, f := range fields {
		cols = append(cols, map[string]string{
			"Tag": fmt.Sprintf("name=%s, %s, repetitiontype=OPTIONAL", f.Name, parquetType(f.Type)),
		})
	}
	out := map[string]any{
		"Tag":    "name=parquet_go_root, repetitiontype=REQUIRED",
		"Fields": cols,
	}
	b, _ := json.Marshal(out)
	return string(b)
}

func parquetType(t string) string {
	switch t {
	case "boolean":
		return "type=BOOLEAN"
	case "integer":
		return "type=INT64"
	case "number":
		return "type=DOUBLE"
	default:
		return "type=BYTE_ARRAY, convertedtype=UTF8"
	}
}

// projectRow keeps the schema's columns and coerces values to their column
// type. Objects and arrays become JSON text; unconvertible values are null.
func projectRow(fields []extract.Field, rec extract.Record) map[string]any {
	row := make(map[string]any, len(fields))
	for _, f := range fields {
		v, ok := rec[f.Name]
		if !ok || v == nil {
			continue
		}
		if cv, ok := coerce(f.Type, v); ok {
			row[f.Name] = cv
		}
	}
	return row
}

func coerce(t string, v any) (any, bool) {
	switch t {
	case "boolean":
		b, ok := v.(bool)
		return b, ok
	case "integer":
		switch n := v.(type) {
		case float64:
			return int64(n), true
		case int:
			return int64(n), true
		case int64:
			return n, true
		case json.Number:
			i, err := n.Int64()
			return i, err == nil
		case string:
			i, err := strconv.ParseInt(n, 10, 64)
			return i, err == nil
		}
		return nil, false
	case "number":
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			f, err := n.Float64()
			return f, err == nil
		}
		return nil, false
	default:
		if s, ok := v.(string); ok {
			return s, true
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(b), true
	}
}
