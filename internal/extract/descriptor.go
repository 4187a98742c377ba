package extract

import (
	"context"
	"net/url"
	"time"
)

// Record is a single extracted record as field-name/value pairs.
type Record = map[string]any

// RawResponse is the decoded JSON body of one API call.
type RawResponse = map[string]any

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport issues one HTTP call and returns the decoded body.
type Transport interface {
	Send(ctx context.Context, method, path string, params url.Values) (RawResponse, error)
}

// StateStore persists bookmarks between runs.
type StateStore interface {
	// GetBookmark returns the stored bookmark for stream, if any.
	GetBookmark(ctx context.Context, stream string) (any, bool, error)

	// SetBookmark stores the bookmark for stream.
	SetBookmark(ctx context.Context, stream string, value any) error
}

// KeyedStateStore is implemented by stores that record the replication key
// name next to the bookmark value.
type KeyedStateStore interface {
	SetKeyedBookmark(ctx context.Context, stream, key string, value any) error
}

// Sink receives extracted records.
type Sink interface {
	Emit(ctx context.Context, stream string, rec Record) error
}

// Flusher is implemented by sinks that buffer records. The engine flushes
// before handing a bookmark to the StateStore.
type Flusher interface {
	Flush(ctx context.Context, stream string) error
}

// StreamStarter is implemented by sinks that need the descriptor before the
// first record of a stream (for example to write a schema message).
type StreamStarter interface {
	StartStream(ctx context.Context, desc *StreamDescriptor) error
}

// =============================================================================
// STREAM DESCRIPTOR
// =============================================================================

// PaginationKind selects the pagination protocol of a stream.
type PaginationKind string

const (
	PaginationPageNumber PaginationKind = "page_number"
	PaginationScroll     PaginationKind = "scroll"
	PaginationSingle     PaginationKind = "single"
)

// PaginationSpec declares how a stream pages through results.
type PaginationSpec struct {
	Kind PaginationKind

	// PageParam is the query parameter carrying the 1-based page number (default: "pageNumber").
	PageParam string

	// CursorParam is the query parameter carrying the scroll token (default: "scrollId").
	CursorParam string

	// PageSizeParam is the query parameter carrying the page size (default: "pageSize").
	// Ignored by single-page streams.
	PageSizeParam string

	// TokenPath locates the next scroll token in the response (default: "$.scrollId").
	TokenPath string

	// TotalHitsPath locates the declared total record count (default: "$.totalHits").
	TotalHitsPath string
}

// Field describes one property of a stream's records.
type Field struct {
	Name     string
	Type     string // "string", "integer", "number", "boolean", "object", "array"
	Items    string // element type for arrays
	Comment  string
	Nullable bool
}

// StreamDescriptor is the immutable definition of one API stream.
type StreamDescriptor struct {
	Name           string
	Path           string
	RecordsPath    string
	PrimaryKeys    []string
	ReplicationKey string

	DefaultPageSize int
	MaxPageSize     int

	Pagination PaginationSpec

	// Shapers add stream-specific parameters on every request.
	Shapers []ParamShaper

	Schema []Field
}

// HasReplicationKey reports whether the stream supports incremental bookmarks.
func (d *StreamDescriptor) HasReplicationKey() bool {
	return d.ReplicationKey != ""
}

// Paginated reports whether the stream sends page-size parameters.
func (d *StreamDescriptor) Paginated() bool {
	return d.Pagination.Kind != PaginationSingle
}

func (p PaginationSpec) pageParam() string {
	return orDefault(p.PageParam, "pageNumber")
}

func (p PaginationSpec) cursorParam() string {
	return orDefault(p.CursorParam, "scrollId")
}

func (p PaginationSpec) pageSizeParam() string {
	return orDefault(p.PageSizeParam, "pageSize")
}

func (p PaginationSpec) tokenPath() string {
	return orDefault(p.TokenPath, "$.scrollId")
}

func (p PaginationSpec) totalHitsPath() string {
	return orDefault(p.TotalHitsPath, "$.totalHits")
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// =============================================================================
// STREAM CONFIG
// =============================================================================

// StreamConfig is the per-sync configuration handed to the request builder.
type StreamConfig struct {
	// PageSize is the caller-requested page size; 0 uses the stream default.
	PageSize int

	// StartDate and EndDate bound date-range filters. Zero values are unset.
	StartDate time.Time
	EndDate   time.Time

	// Params are extra query parameters added to every request.
	Params url.Values
}

// Validate checks the configuration before any request is issued.
func (c *StreamConfig) Validate() error {
	if c == nil {
		return nil
	}
	if c.PageSize < 0 {
		return &ConfigurationError{Field: "page_size", Message: "must not be negative"}
	}
	if !c.StartDate.IsZero() && !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return &ConfigurationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return nil
}
