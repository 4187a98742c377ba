package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metrics receives engine measurements. See internal/metrics for the
// Prometheus implementation.
type Metrics interface {
	ObserveRequest(stream string, d time.Duration, err error)
	AddRecords(stream string, n int)
	ObserveStop(stream string, reason StopReason)
	ObserveFailure(stream string, kind Kind)
}

type noopMetrics struct{}

func (noopMetrics) ObserveRequest(string, time.Duration, error) {}
func (noopMetrics) AddRecords(string, int)                      {}
func (noopMetrics) ObserveStop(string, StopReason)              {}
func (noopMetrics) ObserveFailure(string, Kind)                 {}

// SyncResult summarizes one stream sync. It is returned on failure too, and
// then carries the last successfully committed bookmark.
type SyncResult struct {
	Stream      string
	Bookmark    any
	HasBookmark bool

	Records  int
	Requests int
	Stop     StopReason

	// ProtocolIssues lists pagination anomalies that ended the stream early.
	ProtocolIssues []*PaginationProtocolError
}

// Engine drives streams through request, extract and paginate cycles.
// One Engine may sync several streams concurrently; all per-stream state
// lives in SyncStream's frame.
type Engine struct {
	transport Transport
	state     StateStore
	sink      Sink

	builder   RequestBuilder
	extractor *RecordExtractor

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTracer sets the engine tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRequestBuilder overrides the default request builder.
func WithRequestBuilder(b RequestBuilder) Option {
	return func(e *Engine) { e.builder = b }
}

// NewEngine creates an engine around its three collaborators.
func NewEngine(transport Transport, state StateStore, sink Sink, opts ...Option) *Engine {
	e := &Engine{
		transport: transport,
		state:     state,
		sink:      sink,
		builder:   DefaultRequestBuilder{},
		extractor: NewRecordExtractor(),
		logger:    slog.Default(),
		tracer:    noop.NewTracerProvider().Tracer("extract"),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "stream_sync_engine")
	return e
}

// =============================================================================
// SYNC LOOP
// =============================================================================

// SyncStream syncs one stream to completion and returns its final bookmark.
//
// Transport, extraction, sink and configuration failures stop the stream and
// are returned together with a result holding the last committed bookmark.
// Pagination anomalies end the stream gracefully and are only reported.
func (e *Engine) SyncStream(ctx context.Context, desc *StreamDescriptor, cfg *StreamConfig) (*SyncResult, error) {
	if desc == nil {
		return nil, &ConfigurationError{Field: "stream", Message: "descriptor is required"}
	}
	ctx, span := e.tracer.Start(ctx, "extract.sync_stream",
		trace.WithAttributes(
			attribute.String("stream", desc.Name),
			attribute.String("pagination", string(desc.Pagination.Kind)),
		),
	)
	defer span.End()

	logger := e.logger.With("stream", desc.Name)
	res := &SyncResult{Stream: desc.Name}

	paginator, pageSize, err := e.setup(desc, cfg)
	if err != nil {
		return res, e.fail(span, desc, err)
	}

	var (
		prior    any
		hasPrior bool
	)
	if desc.HasReplicationKey() {
		prior, hasPrior, err = e.state.GetBookmark(ctx, desc.Name)
		if err != nil {
			return res, e.fail(span, desc, &StateError{Stream: desc.Name, Op: "get", Err: err})
		}
		res.Bookmark, res.HasBookmark = prior, hasPrior
	}
	tracker := NewReplicationTracker(desc.ReplicationKey, prior, hasPrior)

	if starter, ok := e.sink.(StreamStarter); ok {
		if err := starter.StartStream(ctx, desc); err != nil {
			return res, e.fail(span, desc, &SinkError{Stream: desc.Name, Err: err})
		}
	}

	logger.InfoContext(ctx, "Starting stream sync",
		"pagination", desc.Pagination.Kind,
		"page_size", pageSize,
		"prior_bookmark", prior,
	)

	state := NoPage()
	seen := 0
	for {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, span, desc, res, tracker, err)
		}

		params, err := e.builder.Build(desc, nil, state, cfg)
		if err != nil {
			return e.finish(ctx, span, desc, res, tracker, err)
		}

		resp, err := e.send(ctx, desc, params)
		res.Requests++
		if err != nil {
			return e.finish(ctx, span, desc, res, tracker, err)
		}

		page, err := e.extractor.ReadPage(resp, desc)
		if err != nil {
			return e.finish(ctx, span, desc, res, tracker, err)
		}
		page.RequestedPageSize = pageSize

		for _, rec := range page.Records {
			if err := e.sink.Emit(ctx, desc.Name, rec); err != nil {
				return e.finish(ctx, span, desc, res, tracker, &SinkError{Stream: desc.Name, Err: err})
			}
			tracker.Observe(rec)
		}
		tracker.Commit()
		res.Records += len(page.Records)
		e.metrics.AddRecords(desc.Name, len(page.Records))

		decision := paginator.Evaluate(page, state, seen)
		seen = decision.Seen

		logger.DebugContext(ctx, "Processed page",
			"state", state.String(),
			"records", len(page.Records),
			"seen", seen,
			"has_more", decision.HasMore,
		)

		if !decision.HasMore {
			res.Stop = decision.Stop
			e.logStop(ctx, logger, decision, res)
			break
		}
		state = decision.Next
	}

	return e.finish(ctx, span, desc, res, tracker, nil)
}

func (e *Engine) setup(desc *StreamDescriptor, cfg *StreamConfig) (Paginator, int, error) {
	if desc.Name == "" {
		return nil, 0, &ConfigurationError{Field: "stream", Message: "name is required"}
	}
	if desc.RecordsPath == "" {
		return nil, 0, &ConfigurationError{Stream: desc.Name, Field: "records_path", Message: "required"}
	}
	if err := cfg.Validate(); err != nil {
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			cfgErr.Stream = desc.Name
		}
		return nil, 0, err
	}
	paginator, err := PaginatorFor(desc.Pagination)
	if err != nil {
		return nil, 0, err
	}

	pageSize := 0
	if desc.Paginated() {
		pageSize, err = EffectivePageSize(desc, cfg)
		if err != nil {
			return nil, 0, err
		}
		if pageSize <= 0 {
			return nil, 0, &ConfigurationError{Stream: desc.Name, Field: "page_size", Message: "must be positive"}
		}
	}
	return paginator, pageSize, nil
}

func (e *Engine) send(ctx context.Context, desc *StreamDescriptor, params url.Values) (RawResponse, error) {
	ctx, span := e.tracer.Start(ctx, "extract.request",
		trace.WithAttributes(
			attribute.String("stream", desc.Name),
			attribute.String("path", desc.Path),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := e.transport.Send(ctx, http.MethodGet, desc.Path, params)
	e.metrics.ObserveRequest(desc.Name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			return nil, err
		}
		return nil, &TransportError{Stream: desc.Name, Path: desc.Path, Err: err}
	}
	return resp, nil
}

func (e *Engine) logStop(ctx context.Context, logger *slog.Logger, d Decision, res *SyncResult) {
	e.metrics.ObserveStop(res.Stream, d.Stop)
	switch d.Stop {
	case StopProtocol, StopNoProgress:
		res.ProtocolIssues = append(res.ProtocolIssues, d.Protocol)
		logger.WarnContext(ctx, "Pagination metadata inconsistent, ending stream",
			"reason", d.Stop, "error", d.Protocol, "records", res.Records)
	case StopEmptyToken:
		logger.WarnContext(ctx, "Scroll token present but empty, ending stream",
			"records", res.Records, "seen", d.Seen)
	default:
		logger.DebugContext(ctx, "Pagination complete", "reason", d.Stop, "records", res.Records)
	}
}

// finish flushes the sink and hands the committed bookmark to the state store.
// It runs on success and failure alike, on a context that survives cancellation,
// and never credits a partially emitted page.
func (e *Engine) finish(ctx context.Context, span trace.Span, desc *StreamDescriptor, res *SyncResult, tracker *ReplicationTracker, cause error) (*SyncResult, error) {
	persistCtx := context.WithoutCancel(ctx)
	logger := e.logger.With("stream", desc.Name)

	if f, ok := e.sink.(Flusher); ok {
		if err := f.Flush(persistCtx, desc.Name); err != nil {
			if cause == nil {
				cause = &SinkError{Stream: desc.Name, Err: fmt.Errorf("flush: %w", err)}
			}
			return res, e.fail(span, desc, cause)
		}
	}

	if desc.HasReplicationKey() {
		if v, ok := tracker.Committed(); ok {
			if tracker.Advanced() {
				if err := e.persistBookmark(persistCtx, desc, v); err != nil {
					stateErr := &StateError{Stream: desc.Name, Op: "set", Err: err}
					if cause == nil {
						cause = stateErr
					} else {
						logger.ErrorContext(ctx, "Failed to persist bookmark", "error", stateErr)
					}
					return res, e.fail(span, desc, cause)
				}
			}
			res.Bookmark, res.HasBookmark = v, true
		}
		if n := tracker.Skipped(); n > 0 {
			logger.WarnContext(ctx, "Ignored incomparable replication values", "count", n, "field", desc.ReplicationKey)
		}
	}

	if cause != nil {
		return res, e.fail(span, desc, cause)
	}

	span.SetAttributes(
		attribute.Int("records", res.Records),
		attribute.Int("requests", res.Requests),
		attribute.String("stop", string(res.Stop)),
	)
	span.SetStatus(codes.Ok, "stream synced")
	logger.InfoContext(ctx, "Stream sync complete",
		"records", res.Records,
		"requests", res.Requests,
		"stop", res.Stop,
		"bookmark", res.Bookmark,
	)
	return res, nil
}

func (e *Engine) fail(span trace.Span, desc *StreamDescriptor, err error) error {
	kind := ErrorKind(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(kind))
	e.metrics.ObserveFailure(desc.Name, kind)
	return err
}

// persistBookmark stores v, naming the replication key when the store keeps it.
func (e *Engine) persistBookmark(ctx context.Context, desc *StreamDescriptor, v any) error {
	if ks, ok := e.state.(KeyedStateStore); ok {
		return ks.SetKeyedBookmark(ctx, desc.Name, desc.ReplicationKey, v)
	}
	return e.state.SetBookmark(ctx, desc.Name, v)
}
