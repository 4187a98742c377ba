// Package orchestration runs a set of streams through the extraction engine
// and keeps per-run state for reporting.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Widen/tap-gainsightpx/internal/extract"
	"github.com/Widen/tap-gainsightpx/internal/state"
)

// Status of a run or of one stream within it.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

// Syncer syncs one stream. *extract.Engine implements it.
type Syncer interface {
	SyncStream(ctx context.Context, desc *extract.StreamDescriptor, cfg *extract.StreamConfig) (*extract.SyncResult, error)
}

// Tracker wraps each stream sync, typically to time it.
type Tracker interface {
	TrackStream(stream string, f func() error) error
}

// StateWriter receives the state document after each stream finishes.
type StateWriter interface {
	WriteState(value any) error
}

// StreamRun is the outcome of one stream within a run.
type StreamRun struct {
	Stream     string
	Status     Status
	Records    int
	Requests   int
	Stop       extract.StopReason
	Bookmark   any
	ErrorKind  extract.Kind
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Run is one invocation over a set of streams.
type Run struct {
	ID         string
	Status     Status
	Streams    []*StreamRun
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed returns the stream runs that did not succeed.
func (r *Run) Failed() []*StreamRun {
	var out []*StreamRun
	for _, s := range r.Streams {
		if s.Status == StatusFailed {
			out = append(out, s)
		}
	}
	return out
}

// Records sums records across streams.
func (r *Run) Records() int {
	n := 0
	for _, s := range r.Streams {
		n += s.Records
	}
	return n
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager owns in-process run state.
type Manager struct {
	syncer      Syncer
	store       state.Store
	tracker     Tracker
	stateWriter StateWriter
	concurrency int
	logger      *slog.Logger

	// serializes state snapshots so STATE messages are emitted in order
	stateMu sync.Mutex

	mu   sync.Mutex
	runs map[string]*Run
}

// Option configures a Manager.
type Option func(*Manager)

// WithConcurrency bounds how many streams sync at once (default 1).
func WithConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithTracker wraps each stream sync with t.
func WithTracker(t Tracker) Option {
	return func(m *Manager) { m.tracker = t }
}

// WithStateWriter emits a state snapshot after every stream.
func WithStateWriter(w StateWriter) Option {
	return func(m *Manager) { m.stateWriter = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager that syncs through syncer and snapshots
// bookmarks from store.
func NewManager(syncer Syncer, store state.Store, opts ...Option) *Manager {
	m := &Manager{
		syncer:      syncer,
		store:       store,
		concurrency: 1,
		logger:      slog.Default(),
		runs:        make(map[string]*Run),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "orchestration")
	return m
}

// Run syncs every stream and returns when all have finished. A failed stream
// does not stop the others; the returned error joins every stream failure.
func (m *Manager) Run(ctx context.Context, streams []*extract.StreamDescriptor, cfg *extract.StreamConfig) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: time.Now(),
		Streams:   make([]*StreamRun, len(streams)),
	}
	for i, desc := range streams {
		run.Streams[i] = &StreamRun{Stream: desc.Name, Status: StatusQueued}
	}
	m.saveRun(run)

	logger := m.logger.With("run_id", run.ID)
	logger.InfoContext(ctx, "Run started", "streams", len(streams), "concurrency", m.concurrency)

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	errs := make([]error, len(streams))
	for i, desc := range streams {
		i, desc := i, desc
		g.Go(func() error {
			errs[i] = m.runStream(ctx, logger, run.ID, i, desc, cfg)
			return nil
		})
	}
	_ = g.Wait()

	err := errors.Join(errs...)
	m.updateRun(run.ID, func(r *Run) {
		r.FinishedAt = time.Now()
		r.Status = StatusSucceeded
		if err != nil {
			r.Status = StatusFailed
		}
	})

	final := m.GetRun(run.ID)
	logger.InfoContext(ctx, "Run finished",
		"status", final.Status,
		"records", final.Records(),
		"failed_streams", len(final.Failed()),
		"duration", final.FinishedAt.Sub(final.StartedAt),
	)
	return final, err
}

func (m *Manager) runStream(ctx context.Context, logger *slog.Logger, runID string, idx int, desc *extract.StreamDescriptor, cfg *extract.StreamConfig) error {
	if err := ctx.Err(); err != nil {
		m.updateStream(runID, idx, func(s *StreamRun) {
			s.Status = StatusFailed
			s.ErrorKind = extract.KindCanceled
			s.Error = err.Error()
		})
		return fmt.Errorf("stream %s: %w", desc.Name, err)
	}

	m.updateStream(runID, idx, func(s *StreamRun) {
		s.Status = StatusRunning
		s.StartedAt = time.Now()
	})

	var res *extract.SyncResult
	do := func() error {
		var err error
		res, err = m.syncer.SyncStream(ctx, desc, cfg)
		return err
	}

	var err error
	if m.tracker != nil {
		err = m.tracker.TrackStream(desc.Name, do)
	} else {
		err = do()
	}

	m.updateStream(runID, idx, func(s *StreamRun) {
		s.FinishedAt = time.Now()
		if res != nil {
			s.Records = res.Records
			s.Requests = res.Requests
			s.Stop = res.Stop
			if res.HasBookmark {
				s.Bookmark = res.Bookmark
			}
		}
		if err != nil {
			s.Status = StatusFailed
			s.ErrorKind = extract.ErrorKind(err)
			s.Error = err.Error()
			return
		}
		s.Status = StatusSucceeded
	})

	if err != nil {
		logger.ErrorContext(ctx, "Stream failed", "stream", desc.Name, "kind", extract.ErrorKind(err), "error", err)
	}

	if werr := m.emitState(ctx); werr != nil {
		logger.WarnContext(ctx, "Failed to emit state", "stream", desc.Name, "error", werr)
	}

	if err != nil {
		return fmt.Errorf("stream %s: %w", desc.Name, err)
	}
	return nil
}

func (m *Manager) emitState(ctx context.Context) error {
	if m.stateWriter == nil || m.store == nil {
		return nil
	}
	m.stateMu.Lock()
	defer m.stateMu.Unlock()

	doc, err := m.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	return m.stateWriter.WriteState(doc)
}

// GetRun returns a copy of the run, or nil if unknown.
func (m *Manager) GetRun(id string) *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil
	}
	return cloneRun(run)
}

func (m *Manager) saveRun(run *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
}

func (m *Manager) updateRun(id string, fn func(*Run)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.runs[id]; ok {
		fn(run)
	}
}

func (m *Manager) updateStream(id string, idx int, fn func(*StreamRun)) {
	m.updateRun(id, func(r *Run) { fn(r.Streams[idx]) })
}

func cloneRun(r *Run) *Run {
	out := *r
	out.Streams = make([]*StreamRun, len(r.Streams))
	for i, s := range r.Streams {
		cp := *s
		out.Streams[i] = &cp
	}
	return &out
}
