package orchestration

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Widen/tap-gainsightpx/internal/extract"
	"github.com/Widen/tap-gainsightpx/internal/state"
)

type fakeSyncer struct {
	store   *state.MemoryStore
	results map[string]*extract.SyncResult
	errs    map[string]error
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeSyncer) SyncStream(ctx context.Context, desc *extract.StreamDescriptor, cfg *extract.StreamConfig) (*extract.SyncResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxActive.Load()
		if n <= cur || f.maxActive.CompareAndSwap(cur, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	res := f.results[desc.Name]
	if res == nil {
		res = &extract.SyncResult{Stream: desc.Name}
	}
	if res.HasBookmark {
		if err := f.store.SetBookmark(ctx, desc.Name, res.Bookmark); err != nil {
			return res, err
		}
	}
	return res, f.errs[desc.Name]
}

type recordingTracker struct {
	mu      sync.Mutex
	tracked []string
}

func (r *recordingTracker) TrackStream(stream string, f func() error) error {
	r.mu.Lock()
	r.tracked = append(r.tracked, stream)
	r.mu.Unlock()
	return f()
}

type recordingStateWriter struct {
	mu     sync.Mutex
	states []*state.Document
}

func (r *recordingStateWriter) WriteState(value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, value.(*state.Document))
	return nil
}

func descs(names ...string) []*extract.StreamDescriptor {
	out := make([]*extract.StreamDescriptor, len(names))
	for i, n := range names {
		out[i] = &extract.StreamDescriptor{Name: n}
	}
	return out
}

func TestManager_Unit_RunSucceeds(t *testing.T) {
	store := state.NewMemoryStore(nil)
	syncer := &fakeSyncer{
		store: store,
		results: map[string]*extract.SyncResult{
			"survey_response": {Stream: "survey_response", Records: 7, Requests: 2, Stop: extract.StopExhausted, Bookmark: int64(1675209600000), HasBookmark: true},
			"engagement":      {Stream: "engagement", Records: 3, Requests: 1, Stop: extract.StopShortPage},
		},
	}
	tracker := &recordingTracker{}
	writer := &recordingStateWriter{}
	m := NewManager(syncer, store, WithTracker(tracker), WithStateWriter(writer))

	run, err := m.Run(context.Background(), descs("survey_response", "engagement"), &extract.StreamConfig{})
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, StatusSucceeded, run.Status)
	assert.Equal(t, 10, run.Records())
	assert.Empty(t, run.Failed())
	require.Len(t, run.Streams, 2)

	survey := run.Streams[0]
	assert.Equal(t, "survey_response", survey.Stream)
	assert.Equal(t, StatusSucceeded, survey.Status)
	assert.Equal(t, 2, survey.Requests)
	assert.Equal(t, extract.StopExhausted, survey.Stop)
	assert.Equal(t, int64(1675209600000), survey.Bookmark)
	assert.Nil(t, run.Streams[1].Bookmark)

	assert.ElementsMatch(t, []string{"survey_response", "engagement"}, tracker.tracked)
	require.Len(t, writer.states, 2)
	last := writer.states[len(writer.states)-1]
	assert.Equal(t, int64(1675209600000), last.Bookmarks["survey_response"].ReplicationKeyValue)

	assert.Equal(t, run, m.GetRun(run.ID))
}

func TestManager_Unit_FailureIsolated(t *testing.T) {
	store := state.NewMemoryStore(nil)
	syncer := &fakeSyncer{
		store: store,
		results: map[string]*extract.SyncResult{
			"users": {Stream: "users", Records: 2, Bookmark: "2023-01-02T00:00:00Z", HasBookmark: true},
		},
		errs: map[string]error{
			"users": &extract.TransportError{Stream: "users", Path: "/users", Err: errors.New("HTTP 503")},
		},
	}
	m := NewManager(syncer, store, WithConcurrency(2))

	run, err := m.Run(context.Background(), descs("accounts", "users", "segments"), &extract.StreamConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stream users")

	var transportErr *extract.TransportError
	assert.True(t, errors.As(err, &transportErr))

	assert.Equal(t, StatusFailed, run.Status)
	failed := run.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "users", failed[0].Stream)
	assert.Equal(t, extract.KindTransport, failed[0].ErrorKind)
	assert.Equal(t, "2023-01-02T00:00:00Z", failed[0].Bookmark)
	assert.Equal(t, 2, failed[0].Records)

	assert.Equal(t, StatusSucceeded, run.Streams[0].Status)
	assert.Equal(t, StatusSucceeded, run.Streams[2].Status)
}

func TestManager_Unit_ConcurrencyLimit(t *testing.T) {
	syncer := &fakeSyncer{store: state.NewMemoryStore(nil), delay: 20 * time.Millisecond}
	m := NewManager(syncer, nil, WithConcurrency(2))

	_, err := m.Run(context.Background(), descs("a", "b", "c", "d", "e"), &extract.StreamConfig{})
	require.NoError(t, err)
	assert.LessOrEqual(t, syncer.maxActive.Load(), int32(2))
	assert.GreaterOrEqual(t, syncer.maxActive.Load(), int32(1))
}

func TestManager_Unit_CanceledBeforeStart(t *testing.T) {
	syncer := &fakeSyncer{store: state.NewMemoryStore(nil)}
	m := NewManager(syncer, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := m.Run(ctx, descs("accounts"), &extract.StreamConfig{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, extract.KindCanceled, run.Streams[0].ErrorKind)
	assert.Equal(t, int32(0), syncer.maxActive.Load())
}

func TestManager_Unit_GetRunUnknown(t *testing.T) {
	m := NewManager(&fakeSyncer{}, nil)
	assert.Nil(t, m.GetRun("missing"))
}

// =============================================================================
// ENGINE INTEGRATION
// =============================================================================

type pageTransport struct {
	pages [][]any
	calls int
}

func (p *pageTransport) Send(ctx context.Context, method, path string, params url.Values) (extract.RawResponse, error) {
	var page []any
	if p.calls < len(p.pages) {
		page = p.pages[p.calls]
	}
	p.calls++
	return extract.RawResponse{"segments": page}, nil
}

type countingSink struct {
	mu sync.Mutex
	n  int
}

func (c *countingSink) Emit(ctx context.Context, stream string, rec extract.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return nil
}

func TestManager_Unit_WithEngine(t *testing.T) {
	store := state.NewMemoryStore(nil)
	transport := &pageTransport{pages: [][]any{{
		map[string]any{"id": "s1"},
		map[string]any{"id": "s2"},
	}}}
	sink := &countingSink{}
	engine := extract.NewEngine(transport, store, sink)

	desc := &extract.StreamDescriptor{
		Name:        "segments",
		Path:        "/segment",
		RecordsPath: "$.segments[*]",
		PrimaryKeys: []string{"id"},
		Pagination:  extract.PaginationSpec{Kind: extract.PaginationSingle},
	}
	m := NewManager(engine, store)

	run, err := m.Run(context.Background(), []*extract.StreamDescriptor{desc}, &extract.StreamConfig{})
	require.NoError(t, err)
	assert.Equal(t, 2, run.Records())
	assert.Equal(t, 1, run.Streams[0].Requests)
	assert.Equal(t, extract.StopSinglePage, run.Streams[0].Stop)
	assert.Equal(t, 2, sink.n)
}
