package extract

import (
	"encoding/json"
	"strings"
	"time"
)

// ReplicationTracker keeps the running maximum of a stream's replication key.
//
// Values observed since the last Commit are pending; Committed only returns
// values from fully extracted pages.
type ReplicationTracker struct {
	field string

	prior    any
	hasPrior bool

	pending    any
	hasPending bool

	committed    any
	hasCommitted bool

	skipped int
}

// NewReplicationTracker starts tracking field from an optional prior bookmark.
func NewReplicationTracker(field string, prior any, hasPrior bool) *ReplicationTracker {
	t := &ReplicationTracker{field: field, prior: prior, hasPrior: hasPrior && prior != nil}
	if t.hasPrior {
		t.pending, t.hasPending = prior, true
		t.committed, t.hasCommitted = prior, true
	}
	return t
}

// Observe folds rec into the running maximum and returns the current candidate.
// Records without the field, with a null value, or with a value that cannot be
// compared to the current maximum are ignored.
func (t *ReplicationTracker) Observe(rec Record) (any, bool) {
	if t.field == "" {
		return nil, false
	}
	v, ok := rec[t.field]
	if !ok || v == nil {
		return t.pending, t.hasPending
	}
	if !t.hasPending {
		t.pending, t.hasPending = v, true
		return t.pending, true
	}
	cmp, ok := compareValues(v, t.pending)
	if !ok {
		t.skipped++
		return t.pending, t.hasPending
	}
	if cmp > 0 {
		t.pending = v
	}
	return t.pending, t.hasPending
}

// Commit marks the end of a fully extracted page.
func (t *ReplicationTracker) Commit() {
	t.committed, t.hasCommitted = t.pending, t.hasPending
}

// Committed returns the bookmark as of the last committed page.
func (t *ReplicationTracker) Committed() (any, bool) {
	return t.committed, t.hasCommitted
}

// Advanced reports whether the committed value differs from the prior bookmark.
func (t *ReplicationTracker) Advanced() bool {
	if !t.hasCommitted {
		return false
	}
	if !t.hasPrior {
		return true
	}
	cmp, ok := compareValues(t.committed, t.prior)
	return ok && cmp != 0
}

// Skipped returns how many values could not be compared.
func (t *ReplicationTracker) Skipped() int { return t.skipped }

// compareValues orders two replication values: numbers numerically, RFC3339
// timestamps as instants, other strings lexically.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return compareOrdered(fa, fb), true
		}
		return 0, false
	}
	if ta, ok := toTime(a); ok {
		if tb, ok := toTime(b); ok {
			return ta.Compare(tb), true
		}
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		return strings.Compare(sa, sb), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func compareOrdered(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
