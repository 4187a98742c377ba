package extract_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

func pageOf(n int) *extract.ExtractedPage {
	recs := make([]extract.Record, n)
	for i := range recs {
		recs[i] = extract.Record{"id": float64(i)}
	}
	return &extract.ExtractedPage{Records: recs}
}

func scrollPage(n int, total any, token any) *extract.ExtractedPage {
	p := pageOf(n)
	p.HasTotalHits, p.TotalHits = true, total
	p.HasToken, p.Token = true, token
	return p
}

// =============================================================================
// PAGE NUMBER
// =============================================================================

func TestPageNumber_Unit_IncrementsFromOne(t *testing.T) {
	p := extract.PageNumber{}
	state := extract.NoPage()
	seen := 0

	var pages []int
	for i := 0; i < 3; i++ {
		page := pageOf(50)
		page.RequestedPageSize = 50
		d := p.Evaluate(page, state, seen)
		require.True(t, d.HasMore)
		require.Equal(t, extract.StateOffset, d.Next.Kind)
		pages = append(pages, d.Next.Offset)
		state, seen = d.Next, d.Seen
	}
	assert.Equal(t, []int{2, 3, 4}, pages)
	assert.Equal(t, 150, seen)
}

func TestPageNumber_Unit_StopsOnShortPage(t *testing.T) {
	page := pageOf(10)
	page.RequestedPageSize = 50
	d := extract.PageNumber{}.Evaluate(page, extract.Offset(3), 100)
	assert.False(t, d.HasMore)
	assert.True(t, d.Next.IsNone())
	assert.Equal(t, extract.StopShortPage, d.Stop)
	assert.Equal(t, 110, d.Seen)
}

func TestPageNumber_Unit_StopsOnEmptyPage(t *testing.T) {
	page := pageOf(0)
	page.RequestedPageSize = 50
	d := extract.PageNumber{}.Evaluate(page, extract.Offset(2), 50)
	assert.False(t, d.HasMore)
	assert.Equal(t, extract.StopEmptyPage, d.Stop)
}

// =============================================================================
// SCROLL CURSOR
// =============================================================================

func TestScrollCursor_Unit_TotalHitsTenPageSizeFour(t *testing.T) {
	p := extract.ScrollCursor{}
	state := extract.NoPage()
	seen := 0

	sizes := []int{4, 4, 2}
	var more []bool
	for _, n := range sizes {
		d := p.Evaluate(scrollPage(n, float64(10), "scroll-abc"), state, seen)
		more = append(more, d.HasMore)
		state, seen = d.Next, d.Seen
	}
	assert.Equal(t, []bool{true, true, false}, more)
	assert.Equal(t, 10, seen)
	assert.True(t, state.IsNone())
}

func TestScrollCursor_Unit_MissingTokenStopsImmediately(t *testing.T) {
	page := pageOf(4)
	page.HasTotalHits, page.TotalHits = true, float64(1000)

	d := extract.ScrollCursor{}.Evaluate(page, extract.Cursor("prev"), 4)
	assert.False(t, d.HasMore)
	assert.Equal(t, extract.StopNoToken, d.Stop)
	assert.True(t, d.Next.IsNone())
}

func TestScrollCursor_Unit_FalsyTokensStop(t *testing.T) {
	for name, token := range map[string]any{
		"empty string": "",
		"zero":         float64(0),
		"false":        false,
		"null":         nil,
	} {
		t.Run(name, func(t *testing.T) {
			d := extract.ScrollCursor{}.Evaluate(scrollPage(4, float64(100), token), extract.NoPage(), 0)
			assert.False(t, d.HasMore)
			assert.Equal(t, extract.StopEmptyToken, d.Stop)
			assert.True(t, d.Next.IsNone())
			assert.Nil(t, d.Protocol)
		})
	}
}

func TestScrollCursor_Unit_NumericTokenBecomesCursor(t *testing.T) {
	d := extract.ScrollCursor{}.Evaluate(scrollPage(4, float64(100), float64(42)), extract.NoPage(), 0)
	require.True(t, d.HasMore)
	assert.Equal(t, extract.Cursor("42"), d.Next)
}

func TestScrollCursor_Unit_BadTotalHitsEndsWithProtocolError(t *testing.T) {
	missing := pageOf(4)
	missing.HasToken, missing.Token = true, "tok"

	cases := map[string]*extract.ExtractedPage{
		"missing":  missing,
		"negative": scrollPage(4, float64(-1), "tok"),
		"garbage":  scrollPage(4, "lots", "tok"),
	}
	for name, page := range cases {
		t.Run(name, func(t *testing.T) {
			d := extract.ScrollCursor{}.Evaluate(page, extract.NoPage(), 0)
			assert.False(t, d.HasMore)
			assert.Equal(t, extract.StopProtocol, d.Stop)
			require.NotNil(t, d.Protocol)
			assert.Equal(t, "totalHits", d.Protocol.Field)
		})
	}
}

func TestScrollCursor_Unit_ZeroTotalEmptyPage(t *testing.T) {
	d := extract.ScrollCursor{}.Evaluate(scrollPage(0, float64(0), "tok"), extract.NoPage(), 0)
	assert.False(t, d.HasMore)
	assert.Equal(t, extract.StopExhausted, d.Stop)
}

func TestScrollCursor_Unit_EmptyPageBeforeTotalStops(t *testing.T) {
	d := extract.ScrollCursor{}.Evaluate(scrollPage(0, float64(10), "same-token"), extract.Cursor("same-token"), 4)
	assert.False(t, d.HasMore)
	assert.Equal(t, extract.StopNoProgress, d.Stop)
	assert.Equal(t, 4, d.Seen)
	require.NotNil(t, d.Protocol)
	assert.Equal(t, "totalHits", d.Protocol.Field)
	assert.Contains(t, d.Protocol.Reason, "empty page before total reached")
}

func TestScrollCursor_Unit_NonFiniteTotalHits(t *testing.T) {
	cases := map[string]struct {
		total  any
		reason string
	}{
		"nan":       {math.NaN(), "not a number"},
		"inf":       {math.Inf(1), "not a number"},
		"too large": {float64(1e19), "out of range"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			d := extract.ScrollCursor{}.Evaluate(scrollPage(4, tc.total, "tok"), extract.NoPage(), 0)
			assert.Equal(t, extract.StopProtocol, d.Stop)
			require.NotNil(t, d.Protocol)
			assert.Equal(t, tc.reason, d.Protocol.Reason)
		})
	}
}

// =============================================================================
// SINGLE PAGE
// =============================================================================

func TestSinglePage_Unit_AlwaysStops(t *testing.T) {
	d := extract.SinglePage{}.Evaluate(pageOf(500), extract.NoPage(), 0)
	assert.False(t, d.HasMore)
	assert.Equal(t, extract.StopSinglePage, d.Stop)
	assert.Equal(t, 500, d.Seen)
}

func TestPaginatorFor_Unit_UnknownKind(t *testing.T) {
	_, err := extract.PaginatorFor(extract.PaginationSpec{Kind: "link_header"})
	var cfgErr *extract.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
