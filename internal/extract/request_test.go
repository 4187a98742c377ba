package extract_test

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

func cappedStream(kind extract.PaginationKind) *extract.StreamDescriptor {
	return &extract.StreamDescriptor{
		Name:            "engagement",
		Path:            "/engagement",
		RecordsPath:     "$.engagements[*]",
		DefaultPageSize: 100,
		MaxPageSize:     200,
		Pagination:      extract.PaginationSpec{Kind: kind},
	}
}

func TestDefaultRequestBuilder_Unit_ClampsPageSize(t *testing.T) {
	params, err := extract.DefaultRequestBuilder{}.Build(
		cappedStream(extract.PaginationPageNumber), nil, extract.NoPage(),
		&extract.StreamConfig{PageSize: 500},
	)
	require.NoError(t, err)
	assert.Equal(t, "200", params.Get("pageSize"))
}

func TestDefaultRequestBuilder_Unit_UsesDefaultPageSize(t *testing.T) {
	params, err := extract.DefaultRequestBuilder{}.Build(
		cappedStream(extract.PaginationPageNumber), nil, extract.NoPage(), nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "100", params.Get("pageSize"))
}

func TestDefaultRequestBuilder_Unit_PaginationParams(t *testing.T) {
	b := extract.DefaultRequestBuilder{}

	first, err := b.Build(cappedStream(extract.PaginationScroll), nil, extract.NoPage(), nil)
	require.NoError(t, err)
	assert.False(t, first.Has("scrollId"))
	assert.False(t, first.Has("pageNumber"))

	next, err := b.Build(cappedStream(extract.PaginationScroll), nil, extract.Cursor("abc"), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", next.Get("scrollId"))

	page, err := b.Build(cappedStream(extract.PaginationPageNumber), nil, extract.Offset(3), nil)
	require.NoError(t, err)
	assert.Equal(t, "3", page.Get("pageNumber"))
}

func TestDefaultRequestBuilder_Unit_CustomParamNames(t *testing.T) {
	desc := cappedStream(extract.PaginationScroll)
	desc.Pagination.CursorParam = "cursor"
	desc.Pagination.PageSizeParam = "limit"

	params, err := extract.DefaultRequestBuilder{}.Build(desc, nil, extract.Cursor("xyz"), nil)
	require.NoError(t, err)
	assert.Equal(t, "xyz", params.Get("cursor"))
	assert.Equal(t, "100", params.Get("limit"))
}

func TestDefaultRequestBuilder_Unit_SinglePageOmitsPageSize(t *testing.T) {
	params, err := extract.DefaultRequestBuilder{}.Build(
		cappedStream(extract.PaginationSingle), nil, extract.NoPage(), &extract.StreamConfig{PageSize: 50},
	)
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestDefaultRequestBuilder_Unit_DoesNotMutateBase(t *testing.T) {
	base := url.Values{"sort": {"date"}}
	params, err := extract.DefaultRequestBuilder{}.Build(
		cappedStream(extract.PaginationPageNumber), base, extract.Offset(2), nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "date", params.Get("sort"))
	assert.Equal(t, url.Values{"sort": {"date"}}, base)
}

func TestDateRangeFilter_Unit_EveryRequest(t *testing.T) {
	desc := cappedStream(extract.PaginationScroll)
	desc.Shapers = []extract.ParamShaper{extract.DateRangeFilter{Field: "date"}}
	cfg := &extract.StreamConfig{
		StartDate: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2023, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	for _, state := range []extract.PaginationState{extract.NoPage(), extract.Cursor("s1")} {
		params, err := extract.DefaultRequestBuilder{}.Build(desc, nil, state, cfg)
		require.NoError(t, err)
		assert.Equal(t, "date>=1672531200000;date<=1675209600000", params.Get("filter"))
	}
}

func TestDateRangeFilter_Unit_MissingBounds(t *testing.T) {
	desc := cappedStream(extract.PaginationScroll)
	desc.Shapers = []extract.ParamShaper{extract.DateRangeFilter{Field: "date"}}

	_, err := extract.DefaultRequestBuilder{}.Build(desc, nil, extract.NoPage(),
		&extract.StreamConfig{StartDate: time.Now()})
	var cfgErr *extract.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "end_date", cfgErr.Field)
	assert.Equal(t, "engagement", cfgErr.Stream)
}

func TestEffectivePageSize_Unit_NegativeRejected(t *testing.T) {
	_, err := extract.EffectivePageSize(cappedStream(extract.PaginationScroll), &extract.StreamConfig{PageSize: -5})
	var cfgErr *extract.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
