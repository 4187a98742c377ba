package extract_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

func resultsStream() *extract.StreamDescriptor {
	return &extract.StreamDescriptor{
		Name:        "survey_response",
		RecordsPath: "$.results[*]",
		Pagination:  extract.PaginationSpec{Kind: extract.PaginationScroll},
	}
}

func TestRecordExtractor_Unit_PreservesOrder(t *testing.T) {
	resp := extract.RawResponse{
		"results": []any{
			map[string]any{"eventId": "c"},
			map[string]any{"eventId": "a"},
			map[string]any{"eventId": "b"},
		},
	}
	recs, err := extract.NewRecordExtractor().Extract(resp, resultsStream())
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "c", recs[0]["eventId"])
	assert.Equal(t, "a", recs[1]["eventId"])
	assert.Equal(t, "b", recs[2]["eventId"])
}

func TestRecordExtractor_Unit_EmptyContainerIsNotAnError(t *testing.T) {
	recs, err := extract.NewRecordExtractor().Extract(extract.RawResponse{"results": []any{}}, resultsStream())
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestRecordExtractor_Unit_MissingContainer(t *testing.T) {
	_, err := extract.NewRecordExtractor().Extract(extract.RawResponse{"scrollId": "x"}, resultsStream())
	var extractErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Equal(t, "survey_response", extractErr.Stream)
}

func TestRecordExtractor_Unit_ContainerNotArray(t *testing.T) {
	_, err := extract.NewRecordExtractor().Extract(extract.RawResponse{"results": "nope"}, resultsStream())
	var extractErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractErr)
}

func TestRecordExtractor_Unit_NonObjectElement(t *testing.T) {
	resp := extract.RawResponse{"results": []any{map[string]any{"eventId": "a"}, "junk"}}
	_, err := extract.NewRecordExtractor().Extract(resp, resultsStream())
	var extractErr *extract.ExtractionError
	require.ErrorAs(t, err, &extractErr)
}

func TestRecordExtractor_Unit_NestedPath(t *testing.T) {
	desc := resultsStream()
	desc.RecordsPath = "$.data.items[*]"
	resp := extract.RawResponse{"data": map[string]any{"items": []any{map[string]any{"id": "1"}}}}

	recs, err := extract.NewRecordExtractor().Extract(resp, desc)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestRecordExtractor_Unit_InvalidPath(t *testing.T) {
	desc := resultsStream()
	desc.RecordsPath = "$.results[*"
	_, err := extract.NewRecordExtractor().Extract(extract.RawResponse{}, desc)
	var cfgErr *extract.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestRecordExtractor_Unit_ReadPageMetadata(t *testing.T) {
	resp := extract.RawResponse{
		"results":   []any{map[string]any{"eventId": "a"}},
		"scrollId":  "next-1",
		"totalHits": float64(7),
	}
	page, err := extract.NewRecordExtractor().ReadPage(resp, resultsStream())
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.True(t, page.HasToken)
	assert.Equal(t, "next-1", page.Token)
	assert.True(t, page.HasTotalHits)
	assert.Equal(t, float64(7), page.TotalHits)
}

func TestRecordExtractor_Unit_ReadPageWithoutToken(t *testing.T) {
	resp := extract.RawResponse{"results": []any{}, "totalHits": float64(0)}
	page, err := extract.NewRecordExtractor().ReadPage(resp, resultsStream())
	require.NoError(t, err)
	assert.False(t, page.HasToken)
}
