package extract

import (
	"fmt"
	"sync"

	"github.com/ohler55/ojg/jp"
)

// RecordExtractor locates records in a decoded response with JSONPath
// expressions such as "$.engagements[*]". Compiled expressions are cached.
type RecordExtractor struct {
	mu    sync.Mutex
	exprs map[string]jp.Expr
}

// NewRecordExtractor creates an extractor with an empty expression cache.
func NewRecordExtractor() *RecordExtractor {
	return &RecordExtractor{exprs: make(map[string]jp.Expr)}
}

func (x *RecordExtractor) compile(path string) (jp.Expr, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if expr, ok := x.exprs[path]; ok {
		return expr, nil
	}
	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, err
	}
	x.exprs[path] = expr
	return expr, nil
}

// Extract returns the stream's records in response order.
//
// A path that matches no container fails with *ExtractionError; a container
// that exists but is empty yields an empty, non-nil slice.
func (x *RecordExtractor) Extract(resp RawResponse, desc *StreamDescriptor) ([]Record, error) {
	expr, err := x.compile(desc.RecordsPath)
	if err != nil {
		return nil, &ConfigurationError{Stream: desc.Name, Field: "records_path", Message: err.Error()}
	}
	if resp == nil {
		return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath, Reason: "empty response body"}
	}

	// "$.results[*]" is split into its container "$.results" so an absent key
	// and an empty array can be told apart.
	if n := len(expr); n > 1 {
		if _, ok := expr[n-1].(jp.Wildcard); ok {
			return x.fromContainer(resp, desc, expr[:n-1])
		}
	}

	matches := expr.Get(resp)
	if len(matches) == 0 {
		return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath, Reason: "no match"}
	}
	records := make([]Record, 0, len(matches))
	for i, m := range matches {
		switch v := m.(type) {
		case map[string]any:
			records = append(records, v)
		case []any:
			elems, err := asRecords(desc, v)
			if err != nil {
				return nil, err
			}
			records = append(records, elems...)
		default:
			return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath,
				Reason: fmt.Sprintf("match %d is %T, not an object", i, m)}
		}
	}
	return records, nil
}

func (x *RecordExtractor) fromContainer(resp RawResponse, desc *StreamDescriptor, container jp.Expr) ([]Record, error) {
	matches := container.Get(resp)
	if len(matches) == 0 {
		return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath, Reason: "record container not found"}
	}
	records := make([]Record, 0)
	for _, m := range matches {
		switch v := m.(type) {
		case []any:
			elems, err := asRecords(desc, v)
			if err != nil {
				return nil, err
			}
			records = append(records, elems...)
		case nil:
			return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath, Reason: "record container is null"}
		default:
			return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath,
				Reason: fmt.Sprintf("record container is %T, not an array", m)}
		}
	}
	return records, nil
}

func asRecords(desc *StreamDescriptor, elems []any) ([]Record, error) {
	out := make([]Record, 0, len(elems))
	for i, e := range elems {
		rec, ok := e.(map[string]any)
		if !ok {
			return nil, &ExtractionError{Stream: desc.Name, Path: desc.RecordsPath,
				Reason: fmt.Sprintf("element %d is %T, not an object", i, e)}
		}
		out = append(out, rec)
	}
	return out, nil
}

// ReadPage extracts the records and pagination metadata of one response.
func (x *RecordExtractor) ReadPage(resp RawResponse, desc *StreamDescriptor) (*ExtractedPage, error) {
	records, err := x.Extract(resp, desc)
	if err != nil {
		return nil, err
	}
	page := &ExtractedPage{Records: records}
	if desc.Pagination.Kind != PaginationScroll {
		return page, nil
	}

	page.Token, page.HasToken, err = x.lookup(resp, desc.Pagination.tokenPath())
	if err != nil {
		return nil, &ConfigurationError{Stream: desc.Name, Field: "token_path", Message: err.Error()}
	}
	page.TotalHits, page.HasTotalHits, err = x.lookup(resp, desc.Pagination.totalHitsPath())
	if err != nil {
		return nil, &ConfigurationError{Stream: desc.Name, Field: "total_hits_path", Message: err.Error()}
	}
	return page, nil
}

func (x *RecordExtractor) lookup(resp RawResponse, path string) (any, bool, error) {
	expr, err := x.compile(path)
	if err != nil {
		return nil, false, err
	}
	matches := expr.Get(resp)
	if len(matches) == 0 {
		return nil, false, nil
	}
	return matches[0], true, nil
}
