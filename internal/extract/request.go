package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// RequestBuilder maps a pagination state to the query parameters of the next call.
// Implementations must be pure.
type RequestBuilder interface {
	Build(desc *StreamDescriptor, base url.Values, state PaginationState, cfg *StreamConfig) (url.Values, error)
}

// ParamShaper adds stream-specific parameters to a request.
type ParamShaper interface {
	Shape(params url.Values, cfg *StreamConfig) error
}

// ParamShaperFunc adapts a function to ParamShaper.
type ParamShaperFunc func(params url.Values, cfg *StreamConfig) error

// Shape calls f.
func (f ParamShaperFunc) Shape(params url.Values, cfg *StreamConfig) error {
	return f(params, cfg)
}

// DefaultRequestBuilder applies page size, shapers and pagination parameters.
type DefaultRequestBuilder struct{}

var _ RequestBuilder = DefaultRequestBuilder{}

// Build returns a fresh parameter set; base is never mutated.
func (DefaultRequestBuilder) Build(desc *StreamDescriptor, base url.Values, state PaginationState, cfg *StreamConfig) (url.Values, error) {
	params := cloneValues(base)
	if cfg != nil {
		for k, vs := range cfg.Params {
			params[k] = append([]string(nil), vs...)
		}
	}

	if desc.Paginated() {
		size, err := EffectivePageSize(desc, cfg)
		if err != nil {
			return nil, err
		}
		if size > 0 {
			params.Set(desc.Pagination.pageSizeParam(), strconv.Itoa(size))
		}
	}

	for _, shaper := range desc.Shapers {
		if err := shaper.Shape(params, cfg); err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				cfgErr.Stream = desc.Name
				return nil, cfgErr
			}
			return nil, &ConfigurationError{Stream: desc.Name, Field: "params", Message: err.Error()}
		}
	}

	switch state.Kind {
	case StateOffset:
		params.Set(desc.Pagination.pageParam(), strconv.Itoa(state.Offset))
	case StateCursor:
		params.Set(desc.Pagination.cursorParam(), state.Token)
	}
	return params, nil
}

// EffectivePageSize resolves the page size for desc, clamped to its maximum.
func EffectivePageSize(desc *StreamDescriptor, cfg *StreamConfig) (int, error) {
	size := desc.DefaultPageSize
	if cfg != nil {
		if cfg.PageSize < 0 {
			return 0, &ConfigurationError{Stream: desc.Name, Field: "page_size", Message: "must not be negative"}
		}
		if cfg.PageSize > 0 {
			size = cfg.PageSize
		}
	}
	if desc.MaxPageSize > 0 && size > desc.MaxPageSize {
		size = desc.MaxPageSize
	}
	return size, nil
}

// =============================================================================
// SHAPERS
// =============================================================================

// DateRangeFilter adds a closed-interval date filter built from the configured
// start and end dates, as epoch milliseconds:
//
//	filter=date>=1672531200000;date<=1675209600000
type DateRangeFilter struct {
	Param string // default: "filter"
	Field string
}

// Shape requires both bounds.
func (f DateRangeFilter) Shape(params url.Values, cfg *StreamConfig) error {
	if cfg == nil || cfg.StartDate.IsZero() {
		return &ConfigurationError{Field: "start_date", Message: "required for date-range filter on " + f.Field}
	}
	if cfg.EndDate.IsZero() {
		return &ConfigurationError{Field: "end_date", Message: "required for date-range filter on " + f.Field}
	}
	if cfg.EndDate.Before(cfg.StartDate) {
		return &ConfigurationError{Field: "end_date", Message: "must not be before start_date"}
	}
	params.Set(orDefault(f.Param, "filter"), fmt.Sprintf("%s>=%d;%s<=%d",
		f.Field, cfg.StartDate.UnixMilli(), f.Field, cfg.EndDate.UnixMilli()))
	return nil
}

// StaticParams adds fixed parameters.
type StaticParams map[string]string

// Shape sets every pair.
func (s StaticParams) Shape(params url.Values, cfg *StreamConfig) error {
	for k, v := range s {
		params.Set(k, v)
	}
	return nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
