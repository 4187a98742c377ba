package extract

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// =============================================================================
// PAGINATION STATE
// =============================================================================

// StateKind discriminates PaginationState.
type StateKind int

const (
	StateNone StateKind = iota
	StateOffset
	StateCursor
)

// PaginationState is the position needed to request the next page.
// The zero value is None: no page requested yet, or no more pages.
type PaginationState struct {
	Kind   StateKind
	Offset int
	Token  string
}

// NoPage returns the None state.
func NoPage() PaginationState { return PaginationState{} }

// Offset returns a page-number state.
func Offset(n int) PaginationState { return PaginationState{Kind: StateOffset, Offset: n} }

// Cursor returns a scroll-token state.
func Cursor(token string) PaginationState { return PaginationState{Kind: StateCursor, Token: token} }

// IsNone reports whether s is the None state.
func (s PaginationState) IsNone() bool { return s.Kind == StateNone }

func (s PaginationState) String() string {
	switch s.Kind {
	case StateOffset:
		return fmt.Sprintf("offset(%d)", s.Offset)
	case StateCursor:
		return fmt.Sprintf("cursor(%s)", s.Token)
	default:
		return "none"
	}
}

// =============================================================================
// EXTRACTED PAGE
// =============================================================================

// ExtractedPage is one response's records plus its pagination metadata.
type ExtractedPage struct {
	Records []Record

	// RequestedPageSize is the page size sent with the request (0 if none).
	RequestedPageSize int

	// HasTotalHits is set when the response declared a total; TotalHits holds the raw value.
	HasTotalHits bool
	TotalHits    any

	// HasToken is set when the response carried the cursor key; Token holds the raw value.
	HasToken bool
	Token    any
}

// =============================================================================
// PAGINATOR
// =============================================================================

// StopReason records why pagination ended.
type StopReason string

const (
	StopNone       StopReason = ""
	StopEmptyPage  StopReason = "empty_page"
	StopShortPage  StopReason = "short_page"
	StopNoToken    StopReason = "no_token"
	StopEmptyToken StopReason = "empty_token"
	StopExhausted  StopReason = "total_exhausted"
	StopProtocol   StopReason = "protocol_error"
	StopNoProgress StopReason = "no_progress"
	StopSinglePage StopReason = "single_page"
)

// Decision is a paginator's verdict on one page.
type Decision struct {
	HasMore bool
	Next    PaginationState

	// Seen is the updated number of records seen so far.
	Seen int

	Stop     StopReason
	Protocol *PaginationProtocolError
}

// Paginator decides whether more pages remain and what to request next.
type Paginator interface {
	Evaluate(page *ExtractedPage, prior PaginationState, seen int) Decision
}

// PaginatorFor returns the paginator for p.Kind.
func PaginatorFor(p PaginationSpec) (Paginator, error) {
	switch p.Kind {
	case PaginationPageNumber:
		return PageNumber{}, nil
	case PaginationScroll:
		return ScrollCursor{}, nil
	case PaginationSingle, "":
		return SinglePage{}, nil
	default:
		return nil, &ConfigurationError{Field: "pagination", Message: fmt.Sprintf("unknown kind %q", p.Kind)}
	}
}

// PageNumber pages with a 1-based page counter.
type PageNumber struct{}

// Evaluate continues while pages come back full.
func (PageNumber) Evaluate(page *ExtractedPage, prior PaginationState, seen int) Decision {
	n := len(page.Records)
	seen += n
	if n == 0 {
		return Decision{Seen: seen, Stop: StopEmptyPage}
	}
	if page.RequestedPageSize > 0 && n < page.RequestedPageSize {
		return Decision{Seen: seen, Stop: StopShortPage}
	}

	current := 1
	if prior.Kind == StateOffset && prior.Offset > 0 {
		current = prior.Offset
	}
	return Decision{HasMore: true, Next: Offset(current + 1), Seen: seen}
}

// ScrollCursor pages with a server-issued scroll token and re-derives
// completion from the declared total hits.
type ScrollCursor struct{}

// Evaluate stops when the token is missing, falsy, or the total is reached.
// An empty page before the total is reached also stops: the seen count could
// never grow, so another request would repeat forever.
func (ScrollCursor) Evaluate(page *ExtractedPage, prior PaginationState, seen int) Decision {
	if !page.HasToken {
		return Decision{Seen: seen + len(page.Records), Stop: StopNoToken}
	}
	seen += len(page.Records)

	total, perr := totalHits(page)
	if perr != nil {
		return Decision{Seen: seen, Stop: StopProtocol, Protocol: perr}
	}
	if total <= int64(seen) {
		return Decision{Seen: seen, Stop: StopExhausted}
	}
	if len(page.Records) == 0 {
		return Decision{Seen: seen, Stop: StopNoProgress, Protocol: &PaginationProtocolError{
			Field:  "totalHits",
			Value:  page.TotalHits,
			Reason: fmt.Sprintf("empty page before total reached (%d of %d)", seen, total),
		}}
	}

	token, ok := tokenString(page.Token)
	if !ok {
		return Decision{Seen: seen, Stop: StopEmptyToken}
	}
	return Decision{HasMore: true, Next: Cursor(token), Seen: seen}
}

// SinglePage issues exactly one request.
type SinglePage struct{}

// Evaluate always stops.
func (SinglePage) Evaluate(page *ExtractedPage, prior PaginationState, seen int) Decision {
	return Decision{Seen: seen + len(page.Records), Stop: StopSinglePage}
}

func totalHits(page *ExtractedPage) (int64, *PaginationProtocolError) {
	if !page.HasTotalHits || page.TotalHits == nil {
		return 0, &PaginationProtocolError{Field: "totalHits", Reason: "missing"}
	}
	var total float64
	switch v := page.TotalHits.(type) {
	case float64:
		total = v
	case int:
		total = float64(v)
	case int64:
		total = float64(v)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &PaginationProtocolError{Field: "totalHits", Value: v, Reason: "not a number"}
		}
		total = f
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, &PaginationProtocolError{Field: "totalHits", Value: v, Reason: "not a number"}
		}
		total = f
	default:
		return 0, &PaginationProtocolError{Field: "totalHits", Value: v, Reason: "not a number"}
	}
	switch {
	case math.IsNaN(total) || math.IsInf(total, 0):
		return 0, &PaginationProtocolError{Field: "totalHits", Value: page.TotalHits, Reason: "not a number"}
	case total < 0:
		return 0, &PaginationProtocolError{Field: "totalHits", Value: page.TotalHits, Reason: "negative"}
	case total >= math.MaxInt64:
		return 0, &PaginationProtocolError{Field: "totalHits", Value: page.TotalHits, Reason: "out of range"}
	}
	return int64(total), nil
}

// tokenString returns the token as a string, or false when it is empty,
// zero, false or null.
func tokenString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, t != ""
	case bool:
		if !t {
			return "", false
		}
		return strconv.FormatBool(t), true
	case float64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		if t == 0 {
			return "", false
		}
		return strconv.Itoa(t), true
	case int64:
		if t == 0 {
			return "", false
		}
		return strconv.FormatInt(t, 10), true
	case json.Number:
		if f, err := t.Float64(); err == nil && f == 0 {
			return "", false
		}
		return t.String(), t.String() != ""
	case []any:
		if len(t) == 0 {
			return "", false
		}
	case map[string]any:
		if len(t) == 0 {
			return "", false
		}
	}
	return fmt.Sprint(v), true
}
