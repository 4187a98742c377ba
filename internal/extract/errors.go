package extract

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a sync failure for reporting.
type Kind string

const (
	KindNone          Kind = ""
	KindTransport     Kind = "transport"
	KindExtraction    Kind = "extraction"
	KindPagination    Kind = "pagination_protocol"
	KindConfiguration Kind = "configuration"
	KindCanceled      Kind = "canceled"
	KindSink          Kind = "sink"
	KindState         Kind = "state"
)

// TransportError is a network or HTTP level failure. The core never retries it.
type TransportError struct {
	Stream string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Stream, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ExtractionError reports a response without the expected record container.
type ExtractionError struct {
	Stream string
	Path   string
	Reason string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s: %s", e.Stream, e.Path, e.Reason)
}

// PaginationProtocolError reports missing or inconsistent pagination metadata.
// It is absorbed by ending pagination, never returned from SyncStream.
type PaginationProtocolError struct {
	Field  string
	Value  any
	Reason string
}

func (e *PaginationProtocolError) Error() string {
	return fmt.Sprintf("pagination protocol: %s=%v: %s", e.Field, e.Value, e.Reason)
}

// ConfigurationError reports invalid stream setup.
type ConfigurationError struct {
	Stream  string
	Field   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Stream == "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration %s: %s: %s", e.Stream, e.Field, e.Message)
}

// SinkError wraps a failure of the downstream sink.
type SinkError struct {
	Stream string
	Err    error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink %s: %v", e.Stream, e.Err) }

func (e *SinkError) Unwrap() error { return e.Err }

// StateError wraps a failure of the state store.
type StateError struct {
	Stream string
	Op     string
	Err    error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Stream, e.Err)
}

func (e *StateError) Unwrap() error { return e.Err }

// ErrorKind classifies err.
func ErrorKind(err error) Kind {
	if err == nil {
		return KindNone
	}
	var (
		transportErr *TransportError
		extractErr   *ExtractionError
		protocolErr  *PaginationProtocolError
		configErr    *ConfigurationError
		sinkErr      *SinkError
		stateErr     *StateError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.As(err, &configErr):
		return KindConfiguration
	case errors.As(err, &extractErr):
		return KindExtraction
	case errors.As(err, &protocolErr):
		return KindPagination
	case errors.As(err, &sinkErr):
		return KindSink
	case errors.As(err, &stateErr):
		return KindState
	case errors.As(err, &transportErr):
		return KindTransport
	}
	return KindTransport
}
