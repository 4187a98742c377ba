package http

import (
	"net/http"
)

// APIKeyHeader is the header Gainsight PX reads the REST API key from.
const APIKeyHeader = "X-APTRINSIC-API-Key"

// AuthConfig decorates each outgoing request with credentials.
type AuthConfig interface {
	Apply(req *http.Request)
}

// NoAuth sends requests unauthenticated.
type NoAuth struct{}

func (NoAuth) Apply(*http.Request) {}

// APIKey sets the API key header. An empty key leaves the request untouched
// and the server rejects it.
type APIKey struct {
	Key    string
	Header string // default: APIKeyHeader
}

func (a APIKey) Apply(req *http.Request) {
	if a.Key == "" {
		return
	}
	name := a.Header
	if name == "" {
		name = APIKeyHeader
	}
	req.Header.Set(name, a.Key)
}
