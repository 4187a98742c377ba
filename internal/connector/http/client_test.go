package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(&ClientConfig{
		BaseURL:        srv.URL + "/v1",
		Auth:           APIKey{Key: "secret"},
		InitialBackoff: time.Millisecond,
		RateLimit:      1000,
		RateBurst:      100,
	})
}

func TestClient_Unit_SendDecodesJSON(t *testing.T) {
	var gotPath, gotKey, gotQuery string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get(APIKeyHeader)
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"eventId":"a","date":1672531200000}],"scrollId":"s1","totalHits":1}`))
	})

	resp, err := client.Send(context.Background(), http.MethodGet, "/survey/responses",
		url.Values{"pageSize": {"4"}, "scrollId": {"prev"}})
	require.NoError(t, err)

	assert.Equal(t, "/v1/survey/responses", gotPath)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "pageSize=4&scrollId=prev", gotQuery)

	assert.Equal(t, "s1", resp["scrollId"])
	assert.Equal(t, json.Number("1"), resp["totalHits"])
	results := resp["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, json.Number("1672531200000"), results[0].(map[string]any)["date"])
}

func TestClient_Unit_EmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	resp, err := client.Send(context.Background(), http.MethodGet, "/segment", nil)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestClient_Unit_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"engagements":[]}`))
	})

	resp, err := client.Send(context.Background(), http.MethodGet, "/engagement", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.NotNil(t, resp["engagements"])
}

func TestClient_Unit_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	})

	_, err := client.Send(context.Background(), http.MethodGet, "/engagement", nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.StatusCode)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_Unit_ClientErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad api key", http.StatusUnauthorized)
	})

	_, err := client.Send(context.Background(), http.MethodGet, "/engagement", nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	assert.Equal(t, "bad api key", httpErr.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_Unit_RateLimitedRetried(t *testing.T) {
	var calls atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"segments":[]}`))
	})

	_, err := client.Send(context.Background(), http.MethodGet, "/segment", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Unit_InvalidJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	})
	_, err := client.Send(context.Background(), http.MethodGet, "/engagement", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode /engagement response")
}

func TestClient_Unit_CanceledContext(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Send(ctx, http.MethodGet, "/engagement", nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRetryAfter_Unit_Parse(t *testing.T) {
	h := http.Header{}
	assert.Equal(t, time.Duration(0), retryAfter(h))
	h.Set("Retry-After", "2")
	assert.Equal(t, 2*time.Second, retryAfter(h))
	h.Set("Retry-After", "3600")
	assert.Equal(t, time.Minute, retryAfter(h))
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Equal(t, time.Duration(0), retryAfter(h))
}

func TestAPIKey_Unit_DefaultHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	APIKey{Key: "k"}.Apply(req)
	assert.Equal(t, "k", req.Header.Get("X-APTRINSIC-API-Key"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	APIKey{}.Apply(req)
	assert.Empty(t, req.Header.Get(APIKeyHeader))
}
