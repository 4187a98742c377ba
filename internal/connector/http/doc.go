// Package http is the REST transport for Gainsight PX.
//
// Structure:
//
//	client.go  - HTTP client with rate limiting, retry and JSON decoding
//	auth.go    - API key authentication
package http
