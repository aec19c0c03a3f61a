// Package nodeapi is a typed HTTP client for the storage-node sidecar's
// REST surface. All routes are served on localhost and require no
// authentication — the node's own peer-network authentication and
// content-addressing are out of scope for this client.
package nodeapi

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classification via errors.Is: transport failures
// are always retryable, HTTP 4xx are not, HTTP 5xx are.
var (
	// ErrTransport indicates the request never reached the node (connection
	// refused, timeout, DNS failure). Always retryable.
	ErrTransport = errors.New("nodeapi: transport error")

	// ErrClient indicates an HTTP 4xx response. Not retryable — the request
	// itself is malformed or refers to something that doesn't exist.
	ErrClient = errors.New("nodeapi: client error")

	// ErrServer indicates an HTTP 5xx response. Retryable — the node is
	// likely transiently overloaded or restarting.
	ErrServer = errors.New("nodeapi: server error")

	// ErrDecode indicates a 2xx response whose body could not be parsed
	// into the expected shape.
	ErrDecode = errors.New("nodeapi: decode error")
)

// APIError wraps an HTTP response from the node with enough context to
// classify and log it. Use errors.Is(err, nodeapi.ErrClient) etc. to
// classify; Unwrap exposes the sentinel.
type APIError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("nodeapi: HTTP %d: %s", e.StatusCode, truncate(e.Body, 256))
}

func (e *APIError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "…"
}

// classifyStatus returns the sentinel matching an HTTP status code, or nil
// for 2xx success.
func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code >= http.StatusInternalServerError:
		return ErrServer
	case code >= http.StatusBadRequest:
		return ErrClient
	default:
		return nil
	}
}

// isRetryable reports whether a failure at this classification should be
// retried: transport errors and 5xx are, 4xx is not.
func isRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrServer)
}
