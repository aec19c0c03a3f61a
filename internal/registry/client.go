package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const pollTimeout = 10 * time.Second

// Sentinel errors so callers can tell a network failure from a well-formed
// HTTP error response, matching nodeapi's transport/HTTP split.
var (
	ErrTransport = errors.New("registry: transport error")
	ErrHTTP      = errors.New("registry: http error")
)

// Client polls a remote peer's discovery server.
type Client struct {
	httpClient *http.Client
}

// NewClient builds a polling Client. The 10s request timeout is applied
// per-call, not as a client-wide default, so a caller embedding a
// longer-lived *http.Client for connection reuse still gets the bound.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{httpClient: httpClient}
}

// FetchManifests polls host:port's /manifests route.
func (c *Client) FetchManifests(ctx context.Context, host string, port int) (DiscoveryResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/manifests", host, port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return DiscoveryResponse{}, fmt.Errorf("registry: building request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DiscoveryResponse{}, fmt.Errorf("%w: %s: %w", ErrTransport, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		return DiscoveryResponse{}, fmt.Errorf("%w: %s: HTTP %d: %s", ErrHTTP, url, resp.StatusCode, truncate(string(body), 256))
	}

	var out DiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return DiscoveryResponse{}, fmt.Errorf("registry: decoding response from %s: %w", url, err)
	}

	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "…"
}
