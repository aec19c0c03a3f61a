package nodeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// NodeInfo is the response from GET debug/info. Contracts and the signed
// peer record are opaque passthrough fields — this client only interprets
// PeerID and Version and never acts on the rest.
type NodeInfo struct {
	PeerID            string   `json:"id"`
	Addrs             []string `json:"addrs"`
	SPR               string   `json:"spr"`
	AnnounceAddresses []string `json:"announceAddresses"`
	Archivist         struct {
		Version   string `json:"version"`
		Revision  string `json:"revision"`
		Contracts any    `json:"contracts"`
	} `json:"archivist"`
}

// Info fetches the node's debug/info: peer id, announce addresses, version,
// and signed peer record.
func (c *Client) Info(ctx context.Context) (NodeInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/debug/info", nil)
	if err != nil {
		return NodeInfo{}, err
	}
	defer resp.Body.Close()

	var info NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return NodeInfo{}, fmt.Errorf("nodeapi: %w: decoding node info: %w", ErrDecode, err)
	}

	return info, nil
}

// Health is a cheap liveness ping with a short timeout, used by the
// Supervisor's readiness poll and health monitor and by the CLI's status
// checks. It never retries — a single failed ping is a health
// signal, not a transient blip to paper over.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/debug/info", http.NoBody)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices
}

// SpaceInfo is the response from GET /space.
type SpaceInfo struct {
	TotalBlocks        uint64 `json:"totalBlocks"`
	QuotaMaxBytes      uint64 `json:"quotaMaxBytes"`
	QuotaUsedBytes     uint64 `json:"quotaUsedBytes"`
	QuotaReservedBytes uint64 `json:"quotaReservedBytes"`
}

// Space reports the node's storage quota usage.
func (c *Client) Space(ctx context.Context) (SpaceInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, "/space", nil)
	if err != nil {
		return SpaceInfo{}, err
	}
	defer resp.Body.Close()

	var info SpaceInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return SpaceInfo{}, fmt.Errorf("nodeapi: %w: decoding space info: %w", ErrDecode, err)
	}

	return info, nil
}

// SetLogLevel best-effort sets the node's log level through its API. The
// route is undocumented, so failures (including 404, meaning this build of
// the node doesn't support it) are swallowed by the supervisor after the
// node reaches Running.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := c.do(ctx, http.MethodPost, "/debug/log-level/"+level, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
