package nodeapi

import (
	"context"
	"net/http"
	"net/url"
)

// ConnectPeer asks the node to establish (or confirm) a connection to
// peerID, optionally hinting a multi-address. Idempotent — the node
// returns success for an already-connected peer.
func (c *Client) ConnectPeer(ctx context.Context, peerID string, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, connectPeerTimeout)
	defer cancel()

	path := "/connect/" + url.PathEscape(peerID)
	if addr != "" {
		path += "?addrs=" + url.QueryEscape(addr)
	}

	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return nil
}
