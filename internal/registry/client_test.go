package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
)

func TestClientFetchManifests(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := DiscoveryResponse{
			PeerID: "peer-b",
			Manifests: []manifestfmt.Descriptor{
				{FolderID: "f1", ManifestCID: "Cabc", SequenceNumber: 2},
			},
			Timestamp: time.Now().UTC(),
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer ts.Close()

	host, portStr := splitHostPort(t, ts.URL)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(nil)

	resp, err := c.FetchManifests(context.Background(), host, port)
	require.NoError(t, err)
	assert.Equal(t, "peer-b", resp.PeerID)
	require.Len(t, resp.Manifests, 1)
	assert.Equal(t, "Cabc", resp.Manifests[0].ManifestCID)
}

func TestClientFetchManifestsHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer ts.Close()

	host, portStr := splitHostPort(t, ts.URL)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := NewClient(nil)

	_, err = c.FetchManifests(context.Background(), host, port)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTP))
}

func TestClientFetchManifestsTransportError(t *testing.T) {
	c := NewClient(&http.Client{Timeout: 100 * time.Millisecond})

	_, err := c.FetchManifests(context.Background(), "127.0.0.1", 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
}

func splitHostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()

	u, err := url.Parse(rawURL)
	require.NoError(t, err)

	host := u.Hostname()
	port := u.Port()

	return host, port
}
