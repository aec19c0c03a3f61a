package backupdaemon

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
	"github.com/archivist-project/archivist-sync/internal/registry"
)

func newDiscoveryTestServer(t *testing.T, peerID string, descriptors []manifestfmt.Descriptor) (host string, port int) {
	t.Helper()

	reg := registry.New()
	reg.SetPeerID(peerID)

	for _, d := range descriptors {
		reg.Register(d.FolderID, d)
	}

	server := registry.NewServer("127.0.0.1:0", reg, registry.NewAllowList([]string{"127.0.0.1"}), nil)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)

	p, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return u.Hostname(), p
}

func TestDiscoverAggregatesReachablePeers(t *testing.T) {
	host, port := newDiscoveryTestServer(t, "peer-a", []manifestfmt.Descriptor{
		{FolderID: "f1", ManifestCID: "Cabc", SequenceNumber: 1},
	})

	d := &Daemon{
		discoveryClient: registry.NewClient(nil),
		logger:          slog.Default(),
	}

	peers := []config.PeerConfig{
		{Nickname: "a", Host: host, ManifestPort: port, Enabled: true},
		{Nickname: "disabled", Host: "127.0.0.1", ManifestPort: 1, Enabled: false},
	}

	discovered, err := d.discover(context.Background(), peers)
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.Equal(t, "Cabc", discovered[0].ManifestCID)
	assert.Equal(t, "peer-a", discovered[0].SourcePeerID)
}

func TestDiscoverReturnsAllUnreachableWhenEveryEnabledPeerFails(t *testing.T) {
	d := &Daemon{discoveryClient: registry.NewClient(&http.Client{Timeout: 200 * time.Millisecond}), logger: slog.Default()}

	peers := []config.PeerConfig{
		{Nickname: "down", Host: "127.0.0.1", ManifestPort: 1, Enabled: true},
	}

	_, err := d.discover(context.Background(), peers)
	assert.ErrorIs(t, err, ErrAllSourcesUnreachable)
}

func TestFilterUnprocessedDropsKnownCIDs(t *testing.T) {
	st := newState()
	st.Processed["Cdone"] = ProcessedManifest{ManifestCID: "Cdone"}

	in := []discoveredManifest{{ManifestCID: "Cdone"}, {ManifestCID: "Cnew"}}

	out := filterUnprocessed(in, *st)
	require.Len(t, out, 1)
	assert.Equal(t, "Cnew", out[0].ManifestCID)
}
