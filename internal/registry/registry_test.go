package registry

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
)

func TestRegistryLastWriterWinsBySequence(t *testing.T) {
	r := New()

	older := manifestfmt.Descriptor{FolderID: "f1", ManifestCID: "Cold", SequenceNumber: 3, UpdatedAt: time.Now()}
	newer := manifestfmt.Descriptor{FolderID: "f1", ManifestCID: "Cnew", SequenceNumber: 5, UpdatedAt: time.Now()}
	stale := manifestfmt.Descriptor{FolderID: "f1", ManifestCID: "Cstale", SequenceNumber: 4, UpdatedAt: time.Now()}

	r.Register("f1", older)
	r.Register("f1", newer)
	r.Register("f1", stale)

	got, ok := r.Get("f1")
	require.True(t, ok)
	assert.Equal(t, newer.ManifestCID, got.ManifestCID)
	assert.Equal(t, newer.SequenceNumber, got.SequenceNumber)
}

func TestRegistryPeerID(t *testing.T) {
	r := New()

	assert.Equal(t, "", r.PeerID())

	r.SetPeerID("peer-a")
	assert.Equal(t, "peer-a", r.PeerID())
}

func TestAllowListEmptyDeniesAll(t *testing.T) {
	al := NewAllowList(nil)

	assert.False(t, al.Allowed(net.ParseIP("127.0.0.1")))
}

func TestAllowListMatchesConfiguredIP(t *testing.T) {
	al := NewAllowList([]string{"10.0.0.5", "192.168.1.1"})

	assert.True(t, al.Allowed(net.ParseIP("10.0.0.5")))
	assert.False(t, al.Allowed(net.ParseIP("10.0.0.6")))
}
