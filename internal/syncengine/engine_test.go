package syncengine

import (
	"context"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/syncengine/store"
)

// fakeNode serves just enough of the node REST surface for the Sync
// Engine's upload and manifest-authoring paths: debug/info for the peer
// id, and POST /data returning a deterministic CID derived from the
// request body (a real node's content address, not reproduced here).
type fakeNode struct {
	peerID string
}

func (n *fakeNode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/debug/info":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"` + n.peerID + `","archivist":{"version":"0.1.0"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/data":
			buf := make([]byte, r.ContentLength)
			_, _ = io.ReadFull(r.Body, buf)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("C" + hex.EncodeToString(fakeCID(buf))))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

// fakeCID derives a short, deterministic stand-in CID from content bytes.
// Real content addressing is the node's job; the test
// only needs the property that identical content maps to identical CIDs.
func fakeCID(b []byte) []byte {
	var sum byte

	for _, c := range b {
		sum ^= c
	}

	return []byte{sum, byte(len(b))}
}

type capturingRegistrar struct {
	descriptors []manifestfmt.Descriptor
}

func (r *capturingRegistrar) Register(_ string, d manifestfmt.Descriptor) {
	r.descriptors = append(r.descriptors, d)
}

func newTestEngine(t *testing.T, registrar DescriptorRegistrar) (*Engine, *store.Store, string) {
	t.Helper()

	node := &fakeNode{peerID: "peer-a"}
	ts := httptest.NewServer(node.handler())
	t.Cleanup(ts.Close)

	client := nodeapi.NewWithBaseURL(ts.URL, nil, nil)

	st, err := store.Open(filepath.Join(t.TempDir(), "sync.db"), discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	root := t.TempDir()

	eng := New(Config{ManifestThreshold: 2, QueueTick: 0, BatchSize: 5}, client, st, registrar, discardLogger())
	require.NoError(t, eng.AddFolder(context.Background(), "f1", root, true))

	return eng, st, root
}

// TestEngineSingleFileRoundTrip: two files uploaded
// one at a time accumulate in the CID mapping, and the second upload's
// change count hits the threshold and authors a manifest.
func TestEngineSingleFileRoundTrip(t *testing.T) {
	reg := &capturingRegistrar{}
	eng, st, root := newTestEngine(t, reg)
	ctx := context.Background()

	aPath := filepath.Join(root, "a.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("hello"), 0o644))
	eng.processUpload(ctx, QueueItem{FolderID: "f1", Path: aPath})

	files, err := st.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "a.txt", files[0].Path)
	assert.EqualValues(t, 5, files[0].SizeBytes)

	counter, err := st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, counter)
	assert.Empty(t, reg.descriptors, "threshold not yet reached, no manifest expected")

	bPath := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(bPath, []byte("world"), 0o644))
	eng.processUpload(ctx, QueueItem{FolderID: "f1", Path: bPath})

	files, err = st.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 2)

	require.Len(t, reg.descriptors, 1, "change counter reached threshold, manifest v1 expected")
	assert.EqualValues(t, 1, reg.descriptors[0].SequenceNumber)
	assert.EqualValues(t, 2, reg.descriptors[0].FileCount)

	folder, ok := eng.Status("f1")
	require.True(t, ok)
	assert.True(t, folder.PendingRetry)
	assert.NotEmpty(t, folder.LastManifestCID)

	counter, err = st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, counter, "change counter drained after authoring")

	tombstones, err := st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

// TestEngineDeletionBecomesTombstoneThenManifestV2: deleting a previously-uploaded file moves it from the CID mapping into a
// tombstone, and an explicitly-triggered manifest v2 carries the remaining
// file plus the deletion, clearing the tombstone list afterward.
func TestEngineDeletionBecomesTombstoneThenManifestV2(t *testing.T) {
	reg := &capturingRegistrar{}
	eng, st, root := newTestEngine(t, reg)
	ctx := context.Background()

	aPath := filepath.Join(root, "a.txt")
	bPath := filepath.Join(root, "b.txt")
	require.NoError(t, os.WriteFile(aPath, []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(bPath, []byte("world"), 0o644))
	eng.processUpload(ctx, QueueItem{FolderID: "f1", Path: aPath})
	eng.processUpload(ctx, QueueItem{FolderID: "f1", Path: bPath})
	require.Len(t, reg.descriptors, 1, "manifest v1 authored at threshold")

	folder, ok := eng.folder("f1")
	require.True(t, ok)

	eng.handleDelete(ctx, folder, "a.txt")

	files, err := st.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "b.txt", files[0].Path)

	tombstones, err := st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, "a.txt", tombstones[0].Path)

	counter, err := st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, counter, "one change since v1, below threshold, no v2 yet")
	require.Len(t, reg.descriptors, 1, "still just v1")

	require.NoError(t, eng.TriggerManifest(ctx, "f1"))

	require.Len(t, reg.descriptors, 2)
	v2 := reg.descriptors[1]
	assert.EqualValues(t, 2, v2.SequenceNumber)
	assert.EqualValues(t, 1, v2.FileCount)

	tombstones, err = st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, tombstones, "tombstone list cleared after authoring v2")

	counter, err = st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, counter)
}

// TestEngineDeletingNeverUploadedPathIsNoop: deleting a path with no CID
// mapping produces no tombstone.
func TestEngineDeletingNeverUploadedPathIsNoop(t *testing.T) {
	eng, st, _ := newTestEngine(t, &capturingRegistrar{})
	ctx := context.Background()

	folder, ok := eng.folder("f1")
	require.True(t, ok)

	eng.handleDelete(ctx, folder, "never-uploaded.txt")

	tombstones, err := st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, tombstones)

	counter, err := st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Zero(t, counter)
}
