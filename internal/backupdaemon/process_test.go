package backupdaemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archivist-project/archivist-sync/internal/config"
	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/registry"
)

// fakeNode serves just enough of the node REST surface for the backup
// daemon's file-and-manifest fetch paths.
type fakeNode struct {
	manifestJSON   []byte
	networkFetches int32
}

func newFakeNode(manifest manifestfmt.Manifest) *fakeNode {
	data, _ := manifestfmt.Encode(manifest)

	return &fakeNode{manifestJSON: data}
}

func (n *fakeNode) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/data":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"content": []map[string]string{}})
		case r.Method == http.MethodGet && r.URL.Path == "/data/"+url.PathEscape("Cmanifest"):
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write(n.manifestJSON)
		case r.Method == http.MethodPost && r.URL.Path == "/data/"+url.PathEscape("Cmanifest")+"/network":
			atomic.AddInt32(&n.networkFetches, 1)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func TestProcessManifestAppliesAndMarksProcessed(t *testing.T) {
	manifest := manifestfmt.New("f1", "/folder", "peer-a", 1, []manifestfmt.FileEntry{
		{Path: "a.txt", CID: "Cfile1", SizeBytes: 10},
	}, nil)

	node := newFakeNode(manifest)
	ts := httptest.NewServer(node.handler())
	defer ts.Close()

	client := nodeapi.NewWithBaseURL(ts.URL, nil, nil)
	discoveryClient := registry.NewClient(nil)

	cfg := config.BackupConfig{
		PollInterval:       "1h",
		MaxConcurrentFetch: 2,
		MaxRetries:         3,
		StatePath:          filepath.Join(t.TempDir(), "daemon-state.json"),
	}

	d, err := New(cfg, nil, client, discoveryClient, nil)
	require.NoError(t, err)

	err = d.processManifest(context.Background(), "Cmanifest")
	require.NoError(t, err)

	snap := d.Snapshot()
	require.Contains(t, snap.Processed, "Cmanifest")
	assert.Equal(t, "peer-a", snap.Processed["Cmanifest"].SourcePeerID)
	assert.NotContains(t, snap.InProgress, "Cmanifest")
}

func TestProcessManifestStaleSequenceSkipsFetch(t *testing.T) {
	manifest := manifestfmt.New("f1", "/folder", "peer-a", 1, nil, nil)

	node := newFakeNode(manifest)
	ts := httptest.NewServer(node.handler())
	defer ts.Close()

	client := nodeapi.NewWithBaseURL(ts.URL, nil, nil)
	discoveryClient := registry.NewClient(nil)

	cfg := config.BackupConfig{
		PollInterval: "1h",
		StatePath:    filepath.Join(t.TempDir(), "daemon-state.json"),
	}

	d, err := New(cfg, nil, client, discoveryClient, nil)
	require.NoError(t, err)

	require.NoError(t, d.state.mutate(func(s *State) {
		s.Processed["Cold"] = ProcessedManifest{ManifestCID: "Cold", SourcePeerID: "peer-a", FolderID: "f1", Sequence: 5}
	}))

	err = d.processManifest(context.Background(), "Cmanifest")
	require.NoError(t, err)

	snap := d.Snapshot()
	assert.Equal(t, int32(0), atomic.LoadInt32(&node.networkFetches))
	assert.Contains(t, snap.Processed, "Cmanifest")
}
