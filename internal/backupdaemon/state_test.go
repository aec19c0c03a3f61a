package backupdaemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStateStoreStartsFreshWhenFileMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-state.json")

	s, err := openStateStore(path)
	require.NoError(t, err)

	snap := s.snapshot()
	assert.Empty(t, snap.Processed)
	assert.Empty(t, snap.InProgress)
	assert.Empty(t, snap.Failed)
}

func TestMutatePersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon-state.json")

	s, err := openStateStore(path)
	require.NoError(t, err)

	err = s.mutate(func(st *State) {
		st.Processed["Cabc"] = ProcessedManifest{ManifestCID: "Cabc", SourcePeerID: "peer-a", Sequence: 3, FolderID: "f1"}
	})
	require.NoError(t, err)

	reloaded, err := openStateStore(path)
	require.NoError(t, err)

	snap := reloaded.snapshot()
	require.Contains(t, snap.Processed, "Cabc")
	assert.Equal(t, uint64(3), snap.Processed["Cabc"].Sequence)
}

func TestIsProcessedCoversBothPartitions(t *testing.T) {
	st := newState()
	st.Processed["Cdone"] = ProcessedManifest{ManifestCID: "Cdone"}
	st.InProgress["Cactive"] = InProgressManifest{ManifestCID: "Cactive"}

	assert.True(t, st.isProcessed("Cdone"))
	assert.True(t, st.isProcessed("Cactive"))
	assert.False(t, st.isProcessed("Cnew"))
}

func TestHighestProcessedSequence(t *testing.T) {
	st := newState()
	st.Processed["C1"] = ProcessedManifest{SourcePeerID: "peer-a", FolderID: "f1", Sequence: 2}
	st.Processed["C2"] = ProcessedManifest{SourcePeerID: "peer-a", FolderID: "f1", Sequence: 5}
	st.Processed["C3"] = ProcessedManifest{SourcePeerID: "peer-b", FolderID: "f1", Sequence: 9}

	highest, ok := st.highestProcessedSequence("peer-a", "f1")
	require.True(t, ok)
	assert.Equal(t, uint64(5), highest)

	_, ok = st.highestProcessedSequence("peer-c", "f1")
	assert.False(t, ok)
}
