package manifestfmt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripEmpty(t *testing.T) {
	m := New("folder-1", "/tmp/src", "peer-a", 1, nil, nil)

	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m.FolderID, got.FolderID)
	assert.Equal(t, m.SequenceNumber, got.SequenceNumber)
	assert.Empty(t, got.Files)
	assert.Empty(t, got.DeletedFiles)
	assert.Equal(t, uint32(0), got.Stats.TotalFiles)
}

func TestRoundTripWithFilesAndTombstones(t *testing.T) {
	mime := "text/plain"
	now := time.Now().UTC().Truncate(time.Second)

	files := []FileEntry{
		{Path: "a.txt", CID: "Ca", SizeBytes: 5, MimeType: &mime, UploadedAt: now},
		{Path: "b.txt", CID: "Cb", SizeBytes: 5, MimeType: nil, UploadedAt: now},
	}
	deleted := []DeletedEntry{
		{Path: "c.txt", CID: "Cc", DeletedAt: now},
	}

	m := New("folder-1", "/tmp/src", "peer-a", 2, files, deleted)

	data, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, m, got)
}

func TestNewComputesStatsFromFiles(t *testing.T) {
	files := []FileEntry{
		{Path: "a", CID: "Ca", SizeBytes: 10},
		{Path: "b", CID: "Cb", SizeBytes: 20},
	}

	m := New("f", "/tmp/f", "peer", 1, files, nil)

	assert.Equal(t, uint32(2), m.Stats.TotalFiles)
	assert.Equal(t, uint64(30), m.Stats.TotalSizeBytes)
}

func TestNewCopiesSlices(t *testing.T) {
	files := []FileEntry{{Path: "a", CID: "Ca", SizeBytes: 1}}

	m := New("f", "/tmp/f", "peer", 1, files, nil)

	files[0].CID = "mutated"

	assert.Equal(t, "Ca", m.Files[0].CID)
}

func TestDecodeRejectsMissingVersion(t *testing.T) {
	_, err := Decode([]byte(`{"folder_id":"f"}`))
	assert.Error(t, err)
}

func TestFileNameUsesHiddenArchivistPrefix(t *testing.T) {
	assert.Equal(t, ".archivist-manifest-12ab34cd.json", FileName("12ab34cd"))
}

func TestDescriptorForOmitsFileData(t *testing.T) {
	files := []FileEntry{{Path: "a", CID: "Ca", SizeBytes: 10}}
	m := New("f1", "/tmp/f1", "peer", 3, files, nil)

	d := DescriptorFor(m, "Cmanifest")

	assert.Equal(t, "f1", d.FolderID)
	assert.Equal(t, "Cmanifest", d.ManifestCID)
	assert.Equal(t, uint64(3), d.SequenceNumber)
	assert.Equal(t, uint32(1), d.FileCount)
	assert.Equal(t, uint64(10), d.TotalSizeBytes)
}
