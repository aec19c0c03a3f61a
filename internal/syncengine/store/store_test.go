package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "sync.db")

	st, err := Open(dbPath, testLogger())
	require.NoError(t, err)

	t.Cleanup(func() { st.Close() })

	return st
}

func TestUpsertAndListFiles(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	mime := "text/plain"
	require.NoError(t, st.UpsertFile(ctx, "f1", FileEntry{
		Path: "a.txt", CID: "cid-1", SizeBytes: 10, MimeType: &mime, UploadedAt: time.Now().UTC(),
	}))

	has, err := st.HasFile(ctx, "f1", "a.txt")
	require.NoError(t, err)
	assert.True(t, has)

	files, err := st.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "cid-1", files[0].CID)

	// Replacing the same path updates in place rather than duplicating.
	require.NoError(t, st.UpsertFile(ctx, "f1", FileEntry{
		Path: "a.txt", CID: "cid-2", SizeBytes: 20, UploadedAt: time.Now().UTC(),
	}))

	files, err = st.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "cid-2", files[0].CID)
}

func TestRemoveFileReturnsEntryAndOk(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	_, ok, err := st.RemoveFile(ctx, "f1", "missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.UpsertFile(ctx, "f1", FileEntry{Path: "b.txt", CID: "cid-b", UploadedAt: time.Now().UTC()}))

	entry, ok, err := st.RemoveFile(ctx, "f1", "b.txt")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cid-b", entry.CID)

	has, err := st.HasFile(ctx, "f1", "b.txt")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestTombstoneLifecycle(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	require.NoError(t, st.AddTombstone(ctx, "f1", Tombstone{Path: "c.txt", CID: "cid-c", DeletedAt: time.Now().UTC()}))

	tombstones, err := st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, "c.txt", tombstones[0].Path)

	require.NoError(t, st.ClearTombstones(ctx, "f1"))

	tombstones, err = st.ListTombstones(ctx, "f1")
	require.NoError(t, err)
	assert.Empty(t, tombstones)
}

func TestChangeCounterIncrementAndReset(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	n, err := st.IncrementChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = st.IncrementChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, st.ResetChangeCounter(ctx, "f1"))

	n, err = st.ChangeCounter(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSequenceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	seq, err := st.NextSequence(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	seq, err = st.NextSequence(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	cur, err := st.Sequence(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cur)
}

func TestEnsureFolderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	require.NoError(t, st.EnsureFolder(ctx, "f1"))
	require.NoError(t, st.EnsureFolder(ctx, "f1"))

	seq, err := st.Sequence(ctx, "f1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)
}
