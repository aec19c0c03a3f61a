package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/archivist-project/archivist-sync/internal/manifestfmt"
	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/syncengine/store"
)

// DescriptorRegistrar is the subset of the Manifest Registry the Sync
// Engine needs. Defined here, on the consumer side, so
// this package never imports internal/registry — the registry instead
// satisfies this interface structurally.
type DescriptorRegistrar interface {
	Register(folderID string, descriptor manifestfmt.Descriptor)
}

const peerIDShortLen = 8

// peerIDShort truncates a full peer id to the short form used in the
// manifest filename.
func peerIDShort(peerID string) string {
	r := []rune(peerID)
	if len(r) <= peerIDShortLen {
		return peerID
	}

	return string(r[:peerIDShortLen])
}

// authorManifest authors one manifest: snapshot the
// folder's current CID mapping and tombstones, bump the sequence number,
// write and upload the manifest file, register a descriptor, and drain the
// folder's pending change state.
func authorManifest(
	ctx context.Context,
	folder *FolderState,
	st *store.Store,
	client *nodeapi.Client,
	registrar DescriptorRegistrar,
	logger *slog.Logger,
) error {
	info, err := client.Info(ctx)
	if err != nil {
		return fmt.Errorf("syncengine: reading source peer id: %w", err)
	}

	seq, err := st.NextSequence(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("syncengine: incrementing manifest sequence: %w", err)
	}

	files, err := st.ListFiles(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("syncengine: listing files for manifest: %w", err)
	}

	tombstones, err := st.ListTombstones(ctx, folder.ID)
	if err != nil {
		return fmt.Errorf("syncengine: listing tombstones for manifest: %w", err)
	}

	manifest := manifestfmt.New(folder.ID, folder.Path, info.PeerID, seq,
		toFileEntries(files), toDeletedEntries(tombstones))

	encoded, err := manifestfmt.Encode(manifest)
	if err != nil {
		return fmt.Errorf("syncengine: encoding manifest: %w", err)
	}

	manifestPath := filepath.Join(folder.Path, manifestfmt.FileName(peerIDShort(info.PeerID)))
	if err := os.WriteFile(manifestPath, encoded, 0o644); err != nil {
		return fmt.Errorf("syncengine: writing manifest file %s: %w", manifestPath, err)
	}

	cid, err := client.Upload(ctx, manifestPath, nil)
	if err != nil {
		return fmt.Errorf("syncengine: uploading manifest: %w", err)
	}

	if err := st.ClearTombstones(ctx, folder.ID); err != nil {
		return fmt.Errorf("syncengine: clearing tombstones after manifest authoring: %w", err)
	}

	if err := st.ResetChangeCounter(ctx, folder.ID); err != nil {
		return fmt.Errorf("syncengine: resetting change counter after manifest authoring: %w", err)
	}

	manifest.ManifestCID = &cid
	descriptor := manifestfmt.DescriptorFor(manifest, cid)

	if registrar != nil {
		registrar.Register(folder.ID, descriptor)
	}

	folder.LastManifestCID = cid
	folder.LastManifestAt = time.Now().UTC()
	folder.PendingRetry = true
	folder.FileCount = len(files)

	var total uint64
	for _, f := range files {
		total += f.SizeBytes
	}

	folder.TotalSize = total

	logger.Info("authored manifest",
		slog.String("folder_id", folder.ID),
		slog.Uint64("sequence", seq),
		slog.String("manifest_cid", cid),
		slog.Int("files", len(files)),
		slog.Int("tombstones", len(tombstones)),
	)

	return nil
}

func toFileEntries(entries []store.FileEntry) []manifestfmt.FileEntry {
	out := make([]manifestfmt.FileEntry, len(entries))
	for i, e := range entries {
		out[i] = manifestfmt.FileEntry{
			Path:       e.Path,
			CID:        e.CID,
			SizeBytes:  e.SizeBytes,
			MimeType:   e.MimeType,
			UploadedAt: e.UploadedAt,
		}
	}

	return out
}

func toDeletedEntries(tombstones []store.Tombstone) []manifestfmt.DeletedEntry {
	out := make([]manifestfmt.DeletedEntry, len(tombstones))
	for i, t := range tombstones {
		out[i] = manifestfmt.DeletedEntry{
			Path:      t.Path,
			CID:       t.CID,
			DeletedAt: t.DeletedAt,
		}
	}

	return out
}
