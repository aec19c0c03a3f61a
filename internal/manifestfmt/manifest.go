// Package manifestfmt defines the on-wire and on-disk Manifest JSON schema
// shared by the Sync Engine (author/encode) and the Backup Daemon
// (fetch/decode). Keeping one struct set on both sides of the wire, instead
// of two independently maintained copies, is what makes the round-trip
// invariant (decode(encode(m)) == m) enforceable at compile time.
package manifestfmt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// SchemaVersion is the current Manifest schema version written to new
// manifests. Decode accepts any non-empty version string; it does not
// compare it with SchemaVersion.
const SchemaVersion = "1.0"

// Manifest is a versioned, sequence-numbered snapshot of a folder's
// content. sequence_number strictly increases per (source peer, folder);
// two manifests at the same sequence number must be content-identical.
type Manifest struct {
	Version        string         `json:"version"`
	FolderID       string         `json:"folder_id"`
	FolderPath     string         `json:"folder_path"`
	SourcePeerID   string         `json:"source_peer_id"`
	SequenceNumber uint64         `json:"sequence_number"`
	LastUpdated    time.Time      `json:"last_updated"`
	ManifestCID    *string        `json:"manifest_cid"`
	Files          []FileEntry    `json:"files"`
	DeletedFiles   []DeletedEntry `json:"deleted_files"`
	Stats          Stats          `json:"stats"`
}

// FileEntry is one current, live file in the manifest's file list.
type FileEntry struct {
	Path       string    `json:"path"`
	CID        string    `json:"cid"`
	SizeBytes  uint64    `json:"size_bytes"`
	MimeType   *string   `json:"mime_type"`
	UploadedAt time.Time `json:"uploaded_at"`
}

// DeletedEntry is a tombstone: a path that was previously published and has
// since been locally deleted, carrying the last known CID so a backup peer
// can free it.
type DeletedEntry struct {
	Path      string    `json:"path"`
	CID       string    `json:"cid"`
	DeletedAt time.Time `json:"deleted_at"`
}

// Stats summarizes the manifest's file list for cheap display without
// walking the full Files slice.
type Stats struct {
	TotalFiles     uint32 `json:"total_files"`
	TotalSizeBytes uint64 `json:"total_size_bytes"`
}

// New builds a Manifest from the given snapshot of files and tombstones.
// Files and tombstones are copied so the caller's slices may be mutated
// freely afterward. Stats are computed from files, not passed in, so they
// can never drift from the file list.
func New(folderID, folderPath, sourcePeerID string, sequence uint64, files []FileEntry, deleted []DeletedEntry) Manifest {
	filesCopy := append([]FileEntry(nil), files...)
	deletedCopy := append([]DeletedEntry(nil), deleted...)

	var totalSize uint64
	for _, f := range filesCopy {
		totalSize += f.SizeBytes
	}

	return Manifest{
		Version:        SchemaVersion,
		FolderID:       folderID,
		FolderPath:     folderPath,
		SourcePeerID:   sourcePeerID,
		SequenceNumber: sequence,
		LastUpdated:    time.Now().UTC(),
		ManifestCID:    nil,
		Files:          filesCopy,
		DeletedFiles:   deletedCopy,
		Stats: Stats{
			TotalFiles:     uint32(len(filesCopy)),
			TotalSizeBytes: totalSize,
		},
	}
}

// Encode serializes a Manifest to stable, pretty-printed JSON (two-space
// indent). Field order is fixed by struct field order, so repeated encodes
// of an unchanged Manifest produce byte-identical output.
func Encode(m Manifest) ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("manifestfmt: encoding manifest: %w", err)
	}

	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a Manifest from JSON, as fetched from a node or read from
// disk. It does not enforce the sequence-monotonicity invariant — that is a
// property of a Manifest series for one (peer, folder) pair, not of a single
// document, and is checked by the Backup Daemon's sequence-gap policy.
func Decode(data []byte) (Manifest, error) {
	var m Manifest

	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("manifestfmt: decoding manifest: %w", err)
	}

	if m.Version == "" {
		return Manifest{}, fmt.Errorf("manifestfmt: manifest missing version field")
	}

	return m, nil
}

// FileName returns the hidden manifest filename for a given short source
// peer id: `.archivist-manifest-<peer_id_short>.json`, written into the
// watched folder itself. The leading dot and
// the distinctive prefix are what let the folder watcher's ignore rule keep
// this file from ever re-entering its own upload queue.
func FileName(peerIDShort string) string {
	return fmt.Sprintf(".archivist-manifest-%s.json", peerIDShort)
}

// Descriptor is the small, metadata-only record the discovery server
// exposes for a manifest. It carries no file data — consumers fetch the
// full manifest by CID through the node network.
type Descriptor struct {
	FolderID       string    `json:"folderId"`
	FolderPath     string    `json:"folderPath"`
	ManifestCID    string    `json:"manifestCid"`
	SequenceNumber uint64    `json:"sequenceNumber"`
	UpdatedAt      time.Time `json:"updatedAt"`
	FileCount      uint32    `json:"fileCount"`
	TotalSizeBytes uint64    `json:"totalSizeBytes"`
}

// DescriptorFor builds a Descriptor from a Manifest and its node-assigned
// CID. Called by the Sync Engine right after a successful manifest upload.
func DescriptorFor(m Manifest, manifestCID string) Descriptor {
	return Descriptor{
		FolderID:       m.FolderID,
		FolderPath:     m.FolderPath,
		ManifestCID:    manifestCID,
		SequenceNumber: m.SequenceNumber,
		UpdatedAt:      m.LastUpdated,
		FileCount:      m.Stats.TotalFiles,
		TotalSizeBytes: m.Stats.TotalSizeBytes,
	}
}
