package syncengine

import "time"

// FolderStatus is a watched folder's displayed activity state.
type FolderStatus string

const (
	FolderIdle     FolderStatus = "idle"
	FolderScanning FolderStatus = "scanning"
	FolderSyncing  FolderStatus = "syncing"
	FolderPaused   FolderStatus = "paused"
	FolderError    FolderStatus = "error"
)

// FolderState is the Sync Engine's in-memory view of one watched folder.
// The durable CID mapping, tombstones, sequence
// number and change counter live in store.Store; this struct holds the
// remaining fields that are cheap to keep in memory and don't need to
// survive a crash mid-cycle (they're re-derived or re-set on next action).
type FolderState struct {
	ID      string
	Path    string
	Enabled bool

	Status          FolderStatus
	LastManifestCID string
	LastManifestAt  time.Time
	PendingRetry    bool
	BackupSynced    time.Time

	FileCount int
	TotalSize uint64

	recent recentRing
}

// Snapshot returns a value copy safe to hand to callers outside the
// engine's lock (status command, discovery descriptors).
func (f *FolderState) Snapshot() FolderState {
	return FolderState{
		ID:              f.ID,
		Path:            f.Path,
		Enabled:         f.Enabled,
		Status:          f.Status,
		LastManifestCID: f.LastManifestCID,
		LastManifestAt:  f.LastManifestAt,
		PendingRetry:    f.PendingRetry,
		BackupSynced:    f.BackupSynced,
		FileCount:       f.FileCount,
		TotalSize:       f.TotalSize,
		recent:          recentRing{items: f.recent.snapshot()},
	}
}
