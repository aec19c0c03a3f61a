// Package backupdaemon implements the Backup Daemon: the
// manifest-processing state machine that discovers manifest descriptors
// from configured source peers, fetches and decodes manifests, downloads
// referenced files, enforces deletions, and durably tracks processing
// state across process restarts.
package backupdaemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ProcessedManifest records a manifest the daemon has fully applied.
type ProcessedManifest struct {
	ManifestCID    string    `json:"manifest_cid"`
	SourcePeerID   string    `json:"source_peer_id"`
	Sequence       uint64    `json:"sequence_number"`
	FolderID       string    `json:"folder_id"`
	ProcessedAt    time.Time `json:"processed_at"`
	FileCount      int       `json:"file_count_applied"`
	BytesApplied   uint64    `json:"bytes_applied"`
	DeletionsCount int       `json:"deletions_applied"`
}

// InProgressManifest records a manifest currently being applied.
type InProgressManifest struct {
	ManifestCID  string    `json:"manifest_cid"`
	SourcePeerID string    `json:"source_peer_id"`
	Sequence     uint64    `json:"sequence_number"`
	StartedAt    time.Time `json:"started_at"`
	TotalFiles   int       `json:"total_files"`
	FilesDone    int       `json:"files_done"`
	FilesFailed  int       `json:"files_failed"`
	Status       string    `json:"status"`
}

// FailedManifest records a manifest the daemon could not apply.
type FailedManifest struct {
	ManifestCID  string    `json:"manifest_cid"`
	SourcePeerID string    `json:"source_peer_id"`
	FailedAt     time.Time `json:"failed_at"`
	LastError    string    `json:"last_error"`
	RetryCount   int       `json:"retry_count"`
}

// Counters are the daemon's lifetime activity counters.
type Counters struct {
	ManifestsProcessed uint64 `json:"manifests_processed"`
	FilesDownloaded    uint64 `json:"files_downloaded"`
	BytesDownloaded    uint64 `json:"bytes_downloaded"`
	FilesDeleted       uint64 `json:"files_deleted"`
}

// State is the daemon's durable JSON state. processed, in_progress, and failed partition by
// manifest CID and are disjoint at all times.
type State struct {
	Processed  map[string]ProcessedManifest  `json:"processed"`
	InProgress map[string]InProgressManifest `json:"in_progress"`
	Failed     map[string]FailedManifest     `json:"failed"`
	LastPollAt time.Time                     `json:"last_poll_at"`
	Counters   Counters                      `json:"counters"`
}

func newState() *State {
	return &State{
		Processed:  make(map[string]ProcessedManifest),
		InProgress: make(map[string]InProgressManifest),
		Failed:     make(map[string]FailedManifest),
	}
}

// stateStore guards a State with a mutex and persists it to disk after
// every transition. Writes are full-file
// overwrites via write-then-rename so a crash mid-write never leaves a
// truncated file on disk.
type stateStore struct {
	mu   sync.Mutex
	path string
	st   *State
}

func openStateStore(path string) (*stateStore, error) {
	s := &stateStore{path: path, st: newState()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}

		return nil, fmt.Errorf("backupdaemon: reading state file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, s.st); err != nil {
		return nil, fmt.Errorf("backupdaemon: decoding state file %s: %w", path, err)
	}

	if s.st.Processed == nil {
		s.st.Processed = make(map[string]ProcessedManifest)
	}

	if s.st.InProgress == nil {
		s.st.InProgress = make(map[string]InProgressManifest)
	}

	if s.st.Failed == nil {
		s.st.Failed = make(map[string]FailedManifest)
	}

	return s, nil
}

// snapshot returns a value copy of the current state for read-only display.
func (s *stateStore) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := State{
		Processed:  make(map[string]ProcessedManifest, len(s.st.Processed)),
		InProgress: make(map[string]InProgressManifest, len(s.st.InProgress)),
		Failed:     make(map[string]FailedManifest, len(s.st.Failed)),
		LastPollAt: s.st.LastPollAt,
		Counters:   s.st.Counters,
	}

	for k, v := range s.st.Processed {
		cp.Processed[k] = v
	}

	for k, v := range s.st.InProgress {
		cp.InProgress[k] = v
	}

	for k, v := range s.st.Failed {
		cp.Failed[k] = v
	}

	return cp
}

// mutate runs fn with the write lock held, then persists the state to
// disk. Every caller that changes state must go through this so no
// transition is ever left unpersisted.
func (s *stateStore) mutate(fn func(*State)) error {
	s.mu.Lock()
	fn(s.st)
	err := s.persistLocked()
	s.mu.Unlock()

	return err
}

func (s *stateStore) persistLocked() error {
	data, err := json.MarshalIndent(s.st, "", "  ")
	if err != nil {
		return fmt.Errorf("backupdaemon: encoding state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("backupdaemon: creating state directory: %w", err)
	}

	tmp := s.path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("backupdaemon: writing temp state file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("backupdaemon: renaming state file into place: %w", err)
	}

	return nil
}

// isProcessed reports whether cid is already accounted for in either the
// processed or in-progress partitions.
func (s *State) isProcessed(cid string) bool {
	_, processed := s.Processed[cid]
	_, inProgress := s.InProgress[cid]

	return processed || inProgress
}

// highestProcessedSequence returns the highest sequence number already
// processed for the given (source peer, folder) pair, and whether any
// manifest from that pair has been processed at all.
func (s *State) highestProcessedSequence(sourcePeerID, folderID string) (uint64, bool) {
	var (
		highest uint64
		found   bool
	)

	for _, p := range s.Processed {
		if p.SourcePeerID != sourcePeerID || p.FolderID != folderID {
			continue
		}

		if !found || p.Sequence > highest {
			highest = p.Sequence
			found = true
		}
	}

	return highest, found
}
