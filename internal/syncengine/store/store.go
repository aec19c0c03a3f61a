// Package store provides the Sync Engine's durable, per-folder CID mapping
// and tombstone log, plus the monotonic manifest sequence number and
// change-counter each folder needs across process restarts.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

// FileEntry is one live entry in a folder's CID mapping.
type FileEntry struct {
	Path       string
	CID        string
	SizeBytes  uint64
	MimeType   *string
	UploadedAt time.Time
}

// Tombstone is one pending deletion awaiting the next manifest.
type Tombstone struct {
	Path      string
	CID       string
	DeletedAt time.Time
}

// Store is a sole-writer SQLite-backed durable store, one database per
// sync-engine instance shared across all watched folders. WAL mode,
// SetMaxOpenConns(1), goose migrations run once at open.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at dbPath and brings its schema up to
// date.
func Open(dbPath string, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("syncengine/store: opening %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureFolder inserts a folder row (sequence 0, change_counter 0) if one
// does not already exist. Safe to call every time a folder is (re)watched.
func (s *Store) EnsureFolder(ctx context.Context, folderID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO folders (folder_id) VALUES (?) ON CONFLICT(folder_id) DO NOTHING`,
		folderID)
	if err != nil {
		return fmt.Errorf("syncengine/store: ensuring folder %s: %w", folderID, err)
	}

	return nil
}

// UpsertFile records or replaces the CID mapping entry for path. A path
// maps to at most one CID at a time.
func (s *Store) UpsertFile(ctx context.Context, folderID string, entry FileEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cid_entries (folder_id, path, cid, size_bytes, mime_type, uploaded_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(folder_id, path) DO UPDATE SET
				cid = excluded.cid,
				size_bytes = excluded.size_bytes,
				mime_type = excluded.mime_type,
				uploaded_at = excluded.uploaded_at`,
		folderID, entry.Path, entry.CID, entry.SizeBytes, entry.MimeType, entry.UploadedAt)
	if err != nil {
		return fmt.Errorf("syncengine/store: upserting %s/%s: %w", folderID, entry.Path, err)
	}

	return nil
}

// HasFile reports whether path is currently present in folderID's CID
// mapping — the "already in synced_files" half of the queue's dedup rule.
func (s *Store) HasFile(ctx context.Context, folderID, path string) (bool, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cid_entries WHERE folder_id = ? AND path = ?`,
		folderID, path).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("syncengine/store: checking %s/%s: %w", folderID, path, err)
	}

	return n > 0, nil
}

// RemoveFile deletes path's CID mapping entry and returns it, so the caller
// can turn it into a tombstone. Returns ok=false if path was never mapped.
func (s *Store) RemoveFile(ctx context.Context, folderID, path string) (entry FileEntry, ok bool, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT path, cid, size_bytes, mime_type, uploaded_at
			FROM cid_entries WHERE folder_id = ? AND path = ?`,
		folderID, path)

	if scanErr := row.Scan(&entry.Path, &entry.CID, &entry.SizeBytes, &entry.MimeType, &entry.UploadedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return FileEntry{}, false, nil
		}

		return FileEntry{}, false, fmt.Errorf("syncengine/store: reading %s/%s: %w", folderID, path, scanErr)
	}

	if _, execErr := s.db.ExecContext(ctx,
		`DELETE FROM cid_entries WHERE folder_id = ? AND path = ?`, folderID, path); execErr != nil {
		return FileEntry{}, false, fmt.Errorf("syncengine/store: deleting %s/%s: %w", folderID, path, execErr)
	}

	return entry, true, nil
}

// ListFiles returns every live CID mapping entry for folderID, ordered by
// path for deterministic manifest output.
func (s *Store) ListFiles(ctx context.Context, folderID string) ([]FileEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, cid, size_bytes, mime_type, uploaded_at
			FROM cid_entries WHERE folder_id = ? ORDER BY path`, folderID)
	if err != nil {
		return nil, fmt.Errorf("syncengine/store: listing files for %s: %w", folderID, err)
	}
	defer rows.Close()

	var entries []FileEntry

	for rows.Next() {
		var e FileEntry
		if err := rows.Scan(&e.Path, &e.CID, &e.SizeBytes, &e.MimeType, &e.UploadedAt); err != nil {
			return nil, fmt.Errorf("syncengine/store: scanning file row: %w", err)
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// AddTombstone records a pending deletion. Replaces
// any previous tombstone for the same path — only the most recent deletion
// of a given path matters until the next manifest drains the list.
func (s *Store) AddTombstone(ctx context.Context, folderID string, t Tombstone) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tombstones (folder_id, path, cid, deleted_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(folder_id, path) DO UPDATE SET
				cid = excluded.cid,
				deleted_at = excluded.deleted_at`,
		folderID, t.Path, t.CID, t.DeletedAt)
	if err != nil {
		return fmt.Errorf("syncengine/store: adding tombstone %s/%s: %w", folderID, t.Path, err)
	}

	return nil
}

// ListTombstones returns every pending tombstone for folderID, ordered by
// path for deterministic manifest output.
func (s *Store) ListTombstones(ctx context.Context, folderID string) ([]Tombstone, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, cid, deleted_at FROM tombstones WHERE folder_id = ? ORDER BY path`, folderID)
	if err != nil {
		return nil, fmt.Errorf("syncengine/store: listing tombstones for %s: %w", folderID, err)
	}
	defer rows.Close()

	var tombstones []Tombstone

	for rows.Next() {
		var t Tombstone
		if err := rows.Scan(&t.Path, &t.CID, &t.DeletedAt); err != nil {
			return nil, fmt.Errorf("syncengine/store: scanning tombstone row: %w", err)
		}

		tombstones = append(tombstones, t)
	}

	return tombstones, rows.Err()
}

// ClearTombstones drains folderID's tombstone list, called immediately
// after a manifest has been authored and uploaded.
func (s *Store) ClearTombstones(ctx context.Context, folderID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tombstones WHERE folder_id = ?`, folderID); err != nil {
		return fmt.Errorf("syncengine/store: clearing tombstones for %s: %w", folderID, err)
	}

	return nil
}

// IncrementChangeCounter bumps folderID's change counter by one, called
// after every successful upload or recorded deletion.
func (s *Store) IncrementChangeCounter(ctx context.Context, folderID string) (int, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE folders SET change_counter = change_counter + 1 WHERE folder_id = ?`, folderID); err != nil {
		return 0, fmt.Errorf("syncengine/store: incrementing change counter for %s: %w", folderID, err)
	}

	return s.ChangeCounter(ctx, folderID)
}

// ChangeCounter returns folderID's current change counter.
func (s *Store) ChangeCounter(ctx context.Context, folderID string) (int, error) {
	var n int

	err := s.db.QueryRowContext(ctx,
		`SELECT change_counter FROM folders WHERE folder_id = ?`, folderID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("syncengine/store: reading change counter for %s: %w", folderID, err)
	}

	return n, nil
}

// ResetChangeCounter zeroes folderID's change counter, called after a
// manifest has been authored.
func (s *Store) ResetChangeCounter(ctx context.Context, folderID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE folders SET change_counter = 0 WHERE folder_id = ?`, folderID); err != nil {
		return fmt.Errorf("syncengine/store: resetting change counter for %s: %w", folderID, err)
	}

	return nil
}

// NextSequence increments and returns folderID's manifest sequence
// number. Sequences are strictly increasing and survive restarts.
func (s *Store) NextSequence(ctx context.Context, folderID string) (uint64, error) {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE folders SET sequence = sequence + 1 WHERE folder_id = ?`, folderID); err != nil {
		return 0, fmt.Errorf("syncengine/store: incrementing sequence for %s: %w", folderID, err)
	}

	var seq uint64

	err := s.db.QueryRowContext(ctx,
		`SELECT sequence FROM folders WHERE folder_id = ?`, folderID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("syncengine/store: reading sequence for %s: %w", folderID, err)
	}

	return seq, nil
}

// Sequence returns folderID's current manifest sequence number without
// incrementing it.
func (s *Store) Sequence(ctx context.Context, folderID string) (uint64, error) {
	var seq uint64

	err := s.db.QueryRowContext(ctx,
		`SELECT sequence FROM folders WHERE folder_id = ?`, folderID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("syncengine/store: reading sequence for %s: %w", folderID, err)
	}

	return seq, nil
}
