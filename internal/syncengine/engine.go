// Package syncengine implements the Sync Engine: a folder
// watcher feeding an upload queue, a durable CID mapping and tombstone log
// per folder, and manifest authoring with strictly-increasing sequence
// numbers.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/archivist-project/archivist-sync/internal/nodeapi"
	"github.com/archivist-project/archivist-sync/internal/syncengine/store"
)

// Config controls the engine's batching and manifest-authoring cadence.
type Config struct {
	ManifestThreshold int
	QueueTick         time.Duration
	BatchSize         int
}

// Engine owns one upload queue and folder router shared across every
// watched folder on a source peer.
type Engine struct {
	cfg       Config
	client    *nodeapi.Client
	store     *store.Store
	registrar DescriptorRegistrar
	logger    *slog.Logger

	router  *FolderRouter
	watcher *Watcher
	queue   *UploadQueue

	mu      sync.Mutex
	folders map[string]*FolderState

	events chan RawEvent
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg Config, client *nodeapi.Client, st *store.Store, registrar DescriptorRegistrar, logger *slog.Logger) *Engine {
	router := NewFolderRouter()

	return &Engine{
		cfg:       cfg,
		client:    client,
		store:     st,
		registrar: registrar,
		logger:    logger,
		router:    router,
		watcher:   NewWatcher(router, logger),
		queue:     NewUploadQueue(),
		folders:   make(map[string]*FolderState),
		events:    make(chan RawEvent, watchEventBuf),
	}
}

// AddFolder registers a watched folder. Must be called before Start; the
// engine does not support adding folders to an already-running watch.
func (e *Engine) AddFolder(ctx context.Context, id, path string, enabled bool) error {
	if err := e.store.EnsureFolder(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	e.folders[id] = &FolderState{ID: id, Path: path, Enabled: enabled, Status: FolderIdle}
	e.mu.Unlock()

	e.router.Set(id, path, enabled)

	return nil
}

// Start launches the watcher, the event dispatcher, and the queue
// processor ticker. It returns once all goroutines have been spawned; it
// does not block.
func (e *Engine) Start(ctx context.Context) error {
	ctx, e.cancel = context.WithCancel(ctx)

	roots := e.enabledRoots()

	e.wg.Add(1)

	go func() {
		defer e.wg.Done()

		if err := e.watcher.Watch(ctx, roots, e.events); err != nil {
			e.logger.Error("folder watcher exited", slog.String("error", err.Error()))
		}
	}()

	e.wg.Add(1)

	go e.dispatchLoop(ctx)

	e.wg.Add(1)

	go e.tickerLoop(ctx)

	return nil
}

// Stop cancels the watcher and background loops and waits for them to
// exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	e.wg.Wait()
}

func (e *Engine) enabledRoots() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var roots []string

	for _, f := range e.folders {
		if f.Enabled {
			roots = append(roots, f.Path)
		}
	}

	return roots
}

func (e *Engine) folder(id string) (*FolderState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.folders[id]

	return f, ok
}

// dispatchLoop reads routed filesystem events and applies create/modify
// enqueue and delete handling.
func (e *Engine) dispatchLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.events:
			e.onRawEvent(ctx, ev)
		}
	}
}

func (e *Engine) onRawEvent(ctx context.Context, ev RawEvent) {
	folder, ok := e.folder(ev.FolderID)
	if !ok {
		return
	}

	relPath, err := filepath.Rel(folder.Path, ev.Path)
	if err != nil {
		e.logger.Warn("could not compute relative path for event",
			slog.String("path", ev.Path), slog.String("error", err.Error()))

		return
	}

	switch ev.Type {
	case ChangeDelete:
		e.handleDelete(ctx, folder, relPath)
	case ChangeCreate:
		// A path already mapped has nothing new to upload; duplicate
		// Create events (e.g. a rename landing back on a watched name)
		// are the common source of these.
		has, err := e.store.HasFile(ctx, folder.ID, relPath)
		if err != nil {
			e.logger.Warn("checking existing mapping failed", slog.String("error", err.Error()))

			return
		}

		if has {
			return
		}

		e.queue.Push(folder.ID, ev.Path, time.Now())
	case ChangeModify:
		// Content changed — always enqueue a fresh upload regardless of
		// whether the path is already mapped, since a new CID is needed.
		e.queue.Push(folder.ID, ev.Path, time.Now())
	}
}

func (e *Engine) handleDelete(ctx context.Context, folder *FolderState, relPath string) {
	entry, ok, err := e.store.RemoveFile(ctx, folder.ID, relPath)
	if err != nil {
		e.logger.Warn("removing CID mapping failed", slog.String("error", err.Error()))

		return
	}

	if !ok {
		return // never uploaded; nothing to tombstone
	}

	if err := e.store.AddTombstone(ctx, folder.ID, store.Tombstone{
		Path: relPath, CID: entry.CID, DeletedAt: time.Now().UTC(),
	}); err != nil {
		e.logger.Warn("recording tombstone failed", slog.String("error", err.Error()))

		return
	}

	n, err := e.store.IncrementChangeCounter(ctx, folder.ID)
	if err != nil {
		e.logger.Warn("incrementing change counter failed", slog.String("error", err.Error()))

		return
	}

	e.maybeAuthorManifest(ctx, folder, n)
}

// tickerLoop drains the upload queue in batches on a fixed tick.
func (e *Engine) tickerLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.cfg.QueueTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.processBatch(ctx)
		}
	}
}

func (e *Engine) processBatch(ctx context.Context) {
	batch := e.queue.Drain(e.cfg.BatchSize)

	for _, item := range batch {
		e.processUpload(ctx, item)
	}
}

func (e *Engine) processUpload(ctx context.Context, item QueueItem) {
	folder, ok := e.folder(item.FolderID)
	if !ok {
		return
	}

	stat, err := os.Stat(item.Path)
	if err != nil {
		// File vanished between enqueue and processing; the delete event
		// (if any) handles bookkeeping. Not requeued.
		e.logger.Debug("upload source missing, skipping",
			slog.String("path", item.Path), slog.String("error", err.Error()))

		return
	}

	relPath, err := filepath.Rel(folder.Path, item.Path)
	if err != nil {
		e.logger.Warn("could not compute relative path for upload", slog.String("error", err.Error()))

		return
	}

	cid, err := e.client.Upload(ctx, item.Path, nil)
	if err != nil {
		e.logger.Warn("upload failed, not requeued",
			slog.String("path", item.Path), slog.String("error", err.Error()))

		return
	}

	mimeType := mimeTypeForPath(item.Path)

	if err := e.store.UpsertFile(ctx, folder.ID, store.FileEntry{
		Path:       relPath,
		CID:        cid,
		SizeBytes:  uint64(stat.Size()),
		MimeType:   &mimeType,
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		e.logger.Warn("recording CID mapping failed", slog.String("error", err.Error()))

		return
	}

	n, err := e.store.IncrementChangeCounter(ctx, folder.ID)
	if err != nil {
		e.logger.Warn("incrementing change counter failed", slog.String("error", err.Error()))

		return
	}

	e.mu.Lock()
	folder.recent.push(filepath.Base(item.Path))
	e.mu.Unlock()

	e.maybeAuthorManifest(ctx, folder, n)
}

func mimeTypeForPath(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}

	return "application/octet-stream"
}

func (e *Engine) maybeAuthorManifest(ctx context.Context, folder *FolderState, changeCount int) {
	if changeCount < e.cfg.ManifestThreshold {
		return
	}

	if err := e.authorManifestNow(ctx, folder.ID); err != nil {
		e.logger.Error("manifest authoring failed", slog.String("folder_id", folder.ID), slog.String("error", err.Error()))
	}
}

// TriggerManifest authors a manifest for folderID immediately, regardless
// of its change counter.
func (e *Engine) TriggerManifest(ctx context.Context, folderID string) error {
	return e.authorManifestNow(ctx, folderID)
}

func (e *Engine) authorManifestNow(ctx context.Context, folderID string) error {
	folder, ok := e.folder(folderID)
	if !ok {
		return fmt.Errorf("syncengine: unknown folder %q", folderID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return authorManifest(ctx, folder, e.store, e.client, e.registrar, e.logger)
}

// Status returns a snapshot of folderID's in-memory state for display.
func (e *Engine) Status(folderID string) (FolderState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.folders[folderID]
	if !ok {
		return FolderState{}, false
	}

	return f.Snapshot(), true
}

// MarkBackupSynced clears folderID's pending_retry flag and stamps
// backup_synced_at, called by the Backup Notifier after a successful
// trigger delivery.
func (e *Engine) MarkBackupSynced(folderID string, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	f, ok := e.folders[folderID]
	if !ok {
		return
	}

	f.PendingRetry = false
	f.BackupSynced = at
}
