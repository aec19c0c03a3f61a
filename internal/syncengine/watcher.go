package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/text/unicode/norm"
)

// watchEventBuf is the event channel's capacity. Sized large rather than
// actually unbounded: a sustained backlog past this means the queue
// processor is falling behind regardless of channel shape.
const watchEventBuf = 4096

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher. Tests substitute an in-memory implementation.
type FsWatcher interface {
	Add(name string) error
	Remove(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Remove(name string) error { return fw.w.Remove(name) }
func (fw *fsnotifyWrapper) Close() error { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error { return fw.w.Errors }

// Watcher feeds a single recursive filesystem watch into a RawEvent
// channel, routed to watched folders via a FolderRouter.
type Watcher struct {
	router         *FolderRouter
	logger         *slog.Logger
	watcherFactory func() (FsWatcher, error)
}

func NewWatcher(router *FolderRouter, logger *slog.Logger) *Watcher {
	return &Watcher{
		router: router,
		logger: logger,
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// addRecursive walks root and adds a watch on every directory within it,
// skipping ignored entries so renamed-in editor temp directories etc. never
// get a watch of their own.
func (w *Watcher) addRecursive(fsw FsWatcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.logger.Warn("walk error during watch setup",
				slog.String("path", path), slog.String("error", walkErr.Error()))

			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.IsDir() {
			return nil
		}

		if path != root && shouldIgnore(d.Name()) {
			return filepath.SkipDir
		}

		if err := fsw.Add(path); err != nil {
			w.logger.Warn("failed to add watch", slog.String("path", path), slog.String("error", err.Error()))
		}

		return nil
	})
}

// Watch blocks, translating raw fsnotify events into routed RawEvents on
// out, until ctx is canceled. roots is the set of watched-folder absolute
// paths to add initial recursive watches for; the router (already
// populated by the caller) determines per-event ownership.
func (w *Watcher) Watch(ctx context.Context, roots []string, out chan<- RawEvent) error {
	fsw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("syncengine: creating filesystem watcher: %w", err)
	}
	defer fsw.Close()

	for _, root := range roots {
		if err := w.addRecursive(fsw, root); err != nil {
			return fmt.Errorf("syncengine: adding watches under %s: %w", root, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, open := <-fsw.Events():
			if !open {
				return nil
			}

			w.handleEvent(ctx, fsw, ev, out)
		case err, open := <-fsw.Errors():
			if !open {
				return nil
			}

			w.logger.Warn("filesystem watcher error", slog.String("error", err.Error()))
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw FsWatcher, ev fsnotify.Event, out chan<- RawEvent) {
	name := filepath.Base(ev.Name)
	if shouldIgnore(name) {
		return
	}

	folderID, ok := w.router.Route(ev.Name)
	if !ok {
		return
	}

	changeType, ok := classifyOp(ev.Op)
	if !ok {
		return
	}

	// A newly created directory needs its own watch so nested files are
	// observed too.
	if changeType == ChangeCreate && ev.Op&fsnotify.Create != 0 {
		if err := fsw.Add(ev.Name); err == nil {
			// Directory; re-walk it for any files that raced the watch.
			_ = w.addRecursive(fsw, ev.Name)
		}
	}

	raw := RawEvent{
		FolderID: folderID,
		Path:     nfcNormalize(ev.Name),
		Type:     changeType,
	}

	select {
	case out <- raw:
	case <-ctx.Done():
	}
}

// classifyOp maps an fsnotify.Op to a ChangeType. Rename is treated as a
// delete of the old path — fsnotify delivers a separate Create for the new
// name when the destination is also watched.
func classifyOp(op fsnotify.Op) (ChangeType, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return ChangeCreate, true
	case op&fsnotify.Write != 0:
		return ChangeModify, true
	case op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return ChangeDelete, true
	default:
		return 0, false
	}
}

// nfcNormalize applies Unicode NFC normalization so the same filename
// produces the same map key regardless of the originating filesystem's
// normalization form (notably macOS's NFD).
func nfcNormalize(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}

	return norm.NFC.String(s)
}
