package syncengine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFsWatcher struct {
	added  []string
	events chan fsnotify.Event
	errs   chan error
}

func newFakeFsWatcher() *fakeFsWatcher {
	return &fakeFsWatcher{
		events: make(chan fsnotify.Event, 16),
		errs:   make(chan error, 1),
	}
}

func (f *fakeFsWatcher) Add(name string) error { f.added = append(f.added, name); return nil }
func (f *fakeFsWatcher) Remove(string) error { return nil }
func (f *fakeFsWatcher) Close() error { return nil }
func (f *fakeFsWatcher) Events() <-chan fsnotify.Event { return f.events }
func (f *fakeFsWatcher) Errors() <-chan error { return f.errs }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestWatcherRoutesEventsAndIgnoresHidden(t *testing.T) {
	router := NewFolderRouter()
	root := t.TempDir()
	router.Set("f1", root, true)

	fake := newFakeFsWatcher()

	w := NewWatcher(router, discardLogger())
	w.watcherFactory = func() (FsWatcher, error) { return fake, nil }

	out := make(chan RawEvent, 16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, []string{root}, out) }()

	time.Sleep(20 * time.Millisecond) // let Watch reach its select loop

	fake.events <- fsnotify.Event{Name: root + "/visible.txt", Op: fsnotify.Create}
	fake.events <- fsnotify.Event{Name: root + "/.hidden", Op: fsnotify.Create}
	fake.events <- fsnotify.Event{Name: root + "/visible.txt", Op: fsnotify.Write}
	fake.events <- fsnotify.Event{Name: root + "/visible.txt", Op: fsnotify.Remove}

	var got []RawEvent
	for i := 0; i < 3; i++ {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	cancel()
	require.NoError(t, <-done)

	require.Len(t, got, 3)
	assert.Equal(t, ChangeCreate, got[0].Type)
	assert.Equal(t, ChangeModify, got[1].Type)
	assert.Equal(t, ChangeDelete, got[2].Type)

	for _, ev := range got {
		assert.Equal(t, "f1", ev.FolderID)
	}
}

func TestWatcherDropsEventsOutsideWatchedFolders(t *testing.T) {
	router := NewFolderRouter()
	router.Set("f1", "/watched", true)

	fake := newFakeFsWatcher()
	w := NewWatcher(router, discardLogger())
	w.watcherFactory = func() (FsWatcher, error) { return fake, nil }

	out := make(chan RawEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, nil, out) }()

	time.Sleep(20 * time.Millisecond)

	fake.events <- fsnotify.Event{Name: "/elsewhere/file.txt", Op: fsnotify.Create}

	cancel()
	require.NoError(t, <-done)

	select {
	case ev := <-out:
		t.Fatalf("expected no routed event, got %+v", ev)
	default:
	}
}
