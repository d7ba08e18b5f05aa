package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitKick(t *testing.T, w *Watcher) bool {
	t.Helper()
	select {
	case <-w.Kicks():
		return true
	case <-time.After(2 * time.Second):
		return false
	}
}

func drain(w *Watcher) {
	for {
		select {
		case <-w.Kicks():
		default:
			return
		}
	}
}

func TestInitialKick(t *testing.T) {
	w, err := New(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	assert.True(t, waitKick(t, w), "startup must kick to pick up backlog")
}

func TestKickOnNewDocument(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, time.Hour, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.True(t, waitKick(t, w)) // initial
	drain(w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "20260301T000000Z_gmail_hello.md"), []byte("---\n"), 0o644))
	assert.True(t, waitKick(t, w))
}

func TestPollFallback(t *testing.T) {
	w, err := New(t.TempDir(), 50*time.Millisecond, nil)
	require.NoError(t, err)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	require.True(t, waitKick(t, w)) // initial
	// The ticker keeps kicking even with no filesystem events.
	assert.True(t, waitKick(t, w))
}

func TestRelevantFiltersTempFiles(t *testing.T) {
	w, err := New(t.TempDir(), time.Hour, nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.relevant(fsnotify.Event{Name: "/vault/Inbox/x.md", Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/vault/Inbox/.tmp-123", Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/vault/Inbox/notes.txt", Op: fsnotify.Create}))
	assert.False(t, w.relevant(fsnotify.Event{Name: "/vault/Inbox/x.md", Op: fsnotify.Chmod}))
}

func TestNewFailsOnMissingDir(t *testing.T) {
	_, err := New("/does/not/exist", time.Hour, nil)
	assert.Error(t, err)
}
