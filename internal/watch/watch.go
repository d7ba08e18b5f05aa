// Package watch signals the orchestrator when producers deposit new
// documents into the intake partition. Filesystem notifications are
// backed by a periodic poll: scp-style producers and editors do not
// always emit reliable create events.
package watch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher emits coalesced "intake changed" kicks. Consumers rescan the
// partition on each kick, so a missed duplicate costs nothing.
type Watcher struct {
	dir     string
	poll    time.Duration
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	kicks chan struct{}
	stop  chan struct{}
}

// New creates a watcher over the intake directory.
func New(dir string, poll time.Duration, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create filesystem watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	return &Watcher{
		dir:     dir,
		poll:    poll,
		watcher: fsw,
		logger:  logger.Named("watch"),
		kicks:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
	}, nil
}

// Kicks returns the signal channel. It carries at most one pending
// kick; bursts of producer activity coalesce.
func (w *Watcher) Kicks() <-chan struct{} {
	return w.kicks
}

// Start runs the event loop until the context ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop shuts the watcher down and releases the inotify handle.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	// Initial kick so documents deposited while vaultd was down are
	// picked up immediately.
	w.kick()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(ev) {
				w.kick()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		case <-ticker.C:
			w.kick()
		}
	}
}

// relevant filters for finished task documents arriving in the intake
// partition. Temp files from atomic writes are ignored until renamed.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := ev.Name
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	return strings.HasSuffix(name, ".md") && !strings.HasPrefix(name, ".")
}

func (w *Watcher) kick() {
	select {
	case w.kicks <- struct{}{}:
	default:
	}
}
