package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/54b3r/docqa-go/internal/logging"
)

// DefaultSettle is how long a path must stay quiet before it is synced.
// Editors often write a file several times in quick succession.
const DefaultSettle = 500 * time.Millisecond

// syncer is the part of *Pipeline the watcher drives.
type syncer interface {
	IngestFile(ctx context.Context, path string) FileResult
	Forget(ctx context.Context, path string) (int, error)
}

// WatchEvent reports one sync performed by the watcher.
type WatchEvent struct {
	// Path is the file that changed.
	Path string
	// Removed is true when the file was deleted or renamed away.
	Removed bool
	// Result is set for ingested files.
	Result FileResult
	// Forgotten is the number of chunks deleted for a removed file.
	Forgotten int
	// Err is set when the sync failed.
	Err error
}

// Watcher keeps an index in step with a directory tree. Created and
// modified files are re-ingested; removed files have their chunks deleted.
type Watcher struct {
	sync    syncer
	settle  time.Duration
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]time.Time
}

// NewWatcher builds a Watcher over p. settle <= 0 selects DefaultSettle.
func NewWatcher(p *Pipeline, settle time.Duration) (*Watcher, error) {
	if p == nil {
		return nil, fmt.Errorf("ingestion: pipeline must not be nil")
	}
	return newWatcher(p, settle)
}

func newWatcher(s syncer, settle time.Duration) (*Watcher, error) {
	if settle <= 0 {
		settle = DefaultSettle
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("ingestion: create watcher: %w", err)
	}
	return &Watcher{
		sync:    s,
		settle:  settle,
		watcher: fw,
		pending: make(map[string]time.Time),
	}, nil
}

// Run watches dir and its subdirectories until ctx is cancelled. report,
// when non-nil, is called after every sync. Run closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, dir string, report func(WatchEvent)) error {
	defer func() { _ = w.watcher.Close() }()

	if err := w.addTree(dir); err != nil {
		return err
	}

	log := logging.FromContext(ctx)
	log.Info("ingestion: watching", slog.String("dir", dir), slog.Duration("settle", w.settle))

	tick := time.NewTicker(w.settle / 2)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev, log)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("ingestion: watcher error", slog.Any("error", err))

		case now := <-tick.C:
			for _, path := range w.due(now) {
				ev := w.syncPath(ctx, path)
				if report != nil {
					report(ev)
				}
			}
		}
	}
}

// handle queues supported files and starts watching new directories. A
// directory moved or copied into the tree arrives with its files already
// written, so those files are queued too.
func (w *Watcher) handle(ev fsnotify.Event, log *slog.Logger) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				log.Warn("ingestion: watch new directory", slog.String("dir", ev.Name), slog.Any("error", err))
			}
			files, err := CollectFiles(ev.Name, true)
			if err != nil {
				log.Warn("ingestion: scan new directory", slog.String("dir", ev.Name), slog.Any("error", err))
			}
			w.queue(files...)
			return
		}
	}
	if !IsSupported(ev.Name) {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.queue(ev.Name)
}

func (w *Watcher) queue(paths ...string) {
	now := time.Now()
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, p := range paths {
		w.pending[p] = now
	}
}

// due pops every pending path quiet for at least settle, sorted.
func (w *Watcher) due(now time.Time) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.settle {
			out = append(out, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(out)
	return out
}

// syncPath ingests path if it still exists, otherwise forgets it.
func (w *Watcher) syncPath(ctx context.Context, path string) WatchEvent {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		n, err := w.sync.Forget(ctx, path)
		if errors.Is(err, ErrNoLedger) {
			err = nil
		}
		return WatchEvent{Path: path, Removed: true, Forgotten: n, Err: err}
	}
	r := w.sync.IngestFile(ctx, path)
	return WatchEvent{Path: path, Result: r, Err: r.Err}
}

// addTree watches dir and every directory below it.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("ingestion: watch %s: %w", path, err)
		}
		return nil
	})
}
