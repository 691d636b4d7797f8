package watch

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/strata/internal/fs"
)

// DefaultDebounce is the quiet period that closes a batch.
const DefaultDebounce = 100 * time.Millisecond

// Invalidator receives batches of changed paths.
// *engine.Scheduler implements it.
type Invalidator interface {
	InvalidateFiles(paths []string) int
	InvalidateAll() int
}

// Batch describes one delivery to the Invalidator.
type Batch struct {
	// Paths are root-relative, sorted and deduplicated. Empty when All is set.
	Paths []string

	// All is set when the batch was a full invalidation after missed events.
	All bool

	// Invalidated is the count returned by the Invalidator.
	Invalidated int
}

// Watcher watches a build root and invalidates on change.
type Watcher struct {
	posix    *fs.PosixFS
	inv      Invalidator
	notify   *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger
	onBatch  func(Batch)
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period that closes a batch.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithBatchHook registers fn to be called after every delivered batch.
func WithBatchHook(fn func(Batch)) Option {
	return func(w *Watcher) {
		w.onBatch = fn
	}
}

// New creates a Watcher over root and registers watches on every
// non-ignored directory below it. Events are only consumed once Run is
// called, but none are lost in between.
func New(root string, inv Invalidator, ignore []string, opts ...Option) (*Watcher, error) {
	if inv == nil {
		return nil, errors.New("watch: invalidator is required")
	}
	posix, err := fs.NewPosixFS(root, ignore...)
	if err != nil {
		return nil, err
	}
	notify, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		posix:    posix,
		inv:      inv,
		notify:   notify,
		debounce: DefaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.addRecursive(posix.Root); err != nil {
		notify.Close()
		return nil, err
	}
	return w, nil
}

// Root returns the absolute build root.
func (w *Watcher) Root() string {
	return w.posix.Root
}

// WatchList returns the watched directories, relative to the root.
func (w *Watcher) WatchList() []string {
	list := w.notify.WatchList()
	out := make([]string, 0, len(list))
	for _, abs := range list {
		if rel, err := w.posix.Rel(abs); err == nil {
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out
}

// Run delivers batches until ctx is done, then flushes the pending batch
// and closes the underlying watcher. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.notify.Close()
	w.logger.Debug("watching build root", "root", w.posix.Root, "debounce", w.debounce)

	pending := make(map[string]bool)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		n := w.inv.InvalidateFiles(paths)
		w.logger.Debug("invalidated changed paths", "paths", len(paths), "invalidated", n)
		w.deliver(Batch{Paths: paths, Invalidated: n})
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return nil

		case event, ok := <-w.notify.Events:
			if !ok {
				flush()
				return nil
			}
			rel, keep := w.relevant(event)
			if !keep {
				continue
			}
			pending[rel] = true
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.notify.Errors:
			if !ok {
				flush()
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watcher queue overflowed, invalidating all files")
			} else {
				w.logger.Warn("watcher error, invalidating all files", "error", err)
			}
			clear(pending)
			if timer != nil {
				timer.Stop()
				timer, timerC = nil, nil
			}
			n := w.inv.InvalidateAll()
			w.deliver(Batch{All: true, Invalidated: n})

		case <-timerC:
			flush()
		}
	}
}

func (w *Watcher) deliver(b Batch) {
	if w.onBatch != nil {
		w.onBatch(b)
	}
}

// relevant converts an event to a root-relative path and drops events for
// ignored or foreign paths. New directories join the watch set.
func (w *Watcher) relevant(event fsnotify.Event) (string, bool) {
	if event.Op == fsnotify.Chmod {
		return "", false
	}
	rel, err := w.posix.Rel(event.Name)
	if err != nil || rel == "" {
		return "", false
	}
	if w.posix.Ignored(rel) {
		return "", false
	}
	if event.Has(fsnotify.Create) {
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "path", rel, "error", err)
			}
		}
	}
	return rel, true
}

// addRecursive watches dir and every non-ignored directory below it.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			// vanished between listing and visiting
			if errors.Is(err, iofs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if rel, err := w.posix.Rel(path); err == nil && rel != "" && w.posix.Ignored(rel) {
			return filepath.SkipDir
		}
		if err := w.notify.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}
