//go:build !linux

package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileWatcher is the portable watch engine used where raw inotify is not
// available. It keeps the same exported surface and dispatch semantics as the
// Linux engine: Run blocks, the callback executes on the Run goroutine, and
// only Stop and Dispose may be called from other goroutines.
type FileWatcher struct {
	fsw      *fsnotify.Watcher
	logger   *slog.Logger
	debounce time.Duration
	ignores  []string
	verbose  bool

	// watched holds the registered paths in insertion order; the backend's
	// own WatchList is unordered.
	watched []string

	stopCh chan struct{}

	mu          sync.Mutex
	running     bool
	disposed    bool
	disposeOnce sync.Once
}

// New creates a FileWatcher in the armed, empty state.
func New(opts ...Option) (*FileWatcher, error) {
	o := newOptions(opts)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: new: %w", err)
	}

	return &FileWatcher{
		fsw:      fsw,
		logger:   o.logger,
		debounce: o.debounce,
		ignores:  o.ignores,
		stopCh:   make(chan struct{}, 1),
	}, nil
}

// SetVerbose toggles per-event diagnostic logging. It returns the receiver so
// construction reads fluently.
func (fw *FileWatcher) SetVerbose(v bool) *FileWatcher {
	fw.verbose = v
	return fw
}

// AddFilepath registers path for watching. The target must exist and be a
// regular file or a directory; symlinks are not followed.
func (fw *FileWatcher) AddFilepath(path string, recursive bool) error {
	if fw.isDisposed() {
		return ErrDisposed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %q: %w", path, err)
	}
	return fw.add(abs, recursive)
}

// AddFilepaths registers each path in paths; it stops at the first failure.
func (fw *FileWatcher) AddFilepaths(paths []string, recursive bool) error {
	for _, p := range paths {
		if err := fw.AddFilepath(p, recursive); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFilepath drops every watch whose path equals path or lives under it.
// Paths that were never watched are silently ignored.
func (fw *FileWatcher) RemoveFilepath(path string) error {
	if fw.isDisposed() {
		return ErrDisposed
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %q: %w", path, err)
	}
	fw.removeSubtree(abs)
	return nil
}

// WatchedPaths returns the registered watch paths in insertion order.
func (fw *FileWatcher) WatchedPaths() []string {
	out := make([]string, len(fw.watched))
	copy(out, fw.watched)
	return out
}

func (fw *FileWatcher) add(abs string, recursive bool) error {
	status := classifyTarget(abs)
	switch status {
	case targetNonExisting:
		return fmt.Errorf("%w: %s", ErrTargetNotFound, abs)
	case targetOther:
		return fmt.Errorf("%w: %s", ErrUnsupportedTarget, abs)
	case targetRegularFile:
		if fw.pathWatched(filepath.Dir(abs)) {
			fw.vlog("watcher: parent directory already watched",
				slog.String("path", abs))
			return nil
		}
	}

	fw.removeSubtree(abs)

	if err := fw.fsw.Add(abs); err != nil {
		return fmt.Errorf("watcher: add watch %q: %w", abs, err)
	}
	fw.watched = append(fw.watched, abs)
	fw.vlog("watcher: watching path",
		slog.String("path", abs),
		slog.Bool("recursive", recursive && status == targetDirectory))

	if !recursive || status != targetDirectory {
		return nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Errorf("watcher: read dir %q: %w", abs, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		child := filepath.Join(abs, e.Name())
		if matchesIgnore(fw.ignores, child) {
			continue
		}
		if err := fw.add(child, true); err != nil {
			if errors.Is(err, ErrTargetNotFound) {
				continue
			}
			return err
		}
	}
	return nil
}

func (fw *FileWatcher) pathWatched(path string) bool {
	for _, p := range fw.watched {
		if p == path {
			return true
		}
	}
	return false
}

func (fw *FileWatcher) removeSubtree(abs string) {
	prefix := abs + string(os.PathSeparator)
	kept := fw.watched[:0]
	for _, p := range fw.watched {
		if p != abs && !strings.HasPrefix(p, prefix) {
			kept = append(kept, p)
			continue
		}
		if err := fw.fsw.Remove(p); err != nil {
			fw.logger.Debug("watcher: remove watch",
				slog.String("path", p),
				slog.Any("error", err))
		}
		fw.vlog("watcher: stopped watching path", slog.String("path", p))
	}
	fw.watched = kept
}

// Run enters the blocking read/dispatch loop. It returns nil when stopped by
// Stop or an interrupt signal, and a non-nil error for invalid state, a fatal
// backend failure, or a callback panic.
func (fw *FileWatcher) Run(callback Callback) error {
	if callback == nil {
		return ErrNilCallback
	}

	fw.mu.Lock()
	if fw.disposed {
		fw.mu.Unlock()
		return ErrDisposed
	}
	if fw.running {
		fw.mu.Unlock()
		return ErrAlreadyRunning
	}
	fw.running = true
	fw.mu.Unlock()
	defer func() {
		fw.mu.Lock()
		fw.running = false
		fw.mu.Unlock()
	}()

	// A Stop issued while no loop was live must not abort this run.
	select {
	case <-fw.stopCh:
	default:
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var (
		last   *FileChangeEvent
		lastAt time.Time
	)

	for {
		select {
		case <-fw.stopCh:
			fw.vlog("watcher: run loop stopping")
			return nil

		case sig := <-sigCh:
			fw.logger.Info("watcher: interrupt received",
				slog.String("signal", sig.String()))
			return nil

		case err, ok := <-fw.fsw.Errors:
			if !ok {
				return nil
			}
			fw.logger.Error("watcher: fatal backend error", slog.Any("error", err))
			return fmt.Errorf("watcher: backend: %w", err)

		case raw, ok := <-fw.fsw.Events:
			if !ok {
				return nil
			}
			ev, found := fw.translate(raw)
			if !found {
				continue
			}

			if ev.FileType == FileTypeDir {
				switch ev.EventType {
				case EventCreated:
					if err := fw.add(ev.FilePath, false); err != nil {
						fw.logger.Warn("watcher: cannot watch created directory",
							slog.String("path", ev.FilePath),
							slog.Any("error", err))
					}
				case EventDeleted:
					fw.removeSubtree(ev.FilePath)
				}
			}

			if last != nil &&
				last.FilePath == ev.FilePath &&
				last.FileType == ev.FileType &&
				last.EventType == ev.EventType &&
				time.Since(lastAt) <= fw.debounce {
				fw.vlog("watcher: duplicate event suppressed",
					slog.String("path", ev.FilePath),
					slog.String("event", string(ev.EventType)))
				continue
			}

			if err := dispatch(callback, ev); err != nil {
				fw.logger.Error("watcher: callback failed; stopping",
					slog.Any("error", err))
				return err
			}

			last = &ev
			lastAt = time.Now()
		}
	}
}

// translate maps a backend notification onto the engine's event taxonomy.
// Rename is folded into deletion: the entry left its watched location, which
// is what subtree bookkeeping cares about. Events for ignored paths produce
// nothing.
func (fw *FileWatcher) translate(raw fsnotify.Event) (FileChangeEvent, bool) {
	var kind EventType
	switch {
	case raw.Op.Has(fsnotify.Create):
		kind = EventCreated
	case raw.Op.Has(fsnotify.Remove), raw.Op.Has(fsnotify.Rename):
		kind = EventDeleted
	case raw.Op.Has(fsnotify.Write):
		kind = EventChanged
	case raw.Op.Has(fsnotify.Chmod):
		kind = EventChangedAttribs
	default:
		return FileChangeEvent{}, false
	}

	path := filepath.Clean(raw.Name)
	if matchesIgnore(fw.ignores, path) {
		return FileChangeEvent{}, false
	}

	// The backend does not say whether the entry is a directory, so ask the
	// filesystem; a deleted entry that can no longer be classified counts as
	// a directory when a watch was registered for it.
	fileType := FileTypeFile
	switch classifyTarget(path) {
	case targetDirectory:
		fileType = FileTypeDir
	case targetNonExisting:
		if fw.pathWatched(path) {
			fileType = FileTypeDir
		}
	}

	return FileChangeEvent{
		Timestamp: time.Now(),
		EventType: kind,
		FileType:  fileType,
		FilePath:  path,
	}, true
}

// Stop asks a live Run call to return. It is safe to call from any goroutine.
// Stop before Run, after Run has returned, or after Dispose is a no-op.
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.disposed || !fw.running {
		return
	}
	select {
	case fw.stopCh <- struct{}{}:
	default:
	}
}

// Dispose releases the backend watcher and every registered watch. It is
// idempotent. If a Run call is still live, Dispose signals it to stop but
// does not wait for it.
func (fw *FileWatcher) Dispose() {
	fw.disposeOnce.Do(func() {
		fw.mu.Lock()
		fw.disposed = true
		running := fw.running
		fw.mu.Unlock()

		if running {
			select {
			case fw.stopCh <- struct{}{}:
			default:
			}
		}

		fw.watched = nil
		if err := fw.fsw.Close(); err != nil {
			fw.logger.Warn("watcher: close backend", slog.Any("error", err))
		}
	})
}

// isDisposed reports the disposed flag under the lock.
func (fw *FileWatcher) isDisposed() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.disposed
}

// vlog emits an info-level record only when verbose diagnostics are enabled.
func (fw *FileWatcher) vlog(msg string, args ...any) {
	if fw.verbose {
		fw.logger.Info(msg, args...)
	}
}
