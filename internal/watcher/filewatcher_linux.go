//go:build linux

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

	"golang.org/x/sys/unix"
)

// readBufSize is the size of the scratch buffer handed to the kernel read.
// 256 record headers' worth (4 KiB) holds many small events and comfortably
// fits one maximally-sized record (16-byte header plus a NAME_MAX filename).
const readBufSize = 256 * eventHeaderSize

// FileWatcher is the inotify-backed watch engine. It owns one kernel inotify
// instance and an insertion-ordered registry of watch descriptors.
//
// The engine is deliberately single-threaded: Run blocks its caller, the
// callback executes on the Run goroutine, and while the callback runs no
// events are read or dispatched. Watches may be added or removed freely
// before Run and from inside the callback; concurrent mutation from other
// goroutines is not supported. Stop and Dispose are the only methods safe to
// call from another goroutine.
type FileWatcher struct {
	in       *inotify
	registry *watchRegistry
	logger   *slog.Logger
	debounce time.Duration
	ignores  []string
	verbose  bool

	// pipeR/pipeW form a non-blocking self-pipe: Stop (and the interrupt
	// handler installed by Run) write a byte to pipeW, which wakes the
	// poll(2) in the run loop waiting on pipeR.
	pipeR int
	pipeW int

	mu          sync.Mutex
	running     bool
	disposed    bool
	disposeOnce sync.Once
}

// New creates a FileWatcher in the armed, empty state: inotify instance open,
// no watches registered. It fails only if the kernel refuses the instance or
// the self-pipe.
func New(opts ...Option) (*FileWatcher, error) {
	o := newOptions(opts)

	in, err := openInstance()
	if err != nil {
		return nil, err
	}

	var p [2]int
	if err := syscall.Pipe2(p[:], syscall.O_CLOEXEC|syscall.O_NONBLOCK); err != nil {
		_ = in.close()
		return nil, fmt.Errorf("watcher: pipe2: %w", err)
	}

	return &FileWatcher{
		in:       in,
		registry: newWatchRegistry(),
		logger:   o.logger,
		debounce: o.debounce,
		ignores:  o.ignores,
		pipeR:    p[0],
		pipeW:    p[1],
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
//
// A regular file whose containing directory is already watched is a no-op:
// file-level events arrive through the parent directory's watch. Otherwise
// any existing coverage of path or its subtree is dropped first, making the
// call rebuild-idempotent. With recursive set, every directory reachable from
// a directory target receives its own watch (the kernel reports only
// immediate children per descriptor).
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
	entries := fw.registry.entries()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.path)
	}
	return out
}

// add registers abs (already absolute and clean) and, when recursive, its
// directory subtree.
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

	// Rebuild idempotence: re-adding a path replaces any existing coverage
	// of it and its subtree rather than stacking descriptors.
	fw.removeSubtree(abs)

	wd, err := fw.in.addWatch(abs, watchMask)
	if err != nil {
		return err
	}
	fw.registry.insert(wd, abs)
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
			// Non-directory children (symlinks included) are covered by
			// the parent watch.
			continue
		}
		child := filepath.Join(abs, e.Name())
		if matchesIgnore(fw.ignores, child) {
			continue
		}
		if err := fw.add(child, true); err != nil {
			if errors.Is(err, ErrTargetNotFound) {
				continue // directory vanished mid-walk
			}
			return err
		}
	}
	return nil
}

// pathWatched reports whether some descriptor is registered exactly for path.
func (fw *FileWatcher) pathWatched(path string) bool {
	for _, e := range fw.registry.entries() {
		if e.path == path {
			return true
		}
	}
	return false
}

// removeSubtree drops every descriptor covering abs or a path under it.
// Kernel-side removal failures are logged and swallowed: the kernel drops
// descriptors on its own when the watched entry is deleted, so EINVAL is a
// normal outcome here.
func (fw *FileWatcher) removeSubtree(abs string) {
	prefix := abs + string(os.PathSeparator)
	for _, e := range fw.registry.entries() {
		if e.path != abs && !strings.HasPrefix(e.path, prefix) {
			continue
		}
		if err := fw.in.removeWatch(e.wd); err != nil {
			fw.logger.Debug("watcher: remove watch",
				slog.String("path", e.path),
				slog.Any("error", err))
		}
		fw.registry.remove(e.wd)
		fw.vlog("watcher: stopped watching path", slog.String("path", e.path))
	}
}

// Run enters the blocking read/dispatch loop. It returns nil when stopped by
// Stop or an interrupt signal, and a non-nil error for invalid state, a fatal
// kernel read failure, or a callback panic.
//
// For the duration of the call SIGINT and SIGTERM are routed into the engine
// (the previous signal disposition is restored on exit); either signal makes
// Run return nil after the in-flight event, if any, has been dispatched.
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
	fw.drainStopPipe()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sigDone := make(chan struct{})
	var sigWG sync.WaitGroup
	sigWG.Add(1)
	go func() {
		defer sigWG.Done()
		select {
		case sig := <-sigCh:
			fw.logger.Info("watcher: interrupt received",
				slog.String("signal", sig.String()))
			syscall.Write(fw.pipeW, []byte{0}) //nolint:errcheck
		case <-sigDone:
		}
	}()
	defer sigWG.Wait()
	defer close(sigDone)

	buf := make([]byte, readBufSize)
	var (
		last   *FileChangeEvent
		lastAt time.Time
	)

	for {
		clear(buf)

		pollFds := []unix.PollFd{
			{Fd: int32(fw.in.fd), Events: unix.POLLIN},
			{Fd: int32(fw.pipeR), Events: unix.POLLIN},
		}
		_, err := unix.Poll(pollFds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("watcher: poll: %w", err)
		}

		if pollFds[1].Revents&unix.POLLIN != 0 {
			fw.drainStopPipe()
			fw.vlog("watcher: run loop stopping")
			return nil
		}
		if pollFds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := fw.in.readEvents(buf)
		if err != nil {
			fw.logger.Error("watcher: fatal read", slog.Any("error", err))
			return err
		}
		if n <= 0 {
			fw.logger.Warn("watcher: zero-length read from kernel; stopping")
			return nil
		}

		decoded := fw.decodeEvents(buf[:n])
		for _, ev := range decoded {
			// Keep the watch set live before anything is dispatched: a
			// created directory starts generating its own events, a
			// deleted one stops holding descriptors.
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
			// The slot clock restarts after the callback returns so that
			// time spent in the callback does not eat the debounce window.
			lastAt = time.Now()
		}
	}
}

// Stop asks a live Run call to return. It is safe to call from any goroutine.
// Stop before Run, after Run has returned, or after Dispose is a no-op.
func (fw *FileWatcher) Stop() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.disposed || !fw.running {
		return
	}
	syscall.Write(fw.pipeW, []byte{0}) //nolint:errcheck
}

// Dispose releases every watch descriptor, the inotify instance, and the
// self-pipe. It is idempotent. Call it after Run has returned; if a Run call
// is still live, Dispose signals it to stop but does not wait for it.
func (fw *FileWatcher) Dispose() {
	fw.disposeOnce.Do(func() {
		fw.mu.Lock()
		fw.disposed = true
		running := fw.running
		fw.mu.Unlock()

		if running {
			syscall.Write(fw.pipeW, []byte{0}) //nolint:errcheck
		}

		for _, e := range fw.registry.entries() {
			if err := fw.in.removeWatch(e.wd); err != nil {
				fw.logger.Debug("watcher: remove watch during dispose",
					slog.String("path", e.path),
					slog.Any("error", err))
			}
		}
		fw.registry.clear()

		if err := fw.in.close(); err != nil {
			fw.logger.Warn("watcher: close inotify instance", slog.Any("error", err))
		}
		syscall.Close(fw.pipeW) //nolint:errcheck
		syscall.Close(fw.pipeR) //nolint:errcheck
	})
}

// isDisposed reports the disposed flag under the lock.
func (fw *FileWatcher) isDisposed() bool {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.disposed
}

// drainStopPipe empties the non-blocking self-pipe so stale stop requests do
// not affect a later Run.
func (fw *FileWatcher) drainStopPipe() {
	var b [16]byte
	for {
		n, err := syscall.Read(fw.pipeR, b[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// vlog emits an info-level record only when verbose diagnostics are enabled.
func (fw *FileWatcher) vlog(msg string, args ...any) {
	if fw.verbose {
		fw.logger.Info(msg, args...)
	}
}
