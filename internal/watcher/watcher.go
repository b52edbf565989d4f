// Package watcher implements the filesystem watch engine behind the watchrun
// CLI. The engine maintains a dynamic set of kernel-level watches over files
// and (optionally recursive) directory trees, decodes the raw change events
// delivered by the operating system, keeps the watch set consistent as the
// tree mutates, debounces bursts of identical events, and dispatches a
// refined FileChangeEvent to a caller-supplied callback.
//
// Platform conventions mirror the build-tag split used elsewhere in this
// repository:
//
//	filewatcher_linux.go    (//go:build linux)  — inotify-based engine
//	filewatcher_fsnotify.go (//go:build !linux) — fsnotify-based engine
//
// Both files define the FileWatcher type with an identical exported surface,
// so callers never need build tags of their own.
package watcher

import (
	"errors"
	"log/slog"
	"time"
)

// DefaultDebounce is the window within which a repeat of the previously
// dispatched event (same path, same file type, same event type) is suppressed.
const DefaultDebounce = 100 * time.Millisecond

// EventType classifies the kind of filesystem change carried by a
// FileChangeEvent.
type EventType string

const (
	// EventCreated indicates an entry was created in a watched directory.
	EventCreated EventType = "created"
	// EventDeleted indicates an entry was deleted from a watched directory.
	EventDeleted EventType = "deleted"
	// EventChanged indicates file content was modified.
	EventChanged EventType = "changed"
	// EventChangedAttribs indicates file metadata (permissions, ownership,
	// timestamps) was modified.
	EventChangedAttribs EventType = "changed-attribs"
)

// FileType reports whether the subject of an event is a directory or a file.
type FileType string

const (
	// FileTypeFile marks an event whose subject is a regular file.
	FileTypeFile FileType = "file"
	// FileTypeDir marks an event whose subject is a directory.
	FileTypeDir FileType = "dir"
)

// FileChangeEvent is the refined change notification handed to the Run
// callback.
type FileChangeEvent struct {
	// Timestamp is when the event was decoded from the kernel buffer.
	Timestamp time.Time
	// EventType is one of created, deleted, changed, or changed-attribs.
	EventType EventType
	// FileType is "dir" when the kernel reported directory context, "file"
	// otherwise.
	FileType FileType
	// FilePath is the absolute path of the affected entry.
	FilePath string
}

// Callback receives each surviving (post-debounce) event. It runs on the Run
// loop goroutine: while it executes no further events are read or dispatched.
type Callback func(FileChangeEvent)

// Sentinel errors returned by the engine surface.
var (
	// ErrDisposed is returned when an operation is attempted after Dispose.
	ErrDisposed = errors.New("watcher: disposed")
	// ErrAlreadyRunning is returned by Run when a Run call is in progress.
	ErrAlreadyRunning = errors.New("watcher: already running")
	// ErrNilCallback is returned by Run when the callback is nil.
	ErrNilCallback = errors.New("watcher: nil callback")
	// ErrTargetNotFound is returned by AddFilepath when the target path does
	// not exist or cannot be classified.
	ErrTargetNotFound = errors.New("watcher: target does not exist")
	// ErrUnsupportedTarget is returned by AddFilepath when the target exists
	// but is neither a regular file nor a directory.
	ErrUnsupportedTarget = errors.New("watcher: target is not a regular file or directory")
)

// options holds the construction-time configuration shared by both platform
// engines.
type options struct {
	logger   *slog.Logger
	debounce time.Duration
	ignores  []string
}

// Option configures a FileWatcher at construction time.
type Option func(*options)

// WithLogger sets the slog.Logger the engine emits diagnostics to. The
// default discards nothing: slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDebounce overrides the duplicate-suppression window. A non-positive
// value restores DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(o *options) { o.debounce = d }
}

// WithIgnore registers glob patterns (doublestar syntax, e.g.
// "**/node_modules/**" or "*.tmp") whose matches are excluded both from
// recursive watch registration and from event dispatch.
func WithIgnore(patterns []string) Option {
	return func(o *options) { o.ignores = append(o.ignores, patterns...) }
}

// newOptions applies opts over the defaults.
func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		debounce: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.debounce <= 0 {
		o.debounce = DefaultDebounce
	}
	return o
}
