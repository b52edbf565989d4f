//go:build linux

package watcher

import (
	"fmt"
	"syscall"
)

// watchMask is the inotify event mask requested for every watch the engine
// registers, file and directory targets alike.
//
//   - IN_MODIFY:      file content changed
//   - IN_ATTRIB:      metadata changed
//   - IN_MOVE:        entry renamed into or out of the directory
//     (IN_MOVED_FROM | IN_MOVED_TO)
//   - IN_CREATE:      child entry created
//   - IN_DELETE:      child entry deleted
//   - IN_DELETE_SELF: the watched entry itself was deleted
//   - IN_MOVE_SELF:   the watched entry itself was renamed
//   - IN_DONT_FOLLOW: symlinks are not traversed at watch-setup time
const watchMask uint32 = syscall.IN_MODIFY |
	syscall.IN_ATTRIB |
	syscall.IN_MOVE |
	syscall.IN_CREATE |
	syscall.IN_DELETE |
	syscall.IN_DELETE_SELF |
	syscall.IN_MOVE_SELF |
	syscall.IN_DONT_FOLLOW

// inotify is a thin typed wrapper over the Linux inotify syscalls. Each
// method is a one-to-one mirror of the underlying kernel operation; no
// policy lives here.
type inotify struct {
	fd int
}

// openInstance creates a new inotify instance with close-on-exec set.
func openInstance() (*inotify, error) {
	fd, err := syscall.InotifyInit1(syscall.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("inotify: init: %w", err)
	}
	return &inotify{fd: fd}, nil
}

// addWatch registers path with the given event mask and returns the kernel
// watch descriptor.
func (in *inotify) addWatch(path string, mask uint32) (int32, error) {
	wd, err := syscall.InotifyAddWatch(in.fd, path, mask)
	if err != nil {
		return 0, fmt.Errorf("inotify: add watch %q: %w", path, err)
	}
	return int32(wd), nil
}

// removeWatch releases a watch descriptor. The kernel removes descriptors on
// its own when the watched entry is deleted, so EINVAL here is a normal
// outcome during subtree teardown.
func (in *inotify) removeWatch(wd int32) error {
	if _, err := syscall.InotifyRmWatch(in.fd, uint32(wd)); err != nil {
		return fmt.Errorf("inotify: rm watch %d: %w", wd, err)
	}
	return nil
}

// readEvents blocks until at least one event is queued, then fills buf with
// one or more packed inotify_event records and returns the number of bytes
// written. EINTR is retried internally; every other error is the caller's to
// interpret.
func (in *inotify) readEvents(buf []byte) (int, error) {
	for {
		n, err := syscall.Read(in.fd, buf)
		if err == syscall.EINTR {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("inotify: read: %w", err)
		}
		return n, nil
	}
}

// close releases the inotify instance, and with it every descriptor the
// kernel still holds for it.
func (in *inotify) close() error {
	if err := syscall.Close(in.fd); err != nil {
		return fmt.Errorf("inotify: close: %w", err)
	}
	return nil
}
