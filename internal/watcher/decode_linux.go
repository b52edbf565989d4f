//go:build linux

package watcher

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"syscall"
	"time"
	"unsafe"
)

// eventHeaderSize is the fixed-width portion of a raw inotify_event record.
// The variable-length name field (of length InotifyEvent.Len) follows
// immediately in the kernel-provided buffer.
const eventHeaderSize = int(unsafe.Sizeof(syscall.InotifyEvent{}))

// decodeEvents walks a buffer of packed inotify_event records and returns the
// classified FileChangeEvents in kernel delivery order.
//
// The binary layout of each record is:
//
//	struct inotify_event {
//	    int32_t  wd;      // watch descriptor
//	    uint32_t mask;    // event mask
//	    uint32_t cookie;  // rename correlation cookie
//	    uint32_t len;     // length of name field (incl. NUL padding)
//	    char     name[];  // len bytes, NUL-terminated, padded to alignment
//	}
//
// Records whose descriptor is no longer in the registry are skipped silently:
// the watch was removed between the kernel queuing the event and this decode.
// Queue-overflow and unmount notifications are logged and produce no event.
func (fw *FileWatcher) decodeEvents(buf []byte) []FileChangeEvent {
	var out []FileChangeEvent

	for offset := 0; offset+eventHeaderSize <= len(buf); {
		// The kernel aligns records to the size of the largest member
		// (uint32), so the cast is safe with the bounds check above.
		raw := (*syscall.InotifyEvent)(unsafe.Pointer(&buf[offset]))
		offset += eventHeaderSize

		var name string
		if raw.Len > 0 {
			end := offset + int(raw.Len)
			if end > len(buf) {
				break // truncated record; stop decoding
			}
			nameBytes := buf[offset:end]
			if i := bytes.IndexByte(nameBytes, 0); i >= 0 {
				nameBytes = nameBytes[:i]
			}
			name = string(nameBytes)
			offset = end
		}

		// IN_Q_OVERFLOW arrives with wd == -1 when the kernel dropped
		// events. Surfaced, not retried.
		if raw.Mask&syscall.IN_Q_OVERFLOW != 0 {
			fw.logger.Warn("watcher: kernel event queue overflowed; events were lost")
			continue
		}

		base, ok := fw.registry.lookup(raw.Wd)
		if !ok {
			continue
		}

		if raw.Mask&syscall.IN_UNMOUNT != 0 {
			fw.logger.Warn("watcher: backing filesystem unmounted",
				slog.String("path", base))
			continue
		}

		kind, ok := classifyMask(raw.Mask)
		if !ok {
			continue
		}

		path := base
		if name != "" {
			path = filepath.Join(base, name)
		}
		if matchesIgnore(fw.ignores, path) {
			continue
		}

		fileType := FileTypeFile
		if raw.Mask&syscall.IN_ISDIR != 0 {
			fileType = FileTypeDir
		}

		out = append(out, FileChangeEvent{
			Timestamp: time.Now(),
			EventType: kind,
			FileType:  fileType,
			FilePath:  path,
		})
	}

	return out
}

// classifyMask maps an inotify event mask to the engine's event taxonomy.
// The first matching rule wins; masks carrying none of the four bits (move
// notifications, self-delete, close events) produce no dispatched event.
func classifyMask(mask uint32) (EventType, bool) {
	switch {
	case mask&syscall.IN_CREATE != 0:
		return EventCreated, true
	case mask&syscall.IN_DELETE != 0:
		return EventDeleted, true
	case mask&syscall.IN_MODIFY != 0:
		return EventChanged, true
	case mask&syscall.IN_ATTRIB != 0:
		return EventChangedAttribs, true
	default:
		return "", false
	}
}
