//go:build linux

package watcher

import (
	"log/slog"
	"os"
	"syscall"
	"testing"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// decodeFixture builds a FileWatcher with just enough state for decodeEvents:
// a registry and a quiet logger. No kernel instance is involved.
func decodeFixture(t *testing.T, ignores ...string) *FileWatcher {
	t.Helper()
	return &FileWatcher{
		registry: newWatchRegistry(),
		logger:   slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 10})),
		ignores:  ignores,
	}
}

// appendRecord appends one packed inotify_event record to buf. The name, when
// non-empty, is NUL-terminated and padded to a 4-byte boundary the way the
// kernel pads it.
func appendRecord(buf []byte, wd int32, mask uint32, name string) []byte {
	var nameLen uint32
	if name != "" {
		nameLen = uint32(len(name) + 1)
		if rem := nameLen % 4; rem != 0 {
			nameLen += 4 - rem
		}
	}

	raw := syscall.InotifyEvent{Wd: wd, Mask: mask, Len: nameLen}
	hdr := (*[eventHeaderSize]byte)(unsafe.Pointer(&raw))
	buf = append(buf, hdr[:]...)

	if nameLen > 0 {
		padded := make([]byte, nameLen)
		copy(padded, name)
		buf = append(buf, padded...)
	}
	return buf
}

// ---------------------------------------------------------------------------
// Unit tests
// ---------------------------------------------------------------------------

// TestDecodeEvents_SingleRecord verifies path resolution, classification, and
// file-type detection for one ordinary record.
func TestDecodeEvents_SingleRecord(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(7, "/watched/dir")

	buf := appendRecord(nil, 7, syscall.IN_MODIFY, "notes.txt")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.EventType != EventChanged {
		t.Errorf("EventType = %q, want %q", ev.EventType, EventChanged)
	}
	if ev.FileType != FileTypeFile {
		t.Errorf("FileType = %q, want %q", ev.FileType, FileTypeFile)
	}
	if ev.FilePath != "/watched/dir/notes.txt" {
		t.Errorf("FilePath = %q, want /watched/dir/notes.txt", ev.FilePath)
	}
	if ev.Timestamp.IsZero() {
		t.Error("Timestamp is zero")
	}
}

// TestDecodeEvents_NamelessRecord verifies that a record without a name field
// resolves to the watched path itself.
func TestDecodeEvents_NamelessRecord(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(3, "/watched/file.txt")

	buf := appendRecord(nil, 3, syscall.IN_ATTRIB, "")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	if events[0].FilePath != "/watched/file.txt" {
		t.Errorf("FilePath = %q, want /watched/file.txt", events[0].FilePath)
	}
	if events[0].EventType != EventChangedAttribs {
		t.Errorf("EventType = %q, want %q", events[0].EventType, EventChangedAttribs)
	}
}

// TestDecodeEvents_MultipleRecords verifies kernel delivery order is kept.
func TestDecodeEvents_MultipleRecords(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_CREATE, "a")
	buf = appendRecord(buf, 1, syscall.IN_MODIFY, "a")
	buf = appendRecord(buf, 1, syscall.IN_DELETE, "a")

	events := fw.decodeEvents(buf)
	if len(events) != 3 {
		t.Fatalf("decodeEvents returned %d events, want 3", len(events))
	}
	wantKinds := []EventType{EventCreated, EventChanged, EventDeleted}
	for i, want := range wantKinds {
		if events[i].EventType != want {
			t.Errorf("events[%d].EventType = %q, want %q", i, events[i].EventType, want)
		}
	}
}

// TestDecodeEvents_DirectoryFlag verifies IN_ISDIR produces FileTypeDir.
func TestDecodeEvents_DirectoryFlag(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_CREATE|syscall.IN_ISDIR, "sub")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	if events[0].FileType != FileTypeDir {
		t.Errorf("FileType = %q, want %q", events[0].FileType, FileTypeDir)
	}
}

// TestDecodeEvents_UnknownDescriptorSkipped verifies events for descriptors
// missing from the registry are silently dropped.
func TestDecodeEvents_UnknownDescriptorSkipped(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 99, syscall.IN_MODIFY, "ghost")
	buf = appendRecord(buf, 1, syscall.IN_MODIFY, "real")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	if events[0].FilePath != "/d/real" {
		t.Errorf("FilePath = %q, want /d/real", events[0].FilePath)
	}
}

// TestDecodeEvents_QueueOverflow verifies IN_Q_OVERFLOW yields no event.
func TestDecodeEvents_QueueOverflow(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, -1, syscall.IN_Q_OVERFLOW, "")

	if events := fw.decodeEvents(buf); len(events) != 0 {
		t.Fatalf("decodeEvents returned %d events for overflow record, want 0", len(events))
	}
}

// TestDecodeEvents_UnclassifiedMaskDropped verifies that masks outside the
// event taxonomy (move notifications, close events) produce nothing.
func TestDecodeEvents_UnclassifiedMaskDropped(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_MOVED_TO, "renamed")
	buf = appendRecord(buf, 1, syscall.IN_DELETE_SELF, "")

	if events := fw.decodeEvents(buf); len(events) != 0 {
		t.Fatalf("decodeEvents returned %d events for unclassified masks, want 0", len(events))
	}
}

// TestDecodeEvents_ClassificationPriority verifies the fixed priority when a
// mask carries several classifiable bits.
func TestDecodeEvents_ClassificationPriority(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_CREATE|syscall.IN_MODIFY|syscall.IN_ATTRIB, "f")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	if events[0].EventType != EventCreated {
		t.Errorf("EventType = %q, want %q (create outranks modify and attrib)", events[0].EventType, EventCreated)
	}
}

// TestDecodeEvents_IgnoredPathDropped verifies ignore patterns filter events
// before they reach the caller.
func TestDecodeEvents_IgnoredPathDropped(t *testing.T) {
	fw := decodeFixture(t, "*.tmp")
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_MODIFY, "scratch.tmp")
	buf = appendRecord(buf, 1, syscall.IN_MODIFY, "kept.go")

	events := fw.decodeEvents(buf)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events, want 1", len(events))
	}
	if events[0].FilePath != "/d/kept.go" {
		t.Errorf("FilePath = %q, want /d/kept.go", events[0].FilePath)
	}
}

// TestDecodeEvents_TruncatedRecord verifies decoding stops cleanly when the
// buffer ends mid-record.
func TestDecodeEvents_TruncatedRecord(t *testing.T) {
	fw := decodeFixture(t)
	fw.registry.insert(1, "/d")

	buf := appendRecord(nil, 1, syscall.IN_MODIFY, "ok")
	full := appendRecord(buf, 1, syscall.IN_MODIFY, "chopped")
	truncated := full[:len(full)-4]

	events := fw.decodeEvents(truncated)
	if len(events) != 1 {
		t.Fatalf("decodeEvents returned %d events from truncated buffer, want 1", len(events))
	}
	if events[0].FilePath != "/d/ok" {
		t.Errorf("FilePath = %q, want /d/ok", events[0].FilePath)
	}
}

// TestClassifyMask_NoMatch verifies the zero value for unclassifiable masks.
func TestClassifyMask_NoMatch(t *testing.T) {
	if kind, ok := classifyMask(syscall.IN_CLOSE_WRITE); ok {
		t.Fatalf("classifyMask(IN_CLOSE_WRITE) = %q, true; want false", kind)
	}
}
