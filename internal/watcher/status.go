package watcher

import "os"

// targetStatus is the result of the pre-flight classification performed
// before a watch is registered.
type targetStatus int

const (
	targetNonExisting targetStatus = iota
	targetRegularFile
	targetDirectory
	targetOther
)

// classifyTarget reports what kind of filesystem entry path refers to.
// Symlinks are not followed: a symlink classifies as targetOther even when it
// points at a regular file or directory. Any failure to classify (missing
// entry, permission denied, name too long) is reported as targetNonExisting.
func classifyTarget(path string) targetStatus {
	fi, err := os.Lstat(path)
	if err != nil {
		return targetNonExisting
	}
	switch {
	case fi.Mode().IsRegular():
		return targetRegularFile
	case fi.IsDir():
		return targetDirectory
	default:
		return targetOther
	}
}
