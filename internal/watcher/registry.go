package watcher

// watchEntry is one (descriptor, path) pair held by the registry.
type watchEntry struct {
	wd   int32
	path string
}

// watchRegistry is the insertion-ordered bidirectional mapping between active
// watch descriptors and the absolute path each descriptor covers. Iteration
// order is insertion order, which keeps teardown and dedup deterministic.
//
// The registry is owned exclusively by the engine's loop goroutine and is not
// safe for concurrent use.
type watchRegistry struct {
	order []int32
	paths map[int32]string
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{paths: make(map[int32]string)}
}

// insert records a descriptor→path mapping. The descriptor must not already
// be present.
func (r *watchRegistry) insert(wd int32, path string) {
	if _, ok := r.paths[wd]; ok {
		// The kernel never issues a live descriptor twice; reaching this
		// means a remove was missed. Drop the stale entry first.
		r.remove(wd)
	}
	r.order = append(r.order, wd)
	r.paths[wd] = path
}

// remove drops a descriptor from the registry. Absent descriptors are a no-op.
func (r *watchRegistry) remove(wd int32) {
	if _, ok := r.paths[wd]; !ok {
		return
	}
	delete(r.paths, wd)
	for i, v := range r.order {
		if v == wd {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// lookup resolves a descriptor to its registered path.
func (r *watchRegistry) lookup(wd int32) (string, bool) {
	p, ok := r.paths[wd]
	return p, ok
}

// entries returns a snapshot of all (descriptor, path) pairs in insertion
// order. Callers that intend to remove entries while iterating must iterate
// the snapshot, not the registry itself.
func (r *watchRegistry) entries() []watchEntry {
	out := make([]watchEntry, 0, len(r.order))
	for _, wd := range r.order {
		out = append(out, watchEntry{wd: wd, path: r.paths[wd]})
	}
	return out
}

// len reports the number of live descriptors.
func (r *watchRegistry) len() int {
	return len(r.paths)
}

// clear drops every entry without touching the kernel; it pairs with closing
// the kernel instance on teardown.
func (r *watchRegistry) clear() {
	r.order = r.order[:0]
	clear(r.paths)
}
