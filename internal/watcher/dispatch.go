package watcher

import "fmt"

// dispatch invokes the callback, converting a panic into an error so the run
// loop can log it and exit cleanly.
func dispatch(cb Callback, ev FileChangeEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watcher: callback panic: %v", r)
		}
	}()
	cb(ev)
	return nil
}
