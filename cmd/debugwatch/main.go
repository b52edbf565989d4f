package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/watchrun/watchrun/internal/watcher"
)

func main() {
	dir, _ := os.MkdirTemp("", "dbg")
	file := filepath.Join(dir, "main.go")
	os.WriteFile(file, []byte("v1"), 0o644)

	fw, err := watcher.New()
	if err != nil {
		fmt.Println("new err", err)
		return
	}
	if err := fw.AddFilepath(dir, false); err != nil {
		fmt.Println("add err", err)
		return
	}
	done := make(chan error, 1)
	go func() {
		done <- fw.Run(func(ev watcher.FileChangeEvent) {
			fmt.Printf("EVENT: %+v\n", ev)
		})
	}()
	time.Sleep(100 * time.Millisecond)
	os.WriteFile(file, []byte("v2"), 0o644)
	time.Sleep(1 * time.Second)
	fw.Stop()
	fmt.Println("run returned:", <-done)
}
