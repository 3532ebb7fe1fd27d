//go:build !windows
// +build !windows

// Package fsync holds the platform ports for flushing file and directory
// state to stable storage. The local store uses it to make temp-then-rename
// writes durable.
package fsync

import (
	"fmt"
	"os"
	"syscall"
)

func Fsync(f *os.File) error {
	return syscall.Fsync(int(f.Fd()))
}

// FsyncDir fsyncs dir contents, making a just-renamed entry durable.
func FsyncDir(dirPath string) error {
	d, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("cannot open dir %s: %w", dirPath, err)
	}
	if err := Fsync(d); err != nil {
		_ = d.Close()
		return fmt.Errorf("cannot fsync dir %s: %w", dirPath, err)
	}
	return d.Close()
}
