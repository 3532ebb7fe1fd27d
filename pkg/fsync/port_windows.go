//go:build windows
// +build windows

package fsync

import (
	"os"
	"syscall"
)

//nolint:revive
func Fsync(f *os.File) error {
	return syscall.FlushFileBuffers(syscall.Handle(f.Fd()))
}

// FsyncDir is a no-op: directory handles cannot be flushed here.
func FsyncDir(dirPath string) error {
	return nil
}
