//go:build linux

package pager

import "golang.org/x/sys/unix"

// Sync forces completed page writes down to stable storage. fdatasync
// skips the metadata flush since page slots never change length outside
// NewPage, which rewrites the header anyway.
func (hf *HeapFile) Sync() error {
	return unix.Fdatasync(int(hf.file.Fd()))
}
