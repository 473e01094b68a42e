//go:build !linux

package pager

// Sync forces completed page writes down to stable storage.
func (hf *HeapFile) Sync() error {
	return hf.file.Sync()
}
