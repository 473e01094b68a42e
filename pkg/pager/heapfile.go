package pager

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ncw/directio"
)

// heapMagic marks the first bytes of every heap file.
const heapMagic uint32 = 0xDEADBEEF

// Header layout: | magic u32 | page size u64 | page count u32 |,
// zero-padded to a full page. All fields are native byte order.
const (
	headerMagicOffset     = 0
	headerPageSizeOffset  = 4
	headerPageCountOffset = 12
)

var (
	// ErrBadMagic is returned when an existing file does not start with
	// the heap file magic.
	ErrBadMagic = errors.New("heap file magic mismatch")

	// ErrInvalidPage is returned for I/O against the reserved page id 0
	// or a page beyond the end of the file.
	ErrInvalidPage = errors.New("invalid page id")

	// ErrBadPageSize is returned when the page size is not a positive
	// multiple of the direct-IO block size.
	ErrBadPageSize = errors.New("bad page size")
)

// HeapFile allocates fixed-size page slots append-only in a single file.
// Pages are read and written with direct I/O, so the page size must be a
// multiple of the platform block size and all frames must be aligned.
type HeapFile struct {
	mtx       sync.Mutex
	file      *os.File
	path      string
	pageSize  int
	pageCount uint32 // pages allocated so far, header page included
	headerBuf []byte // aligned scratch block for header I/O
}

// OpenHeapFile opens the heap file at path, creating it with a fresh
// header if create is set and the file does not exist. When opening an
// existing file the page size recorded in the header wins over pageSize.
func OpenHeapFile(path string, create bool, pageSize int) (*HeapFile, error) {
	if pageSize <= 0 || pageSize%directio.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d", ErrBadPageSize, pageSize)
	}
	hf := &HeapFile{
		path:      path,
		pageSize:  pageSize,
		headerBuf: directio.AlignedBlock(directio.BlockSize),
	}

	_, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) && create {
		if err := hf.create(); err != nil {
			return nil, err
		}
		return hf, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat heap file: %w", err)
	}

	hf.file, err = directio.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("open heap file: %w", err)
	}
	if err := hf.readHeader(); err != nil {
		hf.file.Close()
		return nil, err
	}
	return hf, nil
}

// create writes a fresh one-page file containing only the header.
func (hf *HeapFile) create() (err error) {
	hf.file, err = directio.OpenFile(hf.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
	if err != nil {
		return fmt.Errorf("create heap file: %w", err)
	}
	if err = hf.file.Truncate(int64(hf.pageSize)); err != nil {
		hf.file.Close()
		return fmt.Errorf("resize heap file: %w", err)
	}
	hf.pageCount = 1
	if err = hf.writeHeader(); err != nil {
		hf.file.Close()
		return err
	}
	return nil
}

// Path returns the file path backing this heap file.
func (hf *HeapFile) Path() string {
	return hf.path
}

// PageSize returns the page size recorded in the header.
func (hf *HeapFile) PageSize() int {
	return hf.pageSize
}

// PageCount returns the number of allocated pages, header included.
func (hf *HeapFile) PageCount() uint32 {
	hf.mtx.Lock()
	defer hf.mtx.Unlock()
	return hf.pageCount
}

// NewPage extends the file by one page slot and returns its id.
func (hf *HeapFile) NewPage() (PageID, error) {
	hf.mtx.Lock()
	defer hf.mtx.Unlock()

	pid := PageID(hf.pageCount)
	newSize := int64(hf.pageCount+1) * int64(hf.pageSize)
	if err := hf.file.Truncate(newSize); err != nil {
		return InvalidPageID, fmt.Errorf("extend heap file: %w", err)
	}
	hf.pageCount++
	if err := hf.writeHeader(); err != nil {
		return InvalidPageID, err
	}
	return pid, nil
}

// ReadPage fills the page's buffer from its slot in the file.
func (hf *HeapFile) ReadPage(page *Page) error {
	if err := hf.checkPID(page.ID()); err != nil {
		return err
	}
	buf := page.Lock()
	defer page.Unlock()
	if _, err := hf.file.ReadAt(buf, int64(page.ID())*int64(hf.pageSize)); err != nil {
		return fmt.Errorf("read page %d: %w", page.ID(), err)
	}
	return nil
}

// WritePage writes the page's buffer to its slot in the file.
func (hf *HeapFile) WritePage(page *Page) error {
	if err := hf.checkPID(page.ID()); err != nil {
		return err
	}
	buf := page.Lock()
	defer page.Unlock()
	if _, err := hf.file.WriteAt(buf, int64(page.ID())*int64(hf.pageSize)); err != nil {
		return fmt.Errorf("write page %d: %w", page.ID(), err)
	}
	return nil
}

// Close closes the backing file. Dirty cached pages must be flushed first.
func (hf *HeapFile) Close() error {
	return hf.file.Close()
}

func (hf *HeapFile) checkPID(pid PageID) error {
	hf.mtx.Lock()
	defer hf.mtx.Unlock()
	if pid == InvalidPageID || uint32(pid) >= hf.pageCount {
		return fmt.Errorf("%w: %d", ErrInvalidPage, pid)
	}
	return nil
}

func (hf *HeapFile) readHeader() error {
	if _, err := hf.file.ReadAt(hf.headerBuf, 0); err != nil {
		return fmt.Errorf("read heap file header: %w", err)
	}
	if binary.NativeEndian.Uint32(hf.headerBuf[headerMagicOffset:]) != heapMagic {
		return ErrBadMagic
	}
	pageSize := int(binary.NativeEndian.Uint64(hf.headerBuf[headerPageSizeOffset:]))
	if pageSize <= 0 || pageSize%directio.BlockSize != 0 {
		return fmt.Errorf("%w: header records %d", ErrBadPageSize, pageSize)
	}
	hf.pageSize = pageSize
	hf.pageCount = binary.NativeEndian.Uint32(hf.headerBuf[headerPageCountOffset:])
	return nil
}

// writeHeader rewrites the header block. The caller holds the file mutex
// (or has exclusive access during create).
func (hf *HeapFile) writeHeader() error {
	binary.NativeEndian.PutUint32(hf.headerBuf[headerMagicOffset:], heapMagic)
	binary.NativeEndian.PutUint64(hf.headerBuf[headerPageSizeOffset:], uint64(hf.pageSize))
	binary.NativeEndian.PutUint32(hf.headerBuf[headerPageCountOffset:], hf.pageCount)
	if _, err := hf.file.WriteAt(hf.headerBuf, 0); err != nil {
		return fmt.Errorf("write heap file header: %w", err)
	}
	return nil
}
