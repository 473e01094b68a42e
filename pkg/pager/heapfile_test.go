package pager

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/require"
)

const testPageSize = directio.BlockSize

func tempHeapPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func TestHeapFileCreateAndReopen(t *testing.T) {
	path := tempHeapPath(t)

	hf, err := OpenHeapFile(path, true, testPageSize)
	require.NoError(t, err)
	require.Equal(t, uint32(1), hf.PageCount(), "fresh file holds only the header page")
	require.Equal(t, testPageSize, hf.PageSize())

	pid, err := hf.NewPage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), pid)
	pid, err = hf.NewPage()
	require.NoError(t, err)
	require.Equal(t, PageID(2), pid)
	require.NoError(t, hf.Close())

	// Reopen and check the header was maintained.
	hf, err = OpenHeapFile(path, false, testPageSize)
	require.NoError(t, err)
	require.Equal(t, uint32(3), hf.PageCount())
	require.Equal(t, testPageSize, hf.PageSize())
	require.NoError(t, hf.Close())
}

func TestHeapFileBadMagic(t *testing.T) {
	path := tempHeapPath(t)
	garbage := make([]byte, testPageSize)
	for i := range garbage {
		garbage[i] = 0x42
	}
	require.NoError(t, os.WriteFile(path, garbage, 0666))

	_, err := OpenHeapFile(path, true, testPageSize)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestHeapFileBadPageSize(t *testing.T) {
	_, err := OpenHeapFile(tempHeapPath(t), true, 100)
	require.ErrorIs(t, err, ErrBadPageSize)
}

func TestHeapFileReadWritePage(t *testing.T) {
	hf, err := OpenHeapFile(tempHeapPath(t), true, testPageSize)
	require.NoError(t, err)
	defer hf.Close()

	pid, err := hf.NewPage()
	require.NoError(t, err)

	out := newPage(pid, directio.AlignedBlock(testPageSize))
	buf := out.Lock()
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	out.Unlock()
	require.NoError(t, hf.WritePage(out))

	in := newPage(pid, directio.AlignedBlock(testPageSize))
	require.NoError(t, hf.ReadPage(in))
	require.Equal(t, out.data, in.data)
}

func TestHeapFileRejectsInvalidPageIDs(t *testing.T) {
	hf, err := OpenHeapFile(tempHeapPath(t), true, testPageSize)
	require.NoError(t, err)
	defer hf.Close()

	page := newPage(InvalidPageID, directio.AlignedBlock(testPageSize))
	require.ErrorIs(t, hf.ReadPage(page), ErrInvalidPage)

	page.setID(PageID(99)) // beyond the end of the file
	require.ErrorIs(t, hf.WritePage(page), ErrInvalidPage)
}
