package pager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fillPage writes a recognizable pattern derived from seed into the page.
func fillPage(page *Page, seed byte) {
	buf := page.Lock()
	for i := range buf {
		buf[i] = seed
	}
	page.Unlock()
}

func checkPage(t *testing.T, page *Page, seed byte) {
	t.Helper()
	buf := page.Lock()
	defer page.Unlock()
	for i := range buf {
		if buf[i] != seed {
			t.Fatalf("page %d byte %d = %#x, want %#x", page.ID(), i, buf[i], seed)
		}
	}
}

func setupHeapCache(t *testing.T, maxPages int) *HeapPageCache {
	t.Helper()
	cache, err := OpenHeapPageCache(tempHeapPath(t), true, maxPages, testPageSize)
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestHeapCacheNewAndFetch(t *testing.T) {
	cache := setupHeapCache(t, 4)

	page, err := cache.NewPage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), page.ID())
	require.Equal(t, int32(1), page.PinCount())
	fillPage(page, 0xAB)
	require.NoError(t, cache.UnpinPage(page, true))

	// A resident page comes back without touching disk.
	again, err := cache.FetchPage(page.ID())
	require.NoError(t, err)
	require.Same(t, page, again)
	checkPage(t, again, 0xAB)
	require.NoError(t, cache.UnpinPage(again, false))
}

func TestHeapCachePinUnderflow(t *testing.T) {
	cache := setupHeapCache(t, 4)

	page, err := cache.NewPage()
	require.NoError(t, err)
	require.NoError(t, cache.UnpinPage(page, false))
	require.ErrorIs(t, cache.UnpinPage(page, false), ErrPageNotPinned)
}

func TestHeapCacheEviction(t *testing.T) {
	cache := setupHeapCache(t, 2)

	first, err := cache.NewPage()
	require.NoError(t, err)
	firstID := first.ID()
	fillPage(first, 0x11)
	second, err := cache.NewPage()
	require.NoError(t, err)
	fillPage(second, 0x22)

	// Everything is pinned: no victim available.
	_, err = cache.NewPage()
	require.ErrorIs(t, err, ErrNoUnpinnedPages)

	// Unpinning the first page makes it the victim; its dirty contents
	// must survive eviction via write-back.
	require.NoError(t, cache.UnpinPage(first, true))
	third, err := cache.NewPage()
	require.NoError(t, err)
	require.Equal(t, 2, cache.Size(), "eviction reuses frames")

	require.NoError(t, cache.UnpinPage(second, true))
	require.NoError(t, cache.UnpinPage(third, false))

	reloaded, err := cache.FetchPage(firstID)
	require.NoError(t, err)
	checkPage(t, reloaded, 0x11)
	require.NoError(t, cache.UnpinPage(reloaded, false))
}

func TestHeapCacheLRUVictimOrder(t *testing.T) {
	cache := setupHeapCache(t, 3)

	pages := make([]*Page, 3)
	for i := range pages {
		page, err := cache.NewPage()
		require.NoError(t, err)
		fillPage(page, byte(0x10+i))
		pages[i] = page
	}
	// Release in order 0, 1, 2: page 0 becomes the least recently used.
	for _, page := range pages {
		require.NoError(t, cache.UnpinPage(page, true))
	}

	victimID := pages[0].ID()
	page, err := cache.NewPage()
	require.NoError(t, err)
	require.Same(t, pages[0], page, "least recently used frame is rebound")
	require.NotEqual(t, victimID, page.ID())

	// The evicted page reloads from disk with its flushed contents.
	reloaded, err := cache.FetchPage(victimID)
	require.NoError(t, err)
	checkPage(t, reloaded, 0x10)
}

func TestHeapCacheFlushAllAndReopen(t *testing.T) {
	path := tempHeapPath(t)
	cache, err := OpenHeapPageCache(path, true, 8, testPageSize)
	require.NoError(t, err)

	ids := make([]PageID, 0, 4)
	for i := 0; i < 4; i++ {
		page, err := cache.NewPage()
		require.NoError(t, err)
		fillPage(page, byte(0x40+i))
		ids = append(ids, page.ID())
		require.NoError(t, cache.UnpinPage(page, true))
	}
	require.NoError(t, cache.Close())

	cache, err = OpenHeapPageCache(path, false, 8, testPageSize)
	require.NoError(t, err)
	defer cache.Close()
	for i, id := range ids {
		page, err := cache.FetchPage(id)
		require.NoError(t, err)
		checkPage(t, page, byte(0x40+i))
		require.NoError(t, cache.UnpinPage(page, false))
	}
}

func TestMemCacheBasics(t *testing.T) {
	cache := NewMemPageCache(testPageSize)

	first, err := cache.NewPage()
	require.NoError(t, err)
	require.Equal(t, PageID(1), first.ID(), "ids start at the metadata page")
	second, err := cache.NewPage()
	require.NoError(t, err)
	require.Equal(t, PageID(2), second.ID())
	require.Equal(t, 2, cache.Size())

	fetched, err := cache.FetchPage(first.ID())
	require.NoError(t, err)
	require.Same(t, first, fetched)

	_, err = cache.FetchPage(PageID(99))
	require.ErrorIs(t, err, ErrPageNotFound)

	// Pin bookkeeping is a no-op for the memory cache.
	require.NoError(t, cache.UnpinPage(first, true))
	require.NoError(t, cache.UnpinPage(first, true))
	require.NoError(t, cache.FlushAllPages())
}
