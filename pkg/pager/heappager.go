package pager

import (
	"sync"

	"github.com/ncw/directio"

	"grovedb/pkg/list"
)

// HeapPageCache is the bounded, disk-backed page cache. It keeps at most
// maxPages frames resident, evicting the least recently used unpinned
// page when a new residency is needed.
//
// Locking: the table mutex guards the residency set, page map and free
// list; the LRU list has its own mutex and is never held across an I/O.
type HeapPageCache struct {
	heapFile *HeapFile
	pageSize int
	maxPages int

	mtx      sync.Mutex
	pages    []*Page // every frame ever allocated by this cache
	pageMap  map[PageID]*Page
	freeList []*Page // frames recycled after a failed read

	lruMtx  sync.Mutex
	lruList *list.List[PageID] // MRU at head, victim at tail
	lruMap  map[PageID]*list.Link[PageID]
}

// NewHeapPageCache builds a cache of up to maxPages frames over an open
// heap file.
func NewHeapPageCache(heapFile *HeapFile, maxPages int) *HeapPageCache {
	return &HeapPageCache{
		heapFile: heapFile,
		pageSize: heapFile.PageSize(),
		maxPages: maxPages,
		pageMap:  make(map[PageID]*Page),
		lruList:  list.New[PageID](),
		lruMap:   make(map[PageID]*list.Link[PageID]),
	}
}

// OpenHeapPageCache opens (or creates) the heap file at path and wraps it
// in a bounded cache.
func OpenHeapPageCache(path string, create bool, maxPages, pageSize int) (*HeapPageCache, error) {
	heapFile, err := OpenHeapFile(path, create, pageSize)
	if err != nil {
		return nil, err
	}
	return NewHeapPageCache(heapFile, maxPages), nil
}

// allocPage finds a frame for a new residency of id. The table mutex is
// held on entry. Returns nil when every resident page is pinned.
func (cache *HeapPageCache) allocPage(id PageID) (*Page, error) {
	if n := len(cache.freeList); n > 0 {
		page := cache.freeList[n-1]
		cache.freeList = cache.freeList[:n-1]
		page.setID(id)
		page.SetDirty(false)
		cache.pageMap[id] = page
		return page, nil
	}

	if len(cache.pages) < cache.maxPages {
		page := newPage(id, directio.AlignedBlock(cache.pageSize))
		cache.pages = append(cache.pages, page)
		cache.pageMap[id] = page
		return page, nil
	}

	victim, ok := cache.lruVictim()
	if !ok {
		return nil, ErrNoUnpinnedPages
	}
	page := cache.pageMap[victim]
	delete(cache.pageMap, victim)
	if page.IsDirty() {
		if err := cache.FlushPage(page); err != nil {
			return nil, err
		}
	}
	page.setID(id)
	cache.pageMap[id] = page
	return page, nil
}

// NewPage allocates a new page slot in the heap file and returns its
// (pinned) resident page.
func (cache *HeapPageCache) NewPage() (*Page, error) {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	pid, err := cache.heapFile.NewPage()
	if err != nil {
		return nil, err
	}
	page, err := cache.allocPage(pid)
	if err != nil {
		return nil, err
	}
	cache.PinPage(page)
	return page, nil
}

// FetchPage returns the page with the given id, reading it from the heap
// file if it is not resident.
func (cache *HeapPageCache) FetchPage(id PageID) (*Page, error) {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	if page, ok := cache.pageMap[id]; ok {
		cache.PinPage(page)
		return page, nil
	}

	page, err := cache.allocPage(id)
	if err != nil {
		return nil, err
	}
	if err := cache.heapFile.ReadPage(page); err != nil {
		// Recycle the frame; it holds no valid residency.
		delete(cache.pageMap, id)
		cache.freeList = append(cache.freeList, page)
		return nil, err
	}
	page.SetDirty(false)
	cache.PinPage(page)
	return page, nil
}

// PinPage increments the page's pin count, removing it from the victim
// set when the count leaves zero.
func (cache *HeapPageCache) PinPage(page *Page) {
	page.Lock()
	if page.PinCount() == 0 {
		cache.lruErase(page.ID())
	}
	page.pin()
	page.Unlock()
}

// UnpinPage marks the page dirty if requested and decrements its pin
// count, inserting it into the victim set when the count reaches zero.
func (cache *HeapPageCache) UnpinPage(page *Page, dirty bool) error {
	page.Lock()
	if page.PinCount() == 0 {
		page.Unlock()
		return ErrPageNotPinned
	}
	if dirty {
		page.SetDirty(true)
	}
	if page.unpin() == 0 {
		cache.lruInsert(page.ID())
	}
	page.Unlock()
	return nil
}

// FlushPage writes the page to the heap file if it is dirty.
func (cache *HeapPageCache) FlushPage(page *Page) error {
	if !page.IsDirty() {
		return nil
	}
	if err := cache.heapFile.WritePage(page); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}

// FlushAllPages writes every dirty resident page and syncs the heap file.
func (cache *HeapPageCache) FlushAllPages() error {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()

	for _, page := range cache.pages {
		if err := cache.FlushPage(page); err != nil {
			return err
		}
	}
	return cache.heapFile.Sync()
}

// Size returns the number of allocated frames.
func (cache *HeapPageCache) Size() int {
	cache.mtx.Lock()
	defer cache.mtx.Unlock()
	return len(cache.pages)
}

// PageSize returns the page size in bytes.
func (cache *HeapPageCache) PageSize() int {
	return cache.pageSize
}

// Close flushes all dirty pages and closes the heap file.
func (cache *HeapPageCache) Close() error {
	if err := cache.FlushAllPages(); err != nil {
		return err
	}
	return cache.heapFile.Close()
}

func (cache *HeapPageCache) lruInsert(id PageID) {
	cache.lruMtx.Lock()
	defer cache.lruMtx.Unlock()
	cache.lruMap[id] = cache.lruList.PushHead(id)
}

func (cache *HeapPageCache) lruErase(id PageID) {
	cache.lruMtx.Lock()
	defer cache.lruMtx.Unlock()
	if link, ok := cache.lruMap[id]; ok {
		link.PopSelf()
		delete(cache.lruMap, id)
	}
}

func (cache *HeapPageCache) lruVictim() (PageID, bool) {
	cache.lruMtx.Lock()
	defer cache.lruMtx.Unlock()
	link := cache.lruList.PeekTail()
	if link == nil {
		return InvalidPageID, false
	}
	id := link.Value()
	link.PopSelf()
	delete(cache.lruMap, id)
	return id, true
}
