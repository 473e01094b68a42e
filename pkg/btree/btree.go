// Package btree implements a persistent, concurrent B+tree index on top
// of a page cache. Readers and writers synchronize with optimistic lock
// coupling: traversals validate per-node version counters instead of
// taking read locks, and any violation restarts the operation from the
// root.
package btree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"grovedb/pkg/pager"
)

// metaMagic marks the metadata page, which records the root's page id.
const metaMagic uint32 = 0x00C0FFEE

var (
	// ErrBadMetaMagic is returned when the metadata page of an existing
	// tree does not carry the expected magic.
	ErrBadMetaMagic = errors.New("metadata page magic mismatch")

	// ErrBadOrder is returned for fan-outs too small to split.
	ErrBadOrder = errors.New("tree order must be at least 3")

	// ErrPageTooSmall is returned when a node at the requested fan-out
	// cannot fit in one page.
	ErrPageTooSmall = errors.New("page size too small for tree order")
)

// BTree is a B+tree index mapping keys to values. Duplicate keys are
// permitted. All state is reachable from the tree handle; multiple trees
// can coexist over distinct page caches.
type BTree[K, V any] struct {
	cache      pager.PageCache
	order      int // max children per inner node; max entries per node is order-1
	keyCodec   Codec[K]
	valueCodec Codec[V]
	less       Less[K]
	eq         Eq[K]

	rootMtx sync.RWMutex
	root    node[K, V]
}

// Open opens the tree stored in the page cache, creating an empty one if
// the cache holds no metadata page yet. The order, codecs and comparator
// must match across opens of the same file.
func Open[K, V any](cache pager.PageCache, order int, keyCodec Codec[K], valueCodec Codec[V], less Less[K], eq Eq[K]) (*BTree[K, V], error) {
	if order < 3 {
		return nil, ErrBadOrder
	}
	payload := cache.PageSize() - nodeTagSize - 4 // tag and entry count
	innerSpace := (order-1)*keyCodec.Width() + order*4
	leafSpace := (order - 1) * (keyCodec.Width() + valueCodec.Width())
	if innerSpace > payload || leafSpace > payload {
		return nil, fmt.Errorf("%w: order %d needs %d bytes, page holds %d",
			ErrPageTooSmall, order, max(innerSpace, leafSpace), payload)
	}

	t := &BTree[K, V]{
		cache:      cache,
		order:      order,
		keyCodec:   keyCodec,
		valueCodec: valueCodec,
		less:       less,
		eq:         eq,
	}

	root, err := t.readMetadata()
	if err == nil {
		t.root = root
		return t, nil
	}
	// Only a missing metadata page means a fresh tree; anything else
	// (bad magic, bad tag, an I/O failure) surfaces.
	if !errors.Is(err, pager.ErrPageNotFound) && !errors.Is(err, pager.ErrInvalidPage) {
		return nil, err
	}

	// No metadata page: initialize a fresh tree. The metadata page must
	// land on its reserved id, the root leaf on the next one.
	page, err := cache.NewPage()
	if err != nil {
		return nil, err
	}
	if page.ID() != pager.MetaPageID {
		return nil, fmt.Errorf("metadata page allocated as page %d", page.ID())
	}
	if err := cache.UnpinPage(page, false); err != nil {
		return nil, err
	}

	rootLeaf, err := t.newLeafNode(nil)
	if err != nil {
		return nil, err
	}
	if err := t.writeNode(rootLeaf); err != nil {
		return nil, err
	}
	if err := t.writeMetadata(rootLeaf.getPID()); err != nil {
		return nil, err
	}
	t.root = rootLeaf
	return t, nil
}

// PageCache returns the cache this tree stores its pages in.
func (t *BTree[K, V]) PageCache() pager.PageCache {
	return t.cache
}

// Order returns the tree's fan-out.
func (t *BTree[K, V]) Order() int {
	return t.order
}

// Flush writes every dirty page down to storage.
func (t *BTree[K, V]) Flush() error {
	return t.cache.FlushAllPages()
}

// Get returns every value stored under key, in insertion-adjacent order.
// A missing key yields an empty slice.
func (t *BTree[K, V]) Get(key K) ([]V, error) {
	values := make([]V, 0)
	for {
		values = values[:0]
		root := t.loadRoot()
		if root == nil {
			continue
		}
		err := root.getValues(&key, false, nil, nil, &values, 0)
		if errors.Is(err, errRestart) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.loadRoot() != root {
			// The root split mid-descent; the walk may have missed it.
			continue
		}
		return values, nil
	}
}

// Insert adds a key-value pair to the tree. Duplicates of an existing
// key are stored alongside it.
func (t *BTree[K, V]) Insert(key K, value V) error {
	for {
		oldRoot := t.loadRoot()
		if oldRoot == nil {
			continue
		}

		var splitKey K
		sibling, err := oldRoot.insert(key, value, &splitKey, 0)
		if errors.Is(err, errRestart) {
			continue
		}
		if err != nil {
			return err
		}
		if sibling == nil {
			return nil
		}

		// The root split: oldRoot is still write-locked, which keeps
		// every other writer out until the new root is installed.
		if err := t.installRoot(oldRoot, sibling, splitKey); err != nil {
			oldRoot.writeUnlock()
			return err
		}
		oldRoot.writeUnlock()
		// Retry the insert against the grown tree.
	}
}

// installRoot grows the tree by one level: a fresh inner root over the
// split halves. Ordering: both halves are already persisted; the new
// root is persisted, then the metadata, then the root pointer swings.
func (t *BTree[K, V]) installRoot(oldRoot, sibling node[K, V], splitKey K) error {
	newRoot, err := t.newInnerNode(nil)
	if err != nil {
		return err
	}
	oldRoot.setParent(newRoot)
	sibling.setParent(newRoot)
	newRoot.size = 1
	newRoot.keys[0] = splitKey
	newRoot.childPages[0] = oldRoot.getPID()
	newRoot.childPages[1] = sibling.getPID()
	newRoot.childCache[0] = oldRoot
	newRoot.childCache[1] = sibling

	if err := t.writeNode(newRoot); err != nil {
		return err
	}
	if err := t.writeMetadata(newRoot.getPID()); err != nil {
		return err
	}
	t.storeRoot(newRoot)
	return nil
}

func (t *BTree[K, V]) loadRoot() node[K, V] {
	t.rootMtx.RLock()
	defer t.rootMtx.RUnlock()
	return t.root
}

func (t *BTree[K, V]) storeRoot(root node[K, V]) {
	t.rootMtx.Lock()
	t.root = root
	t.rootMtx.Unlock()
}

// newLeafNode allocates a page for a fresh leaf node.
func (t *BTree[K, V]) newLeafNode(parent *innerNode[K, V]) (*leafNode[K, V], error) {
	page, err := t.cache.NewPage()
	if err != nil {
		return nil, err
	}
	n := newLeaf(t, parent, page.ID())
	if err := t.cache.UnpinPage(page, false); err != nil {
		return nil, err
	}
	return n, nil
}

// newInnerNode allocates a page for a fresh inner node.
func (t *BTree[K, V]) newInnerNode(parent *innerNode[K, V]) (*innerNode[K, V], error) {
	page, err := t.cache.NewPage()
	if err != nil {
		return nil, err
	}
	n := newInner(t, parent, page.ID())
	if err := t.cache.UnpinPage(page, false); err != nil {
		return nil, err
	}
	return n, nil
}

// readNode materializes the node stored on the given page.
func (t *BTree[K, V]) readNode(parent *innerNode[K, V], pid pager.PageID) (node[K, V], error) {
	page, err := t.cache.FetchPage(pid)
	if err != nil {
		return nil, err
	}
	buf := page.Lock()
	tag := binary.NativeEndian.Uint32(buf)

	var n node[K, V]
	switch tag {
	case innerTag:
		n = newInner(t, parent, pid)
	case leafTag:
		n = newLeaf(t, parent, pid)
	default:
		page.Unlock()
		t.cache.UnpinPage(page, false)
		return nil, fmt.Errorf("%w: page %d carries tag %d", ErrBadNodeTag, pid, tag)
	}
	n.deserialize(buf[nodeTagSize:])
	page.Unlock()

	if err := t.cache.UnpinPage(page, false); err != nil {
		return nil, err
	}
	return n, nil
}

// writeNode serializes the node onto its page and marks it dirty.
func (t *BTree[K, V]) writeNode(n node[K, V]) error {
	page, err := t.cache.FetchPage(n.getPID())
	if err != nil {
		return err
	}
	buf := page.Lock()
	tag := innerTag
	if n.isLeaf() {
		tag = leafTag
	}
	binary.NativeEndian.PutUint32(buf, tag)
	n.serialize(buf[nodeTagSize:])
	page.Unlock()
	return t.cache.UnpinPage(page, true)
}

// readMetadata loads the root node named by the metadata page.
// Metadata layout: | magic (4 bytes) | root page id (4 bytes) |.
func (t *BTree[K, V]) readMetadata() (node[K, V], error) {
	page, err := t.cache.FetchPage(pager.MetaPageID)
	if err != nil {
		return nil, err
	}
	buf := page.Lock()
	magic := binary.NativeEndian.Uint32(buf)
	rootPID := pager.PageID(binary.NativeEndian.Uint32(buf[4:]))
	page.Unlock()
	if err := t.cache.UnpinPage(page, false); err != nil {
		return nil, err
	}
	if magic != metaMagic {
		return nil, fmt.Errorf("%w: read %#x", ErrBadMetaMagic, magic)
	}
	return t.readNode(nil, rootPID)
}

func (t *BTree[K, V]) writeMetadata(rootPID pager.PageID) error {
	page, err := t.cache.FetchPage(pager.MetaPageID)
	if err != nil {
		return err
	}
	buf := page.Lock()
	binary.NativeEndian.PutUint32(buf, metaMagic)
	binary.NativeEndian.PutUint32(buf[4:], uint32(rootPID))
	page.Unlock()
	return t.cache.UnpinPage(page, true)
}
