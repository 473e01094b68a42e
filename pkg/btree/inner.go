package btree

import (
	"encoding/binary"
	"fmt"

	"grovedb/pkg/pager"
)

// innerNode routes lookups to its children; it stores no values. It holds
// up to order-1 separator keys and order child page ids. The child cache
// shadows childPages with lazily materialized in-memory children; the
// page ids stay authoritative on disk.
type innerNode[K, V any] struct {
	nodeBase[K, V]
	tree       *BTree[K, V]
	keys       []K
	childPages []pager.PageID
	childCache []node[K, V]
}

func newInner[K, V any](tree *BTree[K, V], parent *innerNode[K, V], pid pager.PageID) *innerNode[K, V] {
	order := tree.order
	n := &innerNode[K, V]{
		tree:       tree,
		keys:       make([]K, order-1),
		childPages: make([]pager.PageID, order),
		childCache: make([]node[K, V], order+1),
	}
	n.init(parent, pid)
	return n
}

func (n *innerNode[K, V]) isLeaf() bool { return false }

// serialize lays out | n | key array | child-page array | after the tag.
// The full fixed-capacity arrays are written, not just the live prefix.
func (n *innerNode[K, V]) serialize(buf []byte) {
	binary.NativeEndian.PutUint32(buf, uint32(n.size))
	off := 4
	keyCodec := n.tree.keyCodec
	width := keyCodec.Width()
	for i := range n.keys {
		keyCodec.Encode(buf[off:], n.keys[i])
		off += width
	}
	for i := range n.childPages {
		binary.NativeEndian.PutUint32(buf[off:], uint32(n.childPages[i]))
		off += 4
	}
}

func (n *innerNode[K, V]) deserialize(buf []byte) {
	n.size = int(binary.NativeEndian.Uint32(buf))
	off := 4
	keyCodec := n.tree.keyCodec
	width := keyCodec.Width()
	for i := range n.keys {
		n.keys[i] = keyCodec.Decode(buf[off:])
		off += width
	}
	for i := range n.childPages {
		n.childPages[i] = pager.PageID(binary.NativeEndian.Uint32(buf[off:]))
		off += 4
	}
	// The child cache is never persisted.
	for i := range n.childCache {
		n.childCache[i] = nil
	}
}

// getChild returns the idx-th child, materializing it from the page cache
// if needed. Materialization is a structural write: it upgrades this
// node's lock (unless the caller already holds it), installs the child,
// then unlocks and restarts so concurrent readers re-descend.
func (n *innerNode[K, V]) getChild(idx int, writeLocked bool, version *uint64) (node[K, V], error) {
	if child := n.childCache[idx]; child != nil {
		return child, nil
	}

	if n.childPages[idx] != pager.InvalidPageID {
		if !writeLocked {
			upgraded, err := n.upgradeToWriteLock(*version)
			if err != nil {
				return nil, err
			}
			*version = upgraded
		}

		if n.childCache[idx] == nil {
			child, err := n.tree.readNode(n, n.childPages[idx])
			if err != nil {
				n.writeUnlock()
				return nil, err
			}
			n.childCache[idx] = child
		}

		n.writeUnlock()
		return nil, errRestart
	}

	return nil, nil
}

func (n *innerNode[K, V]) getValues(key *K, collect bool, resume *keyRef[K], keys *[]K, values *[]V, parentVersion uint64) error {
	version, err := n.readLock()
	if err != nil {
		return err
	}
	if n.parent != nil {
		if err := n.parent.validate(parentVersion); err != nil {
			return err
		}
	}

	childIdx := 0
	if key != nil {
		childIdx = upperBound(n.keys[:n.size], *key, n.tree.less)
	}
	if resume != nil && childIdx < n.size {
		resume.set(n.keys[childIdx])
	}

	child, err := n.getChild(childIdx, false, &version)
	if err != nil {
		return err
	}
	if child == nil {
		return nil
	}
	if err := n.validate(version); err != nil {
		return err
	}
	return child.getValues(key, collect, resume, keys, values, version)
}

func (n *innerNode[K, V]) insert(key K, value V, splitKey *K, parentVersion uint64) (node[K, V], error) {
	version, err := n.readLock()
	if err != nil {
		return nil, err
	}

	order := n.tree.order
	if n.size == order-1 {
		// Full: split eagerly before descending. Lock the parent first,
		// then this node.
		if n.parent != nil {
			if _, err := n.parent.upgradeToWriteLock(parentVersion); err != nil {
				return nil, err
			}
		}
		if _, err := n.upgradeToWriteLock(version); err != nil {
			if n.parent != nil {
				n.parent.writeUnlock()
			}
			return nil, err
		}

		sibling, err := n.tree.newInnerNode(n.parent)
		if err != nil {
			return nil, n.abortSplit(err)
		}

		half := order / 2
		sibling.size = n.size - half - 1
		copy(sibling.keys[:sibling.size], n.keys[half+1:half+1+sibling.size])
		copy(sibling.childPages[:sibling.size+1], n.childPages[half+1:half+2+sibling.size])
		for i, j := half+1, 0; i <= n.size; i, j = i+1, j+1 {
			sibling.childCache[j] = n.childCache[i]
			n.childCache[i] = nil
			if sibling.childCache[j] != nil {
				sibling.childCache[j].setParent(sibling)
			}
		}
		*splitKey = n.keys[half]
		n.size = half

		if err := n.tree.writeNode(n); err != nil {
			return nil, n.abortSplit(err)
		}
		if err := n.tree.writeNode(sibling); err != nil {
			return nil, n.abortSplit(err)
		}

		// A split root stays locked until the tree installs the new root.
		if n.parent != nil {
			n.writeUnlock()
		}

		// The parent's lock is held until it has folded the sibling in.
		return sibling, nil
	}

	if n.parent != nil {
		if err := n.parent.validate(parentVersion); err != nil {
			return nil, err
		}
	}
	childIdx := upperBound(n.keys[:n.size], key, n.tree.less)
	if err := n.validate(version); err != nil {
		return nil, err
	}

	child, err := n.getChild(childIdx, false, &version)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, fmt.Errorf("inner node %d: missing child %d", n.pid, childIdx)
	}
	if err := n.validate(version); err != nil {
		return nil, err
	}

	newChild, err := child.insert(key, value, splitKey, version)
	if err != nil {
		return nil, err
	}
	if newChild == nil {
		// The child did not split; every lock is already released.
		return nil, nil
	}

	// The child's split upgraded our lock. Fold the promoted separator
	// and the new sibling in; an eager split above guarantees room.
	copy(n.keys[childIdx+1:n.size+1], n.keys[childIdx:n.size])
	copy(n.childPages[childIdx+2:n.size+2], n.childPages[childIdx+1:n.size+1])
	for i := n.size; i > childIdx; i-- {
		n.childCache[i+1] = n.childCache[i]
	}
	n.keys[childIdx] = *splitKey
	n.childPages[childIdx+1] = newChild.getPID()
	n.childCache[childIdx+1] = newChild
	n.size++

	if err := n.tree.writeNode(n); err != nil {
		n.writeUnlock()
		return nil, err
	}
	n.writeUnlock()

	// Do not continue this attempt: the retry re-descends the re-linked
	// tree from the root.
	return nil, errRestart
}
