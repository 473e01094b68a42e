package btree

import (
	"encoding/binary"

	"grovedb/pkg/pager"
)

// leafNode stores the actual key-value pairs, up to order-1 of them.
// Duplicate keys are permitted and kept adjacent.
type leafNode[K, V any] struct {
	nodeBase[K, V]
	tree   *BTree[K, V]
	keys   []K
	values []V
}

func newLeaf[K, V any](tree *BTree[K, V], parent *innerNode[K, V], pid pager.PageID) *leafNode[K, V] {
	order := tree.order
	n := &leafNode[K, V]{
		tree:   tree,
		keys:   make([]K, order-1),
		values: make([]V, order-1),
	}
	n.init(parent, pid)
	return n
}

func (n *leafNode[K, V]) isLeaf() bool { return true }

// serialize lays out | n | key array | value array | after the tag.
func (n *leafNode[K, V]) serialize(buf []byte) {
	binary.NativeEndian.PutUint32(buf, uint32(n.size))
	off := 4
	keyCodec := n.tree.keyCodec
	keyWidth := keyCodec.Width()
	for i := range n.keys {
		keyCodec.Encode(buf[off:], n.keys[i])
		off += keyWidth
	}
	valueCodec := n.tree.valueCodec
	valueWidth := valueCodec.Width()
	for i := range n.values {
		valueCodec.Encode(buf[off:], n.values[i])
		off += valueWidth
	}
}

func (n *leafNode[K, V]) deserialize(buf []byte) {
	n.size = int(binary.NativeEndian.Uint32(buf))
	off := 4
	keyCodec := n.tree.keyCodec
	keyWidth := keyCodec.Width()
	for i := range n.keys {
		n.keys[i] = keyCodec.Decode(buf[off:])
		off += keyWidth
	}
	valueCodec := n.tree.valueCodec
	valueWidth := valueCodec.Width()
	for i := range n.values {
		n.values[i] = valueCodec.Decode(buf[off:])
		off += valueWidth
	}
}

func (n *leafNode[K, V]) getValues(key *K, collect bool, resume *keyRef[K], keys *[]K, values *[]V, parentVersion uint64) error {
	version, err := n.readLock()
	if err != nil {
		return err
	}
	if n.parent != nil {
		if err := n.parent.validate(parentVersion); err != nil {
			return err
		}
	}

	if collect {
		if keys != nil {
			*keys = append(*keys, n.keys[:n.size]...)
		}
		*values = append(*values, n.values[:n.size]...)
	} else {
		lo := lowerBound(n.keys[:n.size], *key, n.tree.less)
		hi := lo
		for hi < n.size && n.tree.eq(*key, n.keys[hi]) {
			hi++
		}
		*values = append(*values, n.values[lo:hi]...)
	}

	return n.validate(version)
}

func (n *leafNode[K, V]) insert(key K, value V, splitKey *K, parentVersion uint64) (node[K, V], error) {
	version, err := n.readLock()
	if err != nil {
		return nil, err
	}

	order := n.tree.order
	if n.size == order-1 {
		// Full: split eagerly. Lock the parent first, then this node.
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

		sibling, err := n.tree.newLeafNode(n.parent)
		if err != nil {
			return nil, n.abortSplit(err)
		}

		half := order / 2
		sibling.size = n.size - half
		copy(sibling.keys[:sibling.size], n.keys[half:n.size])
		copy(sibling.values[:sibling.size], n.values[half:n.size])
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

	// Room to spare: lock only this node.
	if _, err := n.upgradeToWriteLock(version); err != nil {
		return nil, err
	}
	if n.parent != nil {
		if err := n.parent.validate(parentVersion); err != nil {
			n.writeUnlock()
			return nil, err
		}
	}

	pos := upperBound(n.keys[:n.size], key, n.tree.less)
	copy(n.keys[pos+1:n.size+1], n.keys[pos:n.size])
	copy(n.values[pos+1:n.size+1], n.values[pos:n.size])
	n.keys[pos] = key
	n.values[pos] = value
	n.size++

	if err := n.tree.writeNode(n); err != nil {
		n.writeUnlock()
		return nil, err
	}
	n.writeUnlock()
	return nil, nil
}
