package btree

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"grovedb/pkg/pager"
)

// Verify walks the persisted tree and checks its structural invariants:
// entry counts within capacity, key arrays sorted, separators bounding
// their subtrees, every inner node carrying size+1 valid children, and no
// page referenced from two places. Intended for quiescent trees (tests
// and tooling); it reads pages, not the in-memory child caches.
func (t *BTree[K, V]) Verify() error {
	root := t.loadRoot()
	if root == nil {
		return errors.New("tree has no root")
	}
	visited := bitset.New(64)
	return t.verifyPage(root.getPID(), nil, nil, visited)
}

// verifyPage checks the node at pid and recurses into its children. Keys
// in the subtree must lie in [low, high]; bounds are inclusive because a
// run of duplicate keys may legally span a split point.
func (t *BTree[K, V]) verifyPage(pid pager.PageID, low, high *K, visited *bitset.BitSet) error {
	if pid == pager.InvalidPageID {
		return errors.New("invalid page id in child slot")
	}
	if visited.Test(uint(pid)) {
		return fmt.Errorf("page %d referenced twice", pid)
	}
	visited.Set(uint(pid))

	n, err := t.readNode(nil, pid)
	if err != nil {
		return err
	}
	if n.getSize() > t.order-1 {
		return fmt.Errorf("page %d holds %d entries, capacity %d", pid, n.getSize(), t.order-1)
	}

	switch m := n.(type) {
	case *innerNode[K, V]:
		if err := t.verifyKeys(pid, m.keys[:m.size], low, high); err != nil {
			return err
		}
		for i := 0; i <= m.size; i++ {
			childLow, childHigh := low, high
			if i > 0 {
				childLow = &m.keys[i-1]
			}
			if i < m.size {
				childHigh = &m.keys[i]
			}
			if err := t.verifyPage(m.childPages[i], childLow, childHigh, visited); err != nil {
				return err
			}
		}
	case *leafNode[K, V]:
		if err := t.verifyKeys(pid, m.keys[:m.size], low, high); err != nil {
			return err
		}
	}
	return nil
}

func (t *BTree[K, V]) verifyKeys(pid pager.PageID, keys []K, low, high *K) error {
	for i, k := range keys {
		if i > 0 && t.less(k, keys[i-1]) {
			return fmt.Errorf("page %d keys out of order at %d", pid, i)
		}
		if low != nil && t.less(k, *low) {
			return fmt.Errorf("page %d key %d below subtree bound", pid, i)
		}
		if high != nil && t.less(*high, k) {
			return fmt.Errorf("page %d key %d above subtree bound", pid, i)
		}
	}
	return nil
}
