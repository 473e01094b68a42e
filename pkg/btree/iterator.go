package btree

import (
	"errors"

	"grovedb/pkg/entry"
)

// Iterator yields the tree's entries in key order. It buffers one leaf's
// contents at a time and resumes by re-descending with the last seen
// key, so concurrent writers never block it; entries inserted behind the
// cursor are simply not revisited.
type Iterator[K, V any] struct {
	tree   *BTree[K, V]
	keys   []K
	values []V
	pos    int

	// lo is the cursor's lower bound. After emitting a key it is that
	// key, exclusive; after resuming past a subtree it is the routing
	// separator, inclusive (the separator's own key lives in the subtree
	// to its right). Every update strictly raises the bound.
	lo          K
	loInclusive bool
	loSet       bool

	done bool
	err  error
}

// Scan returns an iterator over the whole tree in key order.
func (t *BTree[K, V]) Scan() *Iterator[K, V] {
	return &Iterator[K, V]{tree: t}
}

// ScanFrom returns an iterator over all entries with keys >= key.
func (t *BTree[K, V]) ScanFrom(key K) *Iterator[K, V] {
	return &Iterator[K, V]{tree: t, lo: key, loInclusive: true, loSet: true}
}

// Next returns the next entry in key order. The second result is false
// once the iterator is exhausted or has failed; check Err afterwards.
func (it *Iterator[K, V]) Next() (entry.Entry[K, V], bool) {
	for it.pos >= len(it.keys) {
		if it.done || !it.fill() {
			var zero entry.Entry[K, V]
			return zero, false
		}
	}
	e := entry.New(it.keys[it.pos], it.values[it.pos])
	it.pos++
	it.lo = e.Key
	it.loInclusive = false
	it.loSet = true
	return e, true
}

// Err returns the error that terminated iteration early, if any.
func (it *Iterator[K, V]) Err() error {
	return it.err
}

// skip reports whether the cursor has already moved past key. Equal keys
// are skipped under an exclusive bound, so an emitted duplicate run does
// not repeat across batches.
func (it *Iterator[K, V]) skip(key K) bool {
	if !it.loSet {
		return false
	}
	if it.loInclusive {
		return it.tree.less(key, it.lo)
	}
	return !it.tree.less(it.lo, key)
}

// fill re-descends the tree with a collect probe and refills the buffer
// with the next unconsumed leaf batch. Returns false when exhausted.
func (it *Iterator[K, V]) fill() bool {
	t := it.tree
	for {
		var probe *K
		if it.loSet {
			probe = &it.lo
		}

		it.keys = it.keys[:0]
		it.values = it.values[:0]
		it.pos = 0
		var next keyRef[K]

		root := t.loadRoot()
		if root == nil {
			continue
		}
		err := root.getValues(probe, true, &next, &it.keys, &it.values, 0)
		if errors.Is(err, errRestart) {
			continue
		}
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if t.loadRoot() != root {
			continue
		}

		skip := 0
		for skip < len(it.keys) && it.skip(it.keys[skip]) {
			skip++
		}
		it.pos = skip

		if it.pos < len(it.keys) {
			return true
		}

		// The routed-to leaf held nothing new. Resume past it via the
		// deepest separator recorded on the way down, if any.
		if !next.ok {
			it.done = true
			return false
		}
		it.lo = next.key
		it.loInclusive = true
		it.loSet = true
	}
}
