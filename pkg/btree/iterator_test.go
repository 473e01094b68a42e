package btree_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIteratorKeySum(t *testing.T) {
	tree := newMemTree(t, 100)
	for k := uint64(0); k < 1000; k++ {
		require.NoError(t, tree.Insert(k, k))
	}

	var sum uint64
	for it := tree.Scan(); ; {
		e, ok := it.Next()
		if !ok {
			require.NoError(t, it.Err())
			break
		}
		sum += e.Key
	}
	require.Equal(t, uint64(499500), sum)
}

// Scanning after random-order inserts must yield the full contents in
// non-decreasing key order.
func TestScanCoversRandomInserts(t *testing.T) {
	tree := newMemTree(t, 6)
	perm := rand.Perm(750)
	for _, k := range perm {
		require.NoError(t, tree.Insert(uint64(k), uint64(k)*3))
	}
	require.NoError(t, tree.Verify())

	entries := collectEntries(t, tree.Scan())
	require.Len(t, entries, len(perm))
	for i, e := range entries {
		require.Equal(t, uint64(i), e.Key)
		require.Equal(t, uint64(i)*3, e.Value)
	}
}

func TestScanFrom(t *testing.T) {
	tree := newMemTree(t, 4)
	for k := uint64(0); k < 100; k++ {
		require.NoError(t, tree.Insert(k, k))
	}

	entries := collectEntries(t, tree.ScanFrom(50))
	require.Len(t, entries, 50)
	require.Equal(t, uint64(50), entries[0].Key)
	require.Equal(t, uint64(99), entries[len(entries)-1].Key)

	// A start key past the maximum yields nothing.
	require.Empty(t, collectEntries(t, tree.ScanFrom(200)))

	// A start key below the minimum is a full scan.
	require.Len(t, collectEntries(t, tree.ScanFrom(0)), 100)
}

func TestScanFromAbsentKey(t *testing.T) {
	tree := newMemTree(t, 8)
	for k := uint64(0); k < 50; k++ {
		require.NoError(t, tree.Insert(k*2, k)) // even keys only
	}

	entries := collectEntries(t, tree.ScanFrom(31))
	require.Equal(t, uint64(32), entries[0].Key)
	require.Len(t, entries, 34) // 32, 34, ..., 98
}
