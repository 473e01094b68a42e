package btree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionLockWord(t *testing.T) {
	var o olcVersion
	o.counter.Store(0b100)

	v, err := o.readLock()
	require.NoError(t, err)

	locked, err := o.upgradeToWriteLock(v)
	require.NoError(t, err)
	require.Equal(t, v+0b10, locked)

	// A locked node turns readers and validators away.
	_, err = o.readLock()
	require.ErrorIs(t, err, errRestart)
	require.ErrorIs(t, o.validate(v), errRestart)

	o.writeUnlock()
	next, err := o.readLock()
	require.NoError(t, err)
	require.Greater(t, next, v, "unlock advances the version")

	// A stale snapshot can no longer be upgraded.
	_, err = o.upgradeToWriteLock(v)
	require.ErrorIs(t, err, errRestart)
	next2, err := o.readLock()
	require.NoError(t, err)
	require.Equal(t, next, next2, "failed CAS leaves the word untouched")
}

func TestVersionObsolete(t *testing.T) {
	var o olcVersion
	o.counter.Store(0b100)

	require.NoError(t, o.writeLock())
	o.writeUnlockObsolete()

	_, err := o.readLock()
	require.ErrorIs(t, err, errRestart, "an obsolete node is never readable")
}
