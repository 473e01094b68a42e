package btree

import (
	"cmp"
	"encoding/binary"
)

// Codec serializes fixed-width elements into page buffers. Encode and
// Decode must agree on Width bytes per element. The shipped codecs copy
// native byte order, matching the raw-copy file format; substitute a
// portable codec if files move between architectures.
type Codec[T any] interface {
	// Width returns the encoded size of one element in bytes.
	Width() int
	// Encode writes v into the first Width bytes of buf.
	Encode(buf []byte, v T)
	// Decode reads one element from the first Width bytes of buf.
	Decode(buf []byte) T
}

// Uint64Codec encodes uint64 elements in native byte order.
type Uint64Codec struct{}

func (Uint64Codec) Width() int { return 8 }

func (Uint64Codec) Encode(buf []byte, v uint64) {
	binary.NativeEndian.PutUint64(buf, v)
}

func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.NativeEndian.Uint64(buf)
}

// Int64Codec encodes int64 elements in native byte order.
type Int64Codec struct{}

func (Int64Codec) Width() int { return 8 }

func (Int64Codec) Encode(buf []byte, v int64) {
	binary.NativeEndian.PutUint64(buf, uint64(v))
}

func (Int64Codec) Decode(buf []byte) int64 {
	return int64(binary.NativeEndian.Uint64(buf))
}

// Uint32Codec encodes uint32 elements in native byte order.
type Uint32Codec struct{}

func (Uint32Codec) Width() int { return 4 }

func (Uint32Codec) Encode(buf []byte, v uint32) {
	binary.NativeEndian.PutUint32(buf, v)
}

func (Uint32Codec) Decode(buf []byte) uint32 {
	return binary.NativeEndian.Uint32(buf)
}

// Less reports the strict ordering of keys. It must be a total order and
// stay consistent with the Eq passed alongside it.
type Less[K any] func(a, b K) bool

// Eq reports key equality.
type Eq[K any] func(a, b K) bool

// OrderedLess is the natural ordering for ordered key types.
func OrderedLess[K cmp.Ordered](a, b K) bool { return a < b }

// OrderedEq is the natural equality for comparable key types.
func OrderedEq[K comparable](a, b K) bool { return a == b }
