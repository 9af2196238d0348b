package pool

import "sync"

// Pooled scratch slices for the two hot traversal paths: the walker
// sorts an object's keys on every visited map node, and the bulk
// change detector renders a whole resource into a canonical byte form
// before hashing. Both run once per resource element, so the slices
// are recycled instead of reallocated.

// stringSlicePool backs per-node key sorting. FHIR complex types
// rarely exceed a dozen fields, so the slices start small.
var stringSlicePool = sync.Pool{
	New: func() any {
		s := make([]string, 0, 16)
		return &s
	},
}

// AcquireStringSlice gets an empty string slice from the pool.
func AcquireStringSlice() *[]string {
	s := stringSlicePool.Get().(*[]string)
	*s = (*s)[:0]
	return s
}

// ReleaseStringSlice returns a string slice to the pool. Slices grown
// past a few hundred keys are dropped rather than pinned.
func ReleaseStringSlice(s *[]string) {
	if s == nil {
		return
	}
	if cap(*s) <= 256 {
		stringSlicePool.Put(s)
	}
}

// byteSlicePool backs the canonical resource rendering that feeds the
// structural hash. A typical serialized resource fits in a few KB; the
// 4KB start avoids regrowth for the common case while large Bundles
// are simply not pooled on release.
var byteSlicePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// AcquireByteSlice gets an empty byte buffer from the pool.
func AcquireByteSlice() *[]byte {
	b := byteSlicePool.Get().(*[]byte)
	*b = (*b)[:0]
	return b
}

// ReleaseByteSlice returns a byte buffer to the pool unless it grew
// past 64KB.
func ReleaseByteSlice(b *[]byte) {
	if b == nil {
		return
	}
	if cap(*b) <= 65536 {
		byteSlicePool.Put(b)
	}
}
