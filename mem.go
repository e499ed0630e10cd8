package hoard

import (
	"github.com/cockroachdb/errors"

	"github.com/vkngwrapper/hoard/internal/memtag"
)

// Memory is the growth provider backing an Allocator's heap. It hands
// out raw byte extensions at the end of the heap and never invalidates
// offsets it has already returned: the heap only grows, it is never
// shrunk or relocated from the consumer's point of view.
type Memory interface {
	// Extend grows the heap by the given number of bytes and returns
	// the offset of the first new byte. Extend(0) returns the current
	// end of the heap without growing it. Extend must either fully
	// commit the new region or return an error and leave the heap
	// unchanged.
	Extend(bytes int) (int, error)
	// Size returns the current heap size in bytes.
	Size() int
	// Bytes returns the heap's current backing slice. The slice may be
	// replaced by a later Extend, so consumers should re-fetch it after
	// any growth.
	Bytes() []byte
}

// SliceMemory is the default Memory implementation: an append-grown
// byte slice with an optional hard size limit. A limit of zero or
// less means unbounded.
type SliceMemory struct {
	buf   []byte
	limit int
}

var _ Memory = &SliceMemory{}

// NewSliceMemory creates an empty SliceMemory that will refuse to grow
// beyond limit bytes. Pass a non-positive limit for an unbounded heap.
func NewSliceMemory(limit int) *SliceMemory {
	return &SliceMemory{
		limit: limit,
	}
}

func (m *SliceMemory) Extend(bytes int) (int, error) {
	if bytes == 0 {
		return len(m.buf), nil
	}
	if bytes < 0 {
		return 0, errors.Newf("cannot extend by %d bytes- the heap never shrinks", bytes)
	}
	if m.limit > 0 && len(m.buf)+bytes > m.limit {
		return 0, errors.Wrapf(ErrOutOfMemory, "extending by %d bytes would exceed the %d-byte limit", bytes, m.limit)
	}

	oldEnd := len(m.buf)
	m.buf = append(m.buf, make([]byte, bytes)...)
	return oldEnd, nil
}

func (m *SliceMemory) Size() int {
	return len(m.buf)
}

func (m *SliceMemory) Bytes() []byte {
	return m.buf
}

// minimumHeapBytes is the smallest heap New will lay out: leading
// padding and sentinel, one minimum-size free block, and the trailing
// sentinel's word.
const minimumHeapBytes = int(memtag.FirstBlock) + memtag.MinBlockWords*memtag.WordSize
