package memtag

import "encoding/binary"

// Layout constants for the boundary-tag heap. Sizes in tags are stored
// in words, so a block can span up to (1<<31 - 1) words with the low
// bit left over for the allocated flag.
const (
	// WordSize is the width in bytes of a heap word.
	WordSize = 8
	// TagSize is the width in bytes of a single boundary tag.
	TagSize = 4
	// DWordSize is the alignment granularity of every block handle.
	DWordSize = 2 * WordSize
	// OverheadBytes is the bookkeeping cost of one block: a header tag
	// plus a footer tag.
	OverheadBytes = 2 * TagSize
	// MinBlockWords is the smallest block the allocator will ever carve:
	// one double word, half of which is overhead.
	MinBlockWords = 2

	// FirstBlock is the handle of the first real block in any heap. The
	// word before it holds alignment padding and the leading sentinel.
	FirstBlock BlockHandle = DWordSize
)

const allocatedBit uint32 = 0x1

// BlockHandle identifies a block by the byte offset of its first
// payload byte within the heap. Handles are stable for the life of an
// allocation: the heap only ever grows in place.
type BlockHandle int

// NoBlock is the zero BlockHandle. Offset 0 lies inside the heap's
// leading padding, so no real block can ever have it.
const NoBlock BlockHandle = 0

// The functions in this package assume p is the handle of a validly
// tagged block. Handing them an arbitrary offset reads or clobbers
// whatever happens to live there- the allocator is responsible for
// never letting such an offset through.

func readTag(heap []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(heap[offset:])
}

func writeTag(heap []byte, offset int, value uint32) {
	binary.LittleEndian.PutUint32(heap[offset:], value)
}

// HeaderOffset returns the byte offset of the block's header tag.
func HeaderOffset(p BlockHandle) int {
	return int(p) - TagSize
}

// FooterOffset returns the byte offset of the block's footer tag,
// which sits immediately before the next block's header.
func FooterOffset(heap []byte, p BlockHandle) int {
	return int(p) + SizeOf(heap, p)*WordSize - OverheadBytes
}

// SizeOf returns the block's total size in words, including overhead.
// A size of zero marks a sentinel.
func SizeOf(heap []byte, p BlockHandle) int {
	return int(readTag(heap, HeaderOffset(p)) &^ allocatedBit)
}

// IsAllocated reports whether the block's allocated bit is set.
func IsAllocated(heap []byte, p BlockHandle) bool {
	return readTag(heap, HeaderOffset(p))&allocatedBit != 0
}

// NextBlock returns the handle of the block immediately after p.
// Calling this on the trailing sentinel returns p itself.
func NextBlock(heap []byte, p BlockHandle) BlockHandle {
	return p + BlockHandle(SizeOf(heap, p)*WordSize)
}

// PrevFooterOffset returns the byte offset of the preceding block's
// footer tag, which sits immediately before p's header.
func PrevFooterOffset(p BlockHandle) int {
	return HeaderOffset(p) - TagSize
}

// PrevIsAllocated reports the allocated bit of the block immediately
// before p, read from that block's footer. For the first real block
// this reads the leading sentinel, which is always allocated.
func PrevIsAllocated(heap []byte, p BlockHandle) bool {
	return readTag(heap, PrevFooterOffset(p))&allocatedBit != 0
}

// PrevBlock returns the handle of the block immediately before p. It
// must not be called when the predecessor is the leading sentinel.
func PrevBlock(heap []byte, p BlockHandle) BlockHandle {
	prevWords := int(readTag(heap, PrevFooterOffset(p)) &^ allocatedBit)
	return p - BlockHandle(prevWords*WordSize)
}

// WriteBlock tags a block with identical header and footer encoding
// the given size in words and allocated flag.
func WriteBlock(heap []byte, p BlockHandle, words int, allocated bool) {
	value := uint32(words)
	if allocated {
		value |= allocatedBit
	}
	writeTag(heap, HeaderOffset(p), value)
	writeTag(heap, int(p)+words*WordSize-OverheadBytes, value)
}

// FlipAllocated toggles the block's allocated bit in both tags.
func FlipAllocated(heap []byte, p BlockHandle) {
	value := readTag(heap, HeaderOffset(p)) ^ allocatedBit
	writeTag(heap, HeaderOffset(p), value)
	writeTag(heap, FooterOffset(heap, p), value)
}

// WriteSentinel writes a zero-size allocated tag at the given byte
// offset. Sentinels terminate traversal and read as allocated so that
// coalescing never crosses a heap boundary.
func WriteSentinel(heap []byte, offset int) {
	writeTag(heap, offset, allocatedBit)
}

// IsSentinelAt reports whether a correctly formed sentinel tag lives
// at the given byte offset.
func IsSentinelAt(heap []byte, offset int) bool {
	return readTag(heap, offset) == allocatedBit
}

// HeaderEqualsFooter reports whether the block's two tags agree.
func HeaderEqualsFooter(heap []byte, p BlockHandle) bool {
	return readTag(heap, HeaderOffset(p)) == readTag(heap, FooterOffset(heap, p))
}

// UsableBytes converts a block size in words to the payload bytes
// available to the client.
func UsableBytes(words int) int {
	return words*WordSize - OverheadBytes
}
