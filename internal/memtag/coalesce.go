package memtag

// Coalesce merges the free block p with whichever of its immediate
// neighbors are also free and returns the handle of the merged block.
// The sentinels read as allocated, so a merge never reaches outside
// the heap. p must already be tagged free.
func Coalesce(heap []byte, p BlockHandle) BlockHandle {
	prevAllocated := PrevIsAllocated(heap, p)
	nextAllocated := IsAllocated(heap, NextBlock(heap, p))
	words := SizeOf(heap, p)

	switch {
	case prevAllocated && nextAllocated:
		return p
	case prevAllocated:
		words += SizeOf(heap, NextBlock(heap, p))
	case nextAllocated:
		words += SizeOf(heap, PrevBlock(heap, p))
		p = PrevBlock(heap, p)
	default:
		words += SizeOf(heap, PrevBlock(heap, p)) + SizeOf(heap, NextBlock(heap, p))
		p = PrevBlock(heap, p)
	}

	WriteBlock(heap, p, words, false)
	return p
}
