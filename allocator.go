package hoard

import (
	"math"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/hoard/internal/memtag"
	"github.com/vkngwrapper/hoard/internal/utils"
)

// BlockHandle identifies a live allocation within an Allocator's heap.
// It is the byte offset of the allocation's payload and is always a
// multiple of the double-word granularity.
type BlockHandle = memtag.BlockHandle

// NoBlock is the null BlockHandle, returned for zero-size and failed
// allocation requests.
const NoBlock = memtag.NoBlock

// Allocator manages a single contiguous, growable heap as an implicit
// free list of boundary-tagged blocks. Free blocks are discovered by
// linear scan in address order- there is no separate free-list
// structure, which keeps metadata overhead at one tag pair per block.
type Allocator struct {
	mutex  utils.OptionalRWMutex
	logger *slog.Logger
	memory Memory

	createFlags       CreateFlags
	extendGranularity int

	// heapBase is the handle of the first real block. It is zero until
	// New has laid out the sentinels, which is how the zero Allocator
	// is recognized and refused.
	heapBase memtag.BlockHandle

	registry *swiss.Map[memtag.BlockHandle, allocationInfo]
}

func (a *Allocator) heap() []byte {
	return a.memory.Bytes()
}

// initialized reports whether New has laid out the heap skeleton.
func (a *Allocator) initialized() bool {
	return a != nil && a.heapBase != memtag.NoBlock && a.memory != nil
}

// sizeWords converts a requested payload size in bytes to a block size
// in words: payload plus tag overhead plus any debug margin, rounded
// up to the double-word granularity.
func sizeWords(sizeBytes int) int {
	return AlignUp(sizeBytes+memtag.OverheadBytes+DebugMargin, uint(memtag.DWordSize)) / memtag.WordSize
}

// usableBytes is the payload space a block of the given word size
// offers a client, net of any debug margin.
func usableBytes(words int) int {
	return memtag.UsableBytes(words) - DebugMargin
}

// requestTooLarge reports whether rounding sizeBytes up to a block
// size and then to the extend granularity would overflow int
// arithmetic. No Memory could back such a request, so it fails the
// same way an exhausted Memory does.
func (a *Allocator) requestTooLarge(sizeBytes int) bool {
	return sizeBytes > math.MaxInt-memtag.OverheadBytes-DebugMargin-
		(memtag.DWordSize-1)-(a.extendGranularity-1)
}

// Allocate carves a block of at least sizeBytes usable bytes out of
// the heap and returns its handle. The heap is grown via the backing
// Memory when no existing free block fits.
//
// A request for zero bytes returns NoBlock with no error and no side
// effects. When the backing Memory cannot supply enough space, NoBlock
// is returned with an error wrapping ErrOutOfMemory and the heap is
// left unchanged.
func (a *Allocator) Allocate(sizeBytes int) (BlockHandle, error) {
	if !a.initialized() {
		return NoBlock, ErrUninitialized
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Allocate", slog.Int("Size", sizeBytes))
	return a.allocate(sizeBytes)
}

func (a *Allocator) allocate(sizeBytes int) (BlockHandle, error) {
	if sizeBytes <= 0 {
		return NoBlock, nil
	}
	if a.requestTooLarge(sizeBytes) {
		return NoBlock, errors.Wrapf(ErrOutOfMemory, "no heap can host a %d byte allocation", sizeBytes)
	}

	neededWords := sizeWords(sizeBytes)

	heap := a.heap()
	block := a.findFirstFit(heap, neededWords)
	if block == memtag.NoBlock {
		var err error
		block, err = a.extendHeap(neededWords)
		if err != nil {
			return NoBlock, err
		}
		heap = a.heap()
	}

	a.placeBlock(heap, block, neededWords)
	a.registerAllocation(block, sizeBytes)

	DebugValidate(unguardedValidator{a})
	return block, nil
}

// findFirstFit scans blocks in address order and returns the first
// free block of at least neededWords words, or NoBlock when none fits.
func (a *Allocator) findFirstFit(heap []byte, neededWords int) memtag.BlockHandle {
	for p := a.heapBase; memtag.SizeOf(heap, p) != 0; p = memtag.NextBlock(heap, p) {
		if memtag.IsAllocated(heap, p) {
			continue
		}
		if memtag.SizeOf(heap, p) >= neededWords {
			return p
		}
	}
	return memtag.NoBlock
}

// placeBlock marks neededWords words of the free block as allocated,
// splitting off the remainder as a new free block when there is one.
// The remainder can never sit next to another free block: the block
// being split was free, so both its neighbors are allocated.
func (a *Allocator) placeBlock(heap []byte, block memtag.BlockHandle, neededWords int) {
	blockWords := memtag.SizeOf(heap, block)

	if blockWords > neededWords {
		memtag.WriteBlock(heap, block, neededWords, true)
		remainder := memtag.NextBlock(heap, block)
		memtag.WriteBlock(heap, remainder, blockWords-neededWords, false)
	} else {
		memtag.WriteBlock(heap, block, blockWords, true)
	}

	WriteMagicValue(heap, int(block)+usableBytes(memtag.SizeOf(heap, block)))
}

// extendHeap grows the heap enough to host a free block of neededWords
// words, reusing any free space already sitting at the tail of the
// heap. The new region is tagged as one free block, the trailing
// sentinel is rewritten after it, and the block is coalesced with a
// free old tail. Either the whole extension commits or the heap is
// left untouched.
func (a *Allocator) extendHeap(neededWords int) (memtag.BlockHandle, error) {
	heap := a.heap()
	oldEnd := a.memory.Size()

	// The handle a block starting at the old sentinel position would
	// have. Its "previous footer" is the last real block's footer.
	tail := memtag.BlockHandle(oldEnd)
	requestWords := neededWords
	if !memtag.PrevIsAllocated(heap, tail) {
		requestWords -= memtag.SizeOf(heap, memtag.PrevBlock(heap, tail))
	}

	DebugCheckPow2(a.extendGranularity, "extendGranularity")
	requestBytes := AlignUp(requestWords*memtag.WordSize, uint(a.extendGranularity))

	a.logger.Debug("Allocator::extendHeap",
		slog.Int("NeededWords", neededWords),
		slog.Int("RequestBytes", requestBytes))

	_, err := a.memory.Extend(requestBytes)
	if err != nil {
		return NoBlock, errors.Wrapf(err, "extending the heap by %d bytes", requestBytes)
	}

	heap = a.heap()
	newEnd := a.memory.Size()

	memtag.WriteBlock(heap, tail, requestBytes/memtag.WordSize, false)
	memtag.WriteSentinel(heap, newEnd-memtag.TagSize)

	return memtag.Coalesce(heap, tail), nil
}

// Free releases the block behind the given handle and merges it with
// any free neighbors. Free is a defensive no-op when the handle is
// NoBlock, the allocator is uninitialized, or the handle does not
// refer to a live allocated block- freeing the same handle twice
// leaves the heap exactly as the first call left it.
func (a *Allocator) Free(handle BlockHandle) {
	if !a.initialized() {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Free", slog.Int("Handle", int(handle)))
	a.free(handle)
}

func (a *Allocator) free(handle BlockHandle) {
	heap := a.heap()
	if !a.isLiveBlock(heap, handle) {
		return
	}

	memtag.FlipAllocated(heap, handle)
	memtag.Coalesce(heap, handle)
	a.unregisterAllocation(handle)

	DebugValidate(unguardedValidator{a})
}

// isLiveBlock reports whether the handle plausibly refers to an
// allocated block: in bounds, double-word aligned, tagged allocated,
// and with matching tags. A client handing in an address that passes
// these checks without being a real block start can still corrupt the
// heap- that is the documented precondition of a tag-only design, and
// Validate exists to catch it in testing.
func (a *Allocator) isLiveBlock(heap []byte, handle BlockHandle) bool {
	if handle < a.heapBase || int(handle) >= a.memory.Size()-memtag.TagSize {
		return false
	}
	if int(handle)%memtag.DWordSize != 0 {
		return false
	}
	words := memtag.SizeOf(heap, handle)
	if words < memtag.MinBlockWords || int(handle)+words*memtag.WordSize > a.memory.Size() {
		return false
	}
	return memtag.IsAllocated(heap, handle) && memtag.HeaderEqualsFooter(heap, handle)
}

// Resize changes the usable size of the allocation behind handle to at
// least sizeBytes, preserving the first min(old, new) payload bytes at
// whatever handle is returned.
//
// A NoBlock handle behaves as Allocate(sizeBytes); a zero size behaves
// as Free(handle) and returns NoBlock. The block is grown in place
// when the block that follows it is free and large enough; otherwise
// the payload moves to a freshly allocated block. On failure the
// original block and its contents are left fully intact.
func (a *Allocator) Resize(handle BlockHandle, sizeBytes int) (BlockHandle, error) {
	if !a.initialized() {
		return NoBlock, ErrUninitialized
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Resize", slog.Int("Handle", int(handle)), slog.Int("Size", sizeBytes))

	if handle == NoBlock {
		return a.allocate(sizeBytes)
	}
	if sizeBytes <= 0 {
		a.free(handle)
		return NoBlock, nil
	}

	heap := a.heap()
	if !a.isLiveBlock(heap, handle) {
		return NoBlock, errors.Wrapf(ErrInvalidBlock, "cannot resize handle %d", int(handle))
	}
	if a.requestTooLarge(sizeBytes) {
		return NoBlock, errors.Wrapf(ErrOutOfMemory, "no heap can host a %d byte allocation", sizeBytes)
	}

	neededWords := sizeWords(sizeBytes)
	blockWords := memtag.SizeOf(heap, handle)

	if blockWords >= neededWords {
		a.shrinkInPlace(heap, handle, blockWords, neededWords)
		a.registerAllocation(handle, sizeBytes)
		DebugValidate(unguardedValidator{a})
		return handle, nil
	}

	next := memtag.NextBlock(heap, handle)
	if !memtag.IsAllocated(heap, next) && blockWords+memtag.SizeOf(heap, next) >= neededWords {
		a.growInPlace(heap, handle, blockWords+memtag.SizeOf(heap, next), neededWords)
		a.registerAllocation(handle, sizeBytes)
		DebugValidate(unguardedValidator{a})
		return handle, nil
	}

	return a.relocate(handle, sizeBytes)
}

// shrinkInPlace re-tags the block at its needed size and returns any
// leftover words to the free list. The leftover is coalesced so that
// a free successor never ends up adjacent to a new free remainder.
func (a *Allocator) shrinkInPlace(heap []byte, block memtag.BlockHandle, blockWords, neededWords int) {
	if blockWords-neededWords >= memtag.MinBlockWords {
		memtag.WriteBlock(heap, block, neededWords, true)
		remainder := memtag.NextBlock(heap, block)
		memtag.WriteBlock(heap, remainder, blockWords-neededWords, false)
		memtag.Coalesce(heap, remainder)
	}

	WriteMagicValue(heap, int(block)+usableBytes(memtag.SizeOf(heap, block)))
}

// growInPlace absorbs the free successor block, keeping neededWords
// words and splitting the rest back off as a free block. The split
// remainder's successor is the block after the absorbed one, which
// cannot be free, so no coalescing is needed.
func (a *Allocator) growInPlace(heap []byte, block memtag.BlockHandle, combinedWords, neededWords int) {
	if combinedWords-neededWords >= memtag.MinBlockWords {
		memtag.WriteBlock(heap, block, neededWords, true)
		remainder := memtag.NextBlock(heap, block)
		memtag.WriteBlock(heap, remainder, combinedWords-neededWords, false)
	} else {
		memtag.WriteBlock(heap, block, combinedWords, true)
	}

	WriteMagicValue(heap, int(block)+usableBytes(memtag.SizeOf(heap, block)))
}

// relocate is the always-correct resize path: allocate a new block,
// copy the surviving payload, free the old block. Allocation failure
// leaves the original block untouched.
func (a *Allocator) relocate(handle BlockHandle, sizeBytes int) (BlockHandle, error) {
	oldUsable := usableBytes(memtag.SizeOf(a.heap(), handle))

	newHandle, err := a.allocate(sizeBytes)
	if err != nil {
		return NoBlock, err
	}

	// allocate may have grown the heap and replaced the backing slice
	heap := a.heap()
	copyBytes := oldUsable
	if sizeBytes < copyBytes {
		copyBytes = sizeBytes
	}
	copy(heap[newHandle:int(newHandle)+copyBytes], heap[handle:int(handle)+copyBytes])

	a.free(handle)
	return newHandle, nil
}

// Bytes returns the usable payload slice of a live allocation. The
// slice aliases the heap and is invalidated by any later Allocate,
// Free, or Resize call. Bytes returns nil when the handle does not
// refer to a live allocation.
func (a *Allocator) Bytes(handle BlockHandle) []byte {
	if !a.initialized() {
		return nil
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap()
	if !a.isLiveBlock(heap, handle) {
		return nil
	}

	return heap[handle : int(handle)+usableBytes(memtag.SizeOf(heap, handle))]
}

// UsableSize returns the payload bytes available behind a live
// allocation, which may exceed the size originally requested due to
// alignment. It returns zero when the handle is not a live allocation.
func (a *Allocator) UsableSize(handle BlockHandle) int {
	if !a.initialized() {
		return 0
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap()
	if !a.isLiveBlock(heap, handle) {
		return 0
	}

	return usableBytes(memtag.SizeOf(heap, handle))
}

// Clear instantly frees all allocations, resetting the heap to a
// single maximal free block. The heap keeps whatever size it has
// grown to.
func (a *Allocator) Clear() {
	if !a.initialized() {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Allocator::Clear")

	heap := a.heap()
	totalWords := (a.memory.Size() - int(a.heapBase)) / memtag.WordSize
	memtag.WriteBlock(heap, a.heapBase, totalWords, false)
	memtag.WriteSentinel(heap, a.memory.Size()-memtag.TagSize)

	if a.registry != nil {
		a.registry = swiss.NewMap[memtag.BlockHandle, allocationInfo](42)
	}

	DebugValidate(unguardedValidator{a})
}

// IsEmpty reports whether the heap holds no live allocations.
func (a *Allocator) IsEmpty() bool {
	if !a.initialized() {
		return true
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap()
	return !memtag.IsAllocated(heap, a.heapBase) &&
		memtag.SizeOf(heap, memtag.NextBlock(heap, a.heapBase)) == 0
}

// VisitAllBlocks calls the provided callback once for each real block
// in the heap, in address order, with the block's handle, payload
// offset, total size in bytes, and whether it is free. It stops and
// returns the first error the callback returns.
func (a *Allocator) VisitAllBlocks(handleBlock func(handle BlockHandle, offset int, size int, free bool) error) error {
	if !a.initialized() {
		return ErrUninitialized
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.visitAllBlocks(handleBlock)
}

func (a *Allocator) visitAllBlocks(handleBlock func(handle BlockHandle, offset int, size int, free bool) error) error {
	heap := a.heap()
	for p := a.heapBase; memtag.SizeOf(heap, p) != 0; p = memtag.NextBlock(heap, p) {
		err := handleBlock(p, int(p), memtag.SizeOf(heap, p)*memtag.WordSize, !memtag.IsAllocated(heap, p))
		if err != nil {
			return err
		}
	}
	return nil
}
