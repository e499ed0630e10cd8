package hoard

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"

	"github.com/vkngwrapper/hoard/internal/memtag"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will
	// not be synchronized internally. The consumer must guarantee it is used
	// from only one goroutine at a time or is synchronized by some other
	// mechanism, but performance may improve because internal mutexes are
	// not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateTrackAllocations maintains a registry of live
	// allocations and their requested sizes. The registry powers
	// OutstandingAllocations and costs one map entry per live allocation;
	// it is never consulted when placing new allocations.
	AllocatorCreateTrackAllocations
)

var createFlagsMapping = map[CreateFlags]string{
	AllocatorCreateExternallySynchronized: "AllocatorCreateExternallySynchronized",
	AllocatorCreateTrackAllocations:       "AllocatorCreateTrackAllocations",
}

func (f CreateFlags) String() string {
	out := ""
	for bit := CreateFlags(1); bit != 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}
		if out != "" {
			out += "|"
		}
		out += createFlagsMapping[bit]
	}
	return out
}

const (
	// defaultInitialSize is the heap size laid out by New when none is
	// provided via CreateOptions: enough for the sentinels and a six-word
	// free block.
	defaultInitialSize int = 64
	// defaultExtendGranularity is the alignment applied to growth requests
	// sent to the backing Memory when none is provided via CreateOptions.
	defaultExtendGranularity int = memtag.DWordSize
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// InitialSize is the number of bytes requested from the backing Memory
	// up front. It is rounded up to the double-word granularity and must
	// leave room for both sentinels and one minimum-size block. When zero,
	// a small default is used.
	InitialSize int
	// ExtendGranularity rounds every growth request sent to the backing
	// Memory up to a multiple of itself. It must be a power of two no
	// smaller than the double-word granularity. When zero, growth requests
	// are rounded only to the double word. Larger values trade slack space
	// at the end of the heap for fewer growth calls.
	ExtendGranularity int
}

// New creates an Allocator managing a fresh heap laid out inside the
// provided Memory, which must be empty. The heap is bracketed by its
// sentinel tags with a single free block between them.
//
// logger - Destination for debug-level operation traces. When nil,
// slog.Default() is used.
//
// memory - The growth provider backing the heap
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, memory Memory, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if memory == nil {
		return nil, errors.New("a backing Memory is required")
	}
	if memory.Size() != 0 {
		return nil, errors.Newf("the backing Memory already holds %d bytes- an allocator must lay out its heap from scratch", memory.Size())
	}

	initialSize := options.InitialSize
	if initialSize == 0 {
		initialSize = defaultInitialSize
	}
	initialSize = AlignUp(initialSize, uint(memtag.DWordSize))
	if initialSize < minimumHeapBytes {
		return nil, errors.Newf("initial size %d cannot hold the heap skeleton- at least %d bytes are required", initialSize, minimumHeapBytes)
	}

	extendGranularity := options.ExtendGranularity
	if extendGranularity == 0 {
		extendGranularity = defaultExtendGranularity
	}
	if extendGranularity < memtag.DWordSize {
		return nil, errors.Newf("extend granularity %d is smaller than the double-word granularity %d", extendGranularity, memtag.DWordSize)
	}
	err := CheckPow2(extendGranularity, "options.ExtendGranularity")
	if err != nil {
		return nil, err
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:      logger,
		memory:      memory,
		createFlags: options.Flags,

		extendGranularity: extendGranularity,
	}
	allocator.mutex.UseMutex = useMutex

	if options.Flags&AllocatorCreateTrackAllocations != 0 {
		allocator.registry = swiss.NewMap[memtag.BlockHandle, allocationInfo](42)
	}

	_, err = memory.Extend(initialSize)
	if err != nil {
		return nil, errors.Wrap(err, "laying out the initial heap")
	}

	heap := memory.Bytes()
	initialWords := (initialSize - int(memtag.FirstBlock)) / memtag.WordSize
	memtag.WriteSentinel(heap, memtag.PrevFooterOffset(memtag.FirstBlock))
	memtag.WriteBlock(heap, memtag.FirstBlock, initialWords, false)
	memtag.WriteSentinel(heap, initialSize-memtag.TagSize)

	allocator.heapBase = memtag.FirstBlock

	DebugValidate(unguardedValidator{allocator})
	return allocator, nil
}
