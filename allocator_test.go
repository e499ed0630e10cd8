package hoard_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hoard"
)

func newTestAllocator(t *testing.T, options hoard.CreateOptions) *hoard.Allocator {
	t.Helper()

	allocator, err := hoard.New(nil, hoard.NewSliceMemory(0), options)
	require.NoError(t, err)
	require.True(t, allocator.CheckConsistency())
	return allocator
}

func TestAllocateRoundTrip(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	var stats hoard.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)

	require.Equal(t, hoard.DetailedStatistics{
		Statistics: hoard.Statistics{
			HeapBytes:       64,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		FreeRegionCount:   1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRegionSizeMin: 48,
		FreeRegionSizeMax: 48,
	}, stats)

	// Sized so the block exactly fills the initial free region, net of
	// tag overhead and any compiled-in debug margin.
	alloc1, err := allocator.Allocate(40 - hoard.DebugMargin)
	require.NoError(t, err)
	require.NotEqual(t, hoard.NoBlock, alloc1)
	require.True(t, allocator.CheckConsistency())

	stats.Clear()
	allocator.AddDetailedStatistics(&stats)
	require.Equal(t, hoard.DetailedStatistics{
		Statistics: hoard.Statistics{
			HeapBytes:       64,
			AllocationCount: 1,
			AllocationBytes: 48,
		},
		FreeRegionCount:   0,
		AllocationSizeMin: 48,
		AllocationSizeMax: 48,
		FreeRegionSizeMin: math.MaxInt,
		FreeRegionSizeMax: 0,
	}, stats)

	allocator.Free(alloc1)
	require.True(t, allocator.CheckConsistency())
	require.True(t, allocator.IsEmpty())

	stats.Clear()
	allocator.AddDetailedStatistics(&stats)
	require.Equal(t, hoard.DetailedStatistics{
		Statistics: hoard.Statistics{
			HeapBytes:       64,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		FreeRegionCount:   1,
		AllocationSizeMin: math.MaxInt,
		AllocationSizeMax: 0,
		FreeRegionSizeMin: 48,
		FreeRegionSizeMax: 48,
	}, stats)
}

func TestAllocateFitAndAlignment(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	sizes := []int{1, 7, 8, 15, 40, 48, 100, 1000, 4096}
	handles := make([]hoard.BlockHandle, 0, len(sizes))

	for _, size := range sizes {
		handle, err := allocator.Allocate(size)
		require.NoError(t, err)
		require.NotEqual(t, hoard.NoBlock, handle)
		require.Zero(t, int(handle)%16, "handle %d for size %d is misaligned", handle, size)
		require.GreaterOrEqual(t, allocator.UsableSize(handle), size)
		require.Len(t, allocator.Bytes(handle), allocator.UsableSize(handle))
		require.True(t, allocator.CheckConsistency())

		handles = append(handles, handle)
	}

	for _, handle := range handles {
		allocator.Free(handle)
		require.True(t, allocator.CheckConsistency())
	}

	require.True(t, allocator.IsEmpty())
	require.Equal(t, 1, allocator.FreeRegionsCount())
}

func TestAllocateZeroSize(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	before := allocator.SumFreeSize()

	handle, err := allocator.Allocate(0)
	require.NoError(t, err)
	require.Equal(t, hoard.NoBlock, handle)
	require.True(t, allocator.CheckConsistency())
	require.Equal(t, before, allocator.SumFreeSize())
}

func TestFreeIsDefensive(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	alloc1, err := allocator.Allocate(100)
	require.NoError(t, err)
	alloc2, err := allocator.Allocate(100)
	require.NoError(t, err)

	// Freeing the null handle does nothing.
	allocator.Free(hoard.NoBlock)
	require.True(t, allocator.CheckConsistency())
	require.Equal(t, 2, allocator.AllocationCount())

	// A second free of the same handle leaves the heap exactly as the
	// first free left it.
	allocator.Free(alloc1)
	require.True(t, allocator.CheckConsistency())

	var after hoard.DetailedStatistics
	after.Clear()
	allocator.AddDetailedStatistics(&after)

	allocator.Free(alloc1)
	require.True(t, allocator.CheckConsistency())

	var again hoard.DetailedStatistics
	again.Clear()
	allocator.AddDetailedStatistics(&again)
	require.Equal(t, after, again)

	// A handle that was never a block start is ignored.
	allocator.Free(alloc2 + 16)
	require.True(t, allocator.CheckConsistency())
	require.Equal(t, 1, allocator.AllocationCount())
}

func TestCoalescingTotality(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	handles := make([]hoard.BlockHandle, 8)
	for i := range handles {
		handle, err := allocator.Allocate(64)
		require.NoError(t, err)
		handles[i] = handle
	}

	// Free in an order that exercises merges on both sides.
	for _, i := range []int{1, 3, 2, 7, 5, 6, 0, 4} {
		allocator.Free(handles[i])
		require.True(t, allocator.CheckConsistency())

		// No two free blocks are ever adjacent.
		lastFree := false
		err := allocator.VisitAllBlocks(func(handle hoard.BlockHandle, offset, size int, free bool) error {
			require.False(t, lastFree && free, "adjacent free blocks at offset %d", offset)
			lastFree = free
			return nil
		})
		require.NoError(t, err)
	}

	require.True(t, allocator.IsEmpty())
	require.Equal(t, 1, allocator.FreeRegionsCount())
}

func TestAllocateOutOfMemory(t *testing.T) {
	allocator, err := hoard.New(nil, hoard.NewSliceMemory(64), hoard.CreateOptions{})
	require.NoError(t, err)

	var before hoard.DetailedStatistics
	before.Clear()
	allocator.AddDetailedStatistics(&before)

	handle, err := allocator.Allocate(100)
	require.Error(t, err)
	require.ErrorIs(t, err, hoard.ErrOutOfMemory)
	require.Equal(t, hoard.NoBlock, handle)
	require.True(t, allocator.CheckConsistency())

	// The failed call left the heap exactly as it was.
	var after hoard.DetailedStatistics
	after.Clear()
	allocator.AddDetailedStatistics(&after)
	require.Equal(t, before, after)

	// A request that fits the remaining space still succeeds.
	handle, err = allocator.Allocate(32 - hoard.DebugMargin)
	require.NoError(t, err)
	require.NotEqual(t, hoard.NoBlock, handle)
	require.True(t, allocator.CheckConsistency())
}

func TestAllocateHugeRequestFails(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	var before hoard.DetailedStatistics
	before.Clear()
	allocator.AddDetailedStatistics(&before)

	// A request this close to MaxInt cannot even be rounded to a block
	// size without overflowing, let alone be satisfied. It must fail
	// like any other exhausted heap, not blow up.
	handle, err := allocator.Allocate(math.MaxInt - 10)
	require.ErrorIs(t, err, hoard.ErrOutOfMemory)
	require.Equal(t, hoard.NoBlock, handle)
	require.True(t, allocator.CheckConsistency())

	var after hoard.DetailedStatistics
	after.Clear()
	allocator.AddDetailedStatistics(&after)
	require.Equal(t, before, after)
}

func TestUninitializedAllocator(t *testing.T) {
	var allocator hoard.Allocator

	handle, err := allocator.Allocate(100)
	require.ErrorIs(t, err, hoard.ErrUninitialized)
	require.Equal(t, hoard.NoBlock, handle)

	allocator.Free(hoard.BlockHandle(16))

	handle, err = allocator.Resize(hoard.BlockHandle(16), 100)
	require.ErrorIs(t, err, hoard.ErrUninitialized)
	require.Equal(t, hoard.NoBlock, handle)

	require.ErrorIs(t, allocator.Validate(), hoard.ErrUninitialized)
}

func TestEndToEndScenario(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	check := func() {
		t.Helper()
		require.NoError(t, allocator.Validate())
	}

	alloc1, err := allocator.Allocate(2040)
	require.NoError(t, err)
	check()

	alloc2, err := allocator.Allocate(2040)
	require.NoError(t, err)
	check()

	allocator.Free(alloc2)
	check()

	alloc3, err := allocator.Allocate(48)
	require.NoError(t, err)
	check()

	alloc4, err := allocator.Allocate(4072)
	require.NoError(t, err)
	check()

	allocator.Free(alloc4)
	check()

	alloc5, err := allocator.Allocate(4072)
	require.NoError(t, err)
	check()

	allocator.Free(alloc1)
	check()
	allocator.Free(alloc3)
	check()
	allocator.Free(alloc5)
	check()

	// Everything coalesced back into a single maximal free block.
	require.True(t, allocator.IsEmpty())
	require.Equal(t, 1, allocator.FreeRegionsCount())

	var blocks int
	err = allocator.VisitAllBlocks(func(handle hoard.BlockHandle, offset, size int, free bool) error {
		blocks++
		require.True(t, free)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, blocks)
}

func TestClear(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	for i := 0; i < 4; i++ {
		_, err := allocator.Allocate(256)
		require.NoError(t, err)
	}
	require.Equal(t, 4, allocator.AllocationCount())

	allocator.Clear()
	require.True(t, allocator.CheckConsistency())
	require.True(t, allocator.IsEmpty())
	require.Equal(t, 1, allocator.FreeRegionsCount())
	require.Equal(t, 0, allocator.AllocationCount())
}

func TestFirstFitReusesLowestOffset(t *testing.T) {
	allocator := newTestAllocator(t, hoard.CreateOptions{})

	alloc1, err := allocator.Allocate(128)
	require.NoError(t, err)
	alloc2, err := allocator.Allocate(128)
	require.NoError(t, err)
	alloc3, err := allocator.Allocate(128)
	require.NoError(t, err)

	// Punch two same-size holes; first fit must pick the lower one.
	allocator.Free(alloc1)
	allocator.Free(alloc3)
	require.True(t, allocator.CheckConsistency())

	reused, err := allocator.Allocate(128)
	require.NoError(t, err)
	require.Equal(t, alloc1, reused)
	require.True(t, allocator.CheckConsistency())

	allocator.Free(reused)
	allocator.Free(alloc2)
	require.True(t, allocator.IsEmpty())
}
