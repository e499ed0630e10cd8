package hoard_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/hoard"
)

func TestNewRequiresMemory(t *testing.T) {
	allocator, err := hoard.New(nil, nil, hoard.CreateOptions{})
	require.Error(t, err)
	require.Nil(t, allocator)
}

func TestNewRequiresEmptyMemory(t *testing.T) {
	memory := hoard.NewSliceMemory(0)
	_, err := memory.Extend(64)
	require.NoError(t, err)

	allocator, err := hoard.New(nil, memory, hoard.CreateOptions{})
	require.Error(t, err)
	require.Nil(t, allocator)
}

func TestNewRejectsTinyInitialSize(t *testing.T) {
	allocator, err := hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		InitialSize: 16,
	})
	require.Error(t, err)
	require.Nil(t, allocator)
}

func TestNewRoundsInitialSize(t *testing.T) {
	allocator, err := hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		InitialSize: 50,
	})
	require.NoError(t, err)
	require.True(t, allocator.CheckConsistency())

	var stats hoard.Statistics
	stats.Clear()
	allocator.AddStatistics(&stats)
	require.Equal(t, 64, stats.HeapBytes)
}

func TestNewRejectsBadExtendGranularity(t *testing.T) {
	_, err := hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		ExtendGranularity: 8,
	})
	require.Error(t, err)

	_, err = hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		ExtendGranularity: 48,
	})
	require.ErrorIs(t, err, hoard.PowerOfTwoError)
}

func TestExtendGranularityPadsGrowth(t *testing.T) {
	allocator, err := hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		ExtendGranularity: 4096,
	})
	require.NoError(t, err)

	handle, err := allocator.Allocate(100)
	require.NoError(t, err)
	require.NotEqual(t, hoard.NoBlock, handle)
	require.True(t, allocator.CheckConsistency())

	// Growth was padded out to the granularity and the slack became
	// one free block.
	var stats hoard.Statistics
	stats.Clear()
	allocator.AddStatistics(&stats)
	require.Equal(t, 64+4096, stats.HeapBytes)
	require.Equal(t, 1, allocator.FreeRegionsCount())
}

func TestCreateFlagsString(t *testing.T) {
	require.Equal(t, "AllocatorCreateExternallySynchronized", hoard.AllocatorCreateExternallySynchronized.String())
	require.Equal(t,
		"AllocatorCreateExternallySynchronized|AllocatorCreateTrackAllocations",
		(hoard.AllocatorCreateExternallySynchronized | hoard.AllocatorCreateTrackAllocations).String())
}

func TestExternallySynchronized(t *testing.T) {
	allocator, err := hoard.New(nil, hoard.NewSliceMemory(0), hoard.CreateOptions{
		Flags: hoard.AllocatorCreateExternallySynchronized,
	})
	require.NoError(t, err)

	handle, err := allocator.Allocate(100)
	require.NoError(t, err)
	allocator.Free(handle)
	require.True(t, allocator.CheckConsistency())
	require.True(t, allocator.IsEmpty())
}
