package hoard

import "math"

// Statistics is a fast summary of a heap's state.
type Statistics struct {
	// HeapBytes is the current total size of the heap, overhead included
	HeapBytes int
	// AllocationCount is the number of live allocations
	AllocationCount int
	// AllocationBytes is the total size in bytes of all live allocated
	// blocks, overhead included
	AllocationBytes int
}

func (s *Statistics) Clear() {
	s.HeapBytes = 0
	s.AllocationCount = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.HeapBytes += other.HeapBytes
	s.AllocationCount += other.AllocationCount
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics is a more complete picture of a heap's state,
// built by walking every block.
type DetailedStatistics struct {
	Statistics
	FreeRegionCount   int
	AllocationSizeMin int
	AllocationSizeMax int
	FreeRegionSizeMin int
	FreeRegionSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRegionCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.FreeRegionSizeMin = math.MaxInt
	s.FreeRegionSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRegion(size int) {
	s.FreeRegionCount++

	if size < s.FreeRegionSizeMin {
		s.FreeRegionSizeMin = size
	}

	if size > s.FreeRegionSizeMax {
		s.FreeRegionSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

// AddStatistics sums this heap's block statistics into the statistics
// currently present in the provided Statistics object.
func (a *Allocator) AddStatistics(stats *Statistics) {
	if !a.initialized() {
		return
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.HeapBytes += a.memory.Size()

	_ = a.visitAllBlocks(func(handle BlockHandle, offset, size int, free bool) error {
		if !free {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
		return nil
	})
}

// AddDetailedStatistics sums this heap's block statistics into the
// statistics currently present in the provided DetailedStatistics
// object.
func (a *Allocator) AddDetailedStatistics(stats *DetailedStatistics) {
	if !a.initialized() {
		return
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats.HeapBytes += a.memory.Size()

	_ = a.visitAllBlocks(func(handle BlockHandle, offset, size int, free bool) error {
		if free {
			stats.AddFreeRegion(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// AllocationCount returns the number of live allocations in the heap.
func (a *Allocator) AllocationCount() int {
	var stats Statistics
	stats.Clear()
	a.AddStatistics(&stats)
	return stats.AllocationCount
}

// FreeRegionsCount returns the number of free blocks in the heap.
// Adjacent free blocks are always merged, so every counted region is
// a maximal one.
func (a *Allocator) FreeRegionsCount() int {
	var stats DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)
	return stats.FreeRegionCount
}

// SumFreeSize returns the number of free bytes in the heap, block
// overhead included.
func (a *Allocator) SumFreeSize() int {
	if !a.initialized() {
		return 0
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var sum int
	_ = a.visitAllBlocks(func(handle BlockHandle, offset, size int, free bool) error {
		if free {
			sum += size
		}
		return nil
	})
	return sum
}
