package hoard

import (
	"golang.org/x/exp/slices"

	"github.com/vkngwrapper/hoard/internal/memtag"
)

type allocationInfo struct {
	RequestedSize int
}

// AllocationInfo describes one live allocation as recorded by the
// allocation registry.
type AllocationInfo struct {
	// Handle is the allocation's payload handle
	Handle BlockHandle
	// RequestedSize is the size in bytes the client asked for, which
	// may be smaller than the block's usable size
	RequestedSize int
}

func (a *Allocator) registerAllocation(handle memtag.BlockHandle, requestedSize int) {
	if a.registry == nil {
		return
	}
	a.registry.Put(handle, allocationInfo{RequestedSize: requestedSize})
}

func (a *Allocator) unregisterAllocation(handle memtag.BlockHandle) {
	if a.registry == nil {
		return
	}
	a.registry.Delete(handle)
}

// OutstandingAllocations returns a snapshot of every live allocation
// in handle order. It returns nil unless the allocator was created
// with AllocatorCreateTrackAllocations. An empty slice from a
// tracking allocator means every allocation has been freed- anything
// else at teardown is a leak.
func (a *Allocator) OutstandingAllocations() []AllocationInfo {
	if !a.initialized() || a.registry == nil {
		return nil
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	out := make([]AllocationInfo, 0, a.registry.Count())
	a.registry.Iter(func(handle memtag.BlockHandle, info allocationInfo) bool {
		out = append(out, AllocationInfo{
			Handle:        handle,
			RequestedSize: info.RequestedSize,
		})
		return false
	})

	slices.SortFunc(out, func(left, right AllocationInfo) bool {
		return left.Handle < right.Handle
	})

	return out
}
