// Package hoard implements a dynamic allocator that manages a single
// contiguous, growable heap as an implicit free list of boundary-tagged
// blocks.
//
// Every block carries a header and footer tag encoding its size and
// allocated flag, so neighbors are found with tag arithmetic alone:
// the metadata cost is O(1) per block and no auxiliary free-list
// structure exists. Placement is first-fit in address order, freed
// blocks are immediately coalesced with free neighbors, and the heap
// is extended through a pluggable Memory provider when nothing fits.
//
// The allocator hands out offset-based BlockHandles rather than raw
// pointers; payloads are reached through Bytes. All unchecked tag
// arithmetic lives in internal/memtag, behind the handle-based
// surface.
//
// The design is single-threaded at heart: by default a mutex guards
// the public surface, and consumers that serialize access themselves
// can switch it off with AllocatorCreateExternallySynchronized.
package hoard
