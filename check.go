package hoard

import (
	"github.com/pkg/errors"

	"github.com/vkngwrapper/hoard/internal/memtag"
)

// Validate walks every block from the leading sentinel to the trailing
// one and verifies the heap's structural invariants: both sentinels
// are intact, every block's header matches its footer, every block
// starts on a double-word boundary, and no two free blocks are
// adjacent. It returns a description of the first violation found and
// never mutates the heap.
//
// When the allocator is functioning correctly and its preconditions
// are respected, this method cannot return an error. It is an O(n)
// walk intended for tests and debug builds, not the production call
// path.
func (a *Allocator) Validate() error {
	if !a.initialized() {
		return ErrUninitialized
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.validate()
}

func (a *Allocator) validate() error {
	heap := a.heap()

	if !memtag.IsSentinelAt(heap, memtag.PrevFooterOffset(a.heapBase)) {
		return errors.New("the leading sentinel tag is not a zero-size allocated tag")
	}

	var p memtag.BlockHandle
	for p = a.heapBase; memtag.SizeOf(heap, p) != 0; p = memtag.NextBlock(heap, p) {
		if int(p)%memtag.DWordSize != 0 {
			return errors.Errorf("block at offset %d is %d bytes off a double-word boundary", int(p), int(p)%memtag.DWordSize)
		}

		if int(p)+memtag.SizeOf(heap, p)*memtag.WordSize > a.memory.Size() {
			return errors.Errorf("block at offset %d claims %d words, which runs past the end of the %d-byte heap", int(p), memtag.SizeOf(heap, p), a.memory.Size())
		}

		if !memtag.HeaderEqualsFooter(heap, p) {
			return errors.Errorf("header and footer tags for the block at offset %d do not match", int(p))
		}

		if !memtag.IsAllocated(heap, p) {
			next := memtag.NextBlock(heap, p)
			if !memtag.IsAllocated(heap, next) {
				return errors.Errorf("free blocks at offsets %d and %d are adjacent- they should have been coalesced", int(p), int(next))
			}
			if !memtag.PrevIsAllocated(heap, p) {
				// Unreachable when walking forward: the previous free
				// block would have tripped the check above first.
				return errors.Errorf("free block at offset %d follows another free block", int(p))
			}
		}
	}

	if !memtag.IsSentinelAt(heap, memtag.HeaderOffset(p)) {
		return errors.Errorf("the trailing sentinel tag at offset %d is not a zero-size allocated tag", memtag.HeaderOffset(p))
	}

	if int(p) != a.memory.Size() {
		return errors.Errorf("the trailing sentinel sits at offset %d but the heap is %d bytes", memtag.HeaderOffset(p), a.memory.Size())
	}

	return nil
}

// CheckConsistency reports whether the heap passes Validate. It is the
// boolean form for test harnesses that only care about pass/fail.
func (a *Allocator) CheckConsistency() bool {
	return a.Validate() == nil
}

// CheckCorruption verifies the canary margin behind every live
// allocation's payload. Canaries are only written when the module is
// built with the debug_heap build tag; without it this method walks
// the heap but always succeeds.
func (a *Allocator) CheckCorruption() error {
	if !a.initialized() {
		return ErrUninitialized
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	heap := a.heap()
	for p := a.heapBase; memtag.SizeOf(heap, p) != 0; p = memtag.NextBlock(heap, p) {
		if !memtag.IsAllocated(heap, p) {
			continue
		}
		if !ValidateMagicValue(heap, int(p)+usableBytes(memtag.SizeOf(heap, p))) {
			return errors.Errorf("memory corruption detected after the allocation at offset %d", int(p))
		}
	}

	return nil
}

var _ Validatable = &Allocator{}

// unguardedValidator adapts an Allocator whose mutex is already held
// so that DebugValidate can run from inside a mutating operation.
type unguardedValidator struct {
	allocator *Allocator
}

func (v unguardedValidator) Validate() error {
	return v.allocator.validate()
}
