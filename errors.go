package hoard

import "github.com/pkg/errors"

// ErrOutOfMemory is returned from Allocate or Resize when the backing
// Memory cannot supply enough space for the request. The heap is left
// exactly as it was before the failing call.
var ErrOutOfMemory error = errors.New("backing memory is exhausted")

// ErrUninitialized is returned when an Allocator that was not built
// with New is asked to operate on a heap.
var ErrUninitialized error = errors.New("allocator has not been initialized")

// ErrInvalidBlock is returned from Resize when the provided handle
// does not refer to a live allocation.
var ErrInvalidBlock error = errors.New("handle does not refer to an allocated block")

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")
