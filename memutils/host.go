package memutils

import (
	"fmt"

	"github.com/pkg/errors"
)

//go:generate mockgen -source host.go -destination ./mocks/host.go -package mock_memutils

// HostMemoryCallbacks is implemented by consumers that want to observe or limit the host-side memory
// used for bookkeeping by the dynarray, arena, and list packages. AllocateMemory should return an error
// to refuse an allocation of size bytes. FreeMemory is called with the same size once that memory
// is no longer in use.
type HostMemoryCallbacks interface {
	AllocateMemory(userData any, size int) error
	FreeMemory(userData any, size int)
}

// HostMemoryFuncs adapts a pair of functions to HostMemoryCallbacks. Either function may be nil.
type HostMemoryFuncs struct {
	Allocate func(userData any, size int) error
	Free     func(userData any, size int)
}

func (f HostMemoryFuncs) AllocateMemory(userData any, size int) error {
	if f.Allocate == nil {
		return nil
	}
	return f.Allocate(userData, size)
}

func (f HostMemoryFuncs) FreeMemory(userData any, size int) {
	if f.Free != nil {
		f.Free(userData, size)
	}
}

// HostAllocator is the allocation context threaded through every container that stores bookkeeping
// data. A single HostAllocator can serve any number of independent containers. A nil *HostAllocator
// is valid and allocates from the Go heap without limits.
type HostAllocator struct {
	Callbacks HostMemoryCallbacks
	UserData  any

	allocatedBytes  int
	allocationCount int
}

// NewHostAllocator creates a HostAllocator that reports to the provided callbacks, which may be nil
func NewHostAllocator(callbacks HostMemoryCallbacks, userData any) *HostAllocator {
	return &HostAllocator{
		Callbacks: callbacks,
		UserData:  userData,
	}
}

// Allocate requests size bytes from the host callbacks. It returns an error wrapping
// HostMemoryExhaustedError if the callbacks refuse.
func (a *HostAllocator) Allocate(size int) error {
	if size < 0 {
		panic(fmt.Sprintf("attempted to allocate a negative amount of host memory: %d", size))
	}
	if a == nil {
		return nil
	}

	if a.Callbacks != nil {
		err := a.Callbacks.AllocateMemory(a.UserData, size)
		if err != nil {
			return errors.Wrapf(HostMemoryExhaustedError, "failed to allocate %d bytes: %v", size, err)
		}
	}

	a.allocatedBytes += size
	a.allocationCount++
	return nil
}

// MustAllocate behaves like Allocate but panics on failure. Containers that have no error channel
// treat a refused host allocation as fatal.
func (a *HostAllocator) MustAllocate(size int) {
	err := a.Allocate(size)
	if err != nil {
		panic(fmt.Sprintf("fatal host memory failure: %+v", err))
	}
}

// Free returns size bytes to the host callbacks
func (a *HostAllocator) Free(size int) {
	if a == nil {
		return
	}
	if size > a.allocatedBytes || a.allocationCount == 0 {
		panic(fmt.Sprintf("attempted to free %d bytes of host memory, but only %d bytes across %d allocations are outstanding", size, a.allocatedBytes, a.allocationCount))
	}

	if a.Callbacks != nil {
		a.Callbacks.FreeMemory(a.UserData, size)
	}

	a.allocatedBytes -= size
	a.allocationCount--
}

// AllocatedBytes returns the number of host bytes currently outstanding through this allocator
func (a *HostAllocator) AllocatedBytes() int {
	if a == nil {
		return 0
	}
	return a.allocatedBytes
}

// AllocationCount returns the number of host allocations currently outstanding through this allocator
func (a *HostAllocator) AllocationCount() int {
	if a == nil {
		return 0
	}
	return a.allocationCount
}
