package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/blockalloc/memutils"
)

//go:generate mockgen -source callbacks.go -destination ./mocks/callbacks.go -package mock_allocator

// BlockCallbacks allocate and free the backing memory of each MemoryBlock. AllocateBlock must set
// block.Handle on success.
type BlockCallbacks interface {
	AllocateBlock(userData any, block *MemoryBlock) error
	FreeBlock(userData any, block *MemoryBlock) error
}

// RegionCallbacks create and destroy the backend object for each reserved MemoryRegion.
// AllocateRegion must set region.Handle on success.
type RegionCallbacks interface {
	AllocateRegion(userData any, region *MemoryRegion) error
	FreeRegion(userData any, region *MemoryRegion) error
}

type AllocateBlockFunc func(userData any, block *MemoryBlock) error
type FreeBlockFunc func(userData any, block *MemoryBlock) error
type AllocateRegionFunc func(userData any, region *MemoryRegion) error
type FreeRegionFunc func(userData any, region *MemoryRegion) error

// BlockFuncs adapts a pair of functions to the BlockCallbacks interface
type BlockFuncs struct {
	Allocate AllocateBlockFunc
	Free     FreeBlockFunc
}

func (f BlockFuncs) AllocateBlock(userData any, block *MemoryBlock) error {
	if f.Allocate == nil {
		return errors.New("no block allocation function was provided")
	}
	return f.Allocate(userData, block)
}

func (f BlockFuncs) FreeBlock(userData any, block *MemoryBlock) error {
	if f.Free == nil {
		return nil
	}
	return f.Free(userData, block)
}

// RegionFuncs adapts a pair of functions to the RegionCallbacks interface
type RegionFuncs struct {
	Allocate AllocateRegionFunc
	Free     FreeRegionFunc
}

func (f RegionFuncs) AllocateRegion(userData any, region *MemoryRegion) error {
	if f.Allocate == nil {
		return errors.New("no region allocation function was provided")
	}
	return f.Allocate(userData, region)
}

func (f RegionFuncs) FreeRegion(userData any, region *MemoryRegion) error {
	if f.Free == nil {
		return nil
	}
	return f.Free(userData, region)
}

// Callbacks is the full set of collaborators injected into an allocator. Host may be nil, in which
// case bookkeeping storage comes from the Go heap without limits.
type Callbacks struct {
	Host     *memutils.HostAllocator
	Block    BlockCallbacks
	Region   RegionCallbacks
	UserData any
}

type deviceCallbacks struct {
	callbacks *Callbacks
}

func (c deviceCallbacks) allocateBlock(block *MemoryBlock) error {
	if c.callbacks == nil || c.callbacks.Block == nil {
		return errors.Mark(errors.New("no block callbacks were provided"), ErrBlockAllocationFailed)
	}

	err := c.callbacks.Block.AllocateBlock(c.callbacks.UserData, block)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "block allocation of %d bytes failed", block.Size), ErrBlockAllocationFailed)
	}
	if block.Handle == nil {
		return errors.Mark(errors.Newf("block callbacks returned no handle for a block of %d bytes", block.Size), ErrBlockAllocationFailed)
	}

	return nil
}

func (c deviceCallbacks) freeBlock(block *MemoryBlock) error {
	if c.callbacks == nil || c.callbacks.Block == nil {
		return nil
	}

	err := c.callbacks.Block.FreeBlock(c.callbacks.UserData, block)
	if err != nil {
		return errors.Wrapf(err, "failed to free block %d", block.id)
	}

	return nil
}

func (c deviceCallbacks) allocateRegion(region *MemoryRegion) error {
	if c.callbacks == nil || c.callbacks.Region == nil {
		return errors.Mark(errors.New("no region callbacks were provided"), ErrRegionAllocationFailed)
	}

	err := c.callbacks.Region.AllocateRegion(c.callbacks.UserData, region)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "region allocation at offset %d of %d bytes failed", region.Offset, region.Size), ErrRegionAllocationFailed)
	}
	if region.Handle == nil {
		return errors.Mark(errors.Newf("region callbacks returned no handle for offset %d", region.Offset), ErrRegionAllocationFailed)
	}

	return nil
}

func (c deviceCallbacks) freeRegion(region *MemoryRegion) error {
	if c.callbacks == nil || c.callbacks.Region == nil {
		return nil
	}

	err := c.callbacks.Region.FreeRegion(c.callbacks.UserData, region)
	if err != nil {
		return errors.Wrapf(err, "failed to free region at offset %d", region.Offset)
	}

	return nil
}

func (c deviceCallbacks) host() *memutils.HostAllocator {
	if c.callbacks == nil {
		return nil
	}
	return c.callbacks.Host
}
