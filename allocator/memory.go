package allocator

import (
	"fmt"

	"github.com/vkngwrapper/blockalloc/memutils/arena"
)

// MemoryVisibility describes which side of the host/device boundary can access a block of memory
type MemoryVisibility int32

const (
	MemoryVisibilityInvalid MemoryVisibility = iota
	// MemoryVisibilityDefault matches any visibility when used in a request
	MemoryVisibilityDefault
	MemoryVisibilityHostOnly
	MemoryVisibilityDeviceOnly
	MemoryVisibilityDeviceToHost
	MemoryVisibilityHostToDevice
)

var memoryVisibilityMapping = map[MemoryVisibility]string{
	MemoryVisibilityInvalid:      "Invalid",
	MemoryVisibilityDefault:      "Default",
	MemoryVisibilityHostOnly:     "HostOnly",
	MemoryVisibilityDeviceOnly:   "DeviceOnly",
	MemoryVisibilityDeviceToHost: "DeviceToHost",
	MemoryVisibilityHostToDevice: "HostToDevice",
}

func (v MemoryVisibility) String() string {
	str, ok := memoryVisibilityMapping[v]
	if !ok {
		return fmt.Sprintf("MemoryVisibility(%d)", int32(v))
	}
	return str
}

// MemoryUsage describes how the contents of a block of memory will be used
type MemoryUsage int32

const (
	MemoryUsageInvalid MemoryUsage = iota
	// MemoryUsageDefault matches any usage when used in a request
	MemoryUsageDefault
	MemoryUsageStaticStorage
	MemoryUsageDynamicStorage
	MemoryUsageUniformStorage
	MemoryUsageTransferSrc
	MemoryUsageTransferDst
	MemoryUsageTransferSrcDst
)

var memoryUsageMapping = map[MemoryUsage]string{
	MemoryUsageInvalid:        "Invalid",
	MemoryUsageDefault:        "Default",
	MemoryUsageStaticStorage:  "StaticStorage",
	MemoryUsageDynamicStorage: "DynamicStorage",
	MemoryUsageUniformStorage: "UniformStorage",
	MemoryUsageTransferSrc:    "TransferSrc",
	MemoryUsageTransferDst:    "TransferDst",
	MemoryUsageTransferSrcDst: "TransferSrcDst",
}

func (u MemoryUsage) String() string {
	str, ok := memoryUsageMapping[u]
	if !ok {
		return fmt.Sprintf("MemoryUsage(%d)", int32(u))
	}
	return str
}

// MemoryCaching describes the cache behavior of a block of memory
type MemoryCaching int32

const (
	MemoryCachingInvalid MemoryCaching = iota
	// MemoryCachingDefault matches any caching behavior when used in a request
	MemoryCachingDefault
	MemoryCachingCached
	MemoryCachingUncached
	MemoryCachingCachedCoherent
	MemoryCachingUncachedCoherent
)

var memoryCachingMapping = map[MemoryCaching]string{
	MemoryCachingInvalid:          "Invalid",
	MemoryCachingDefault:          "Default",
	MemoryCachingCached:           "Cached",
	MemoryCachingUncached:         "Uncached",
	MemoryCachingCachedCoherent:   "CachedCoherent",
	MemoryCachingUncachedCoherent: "UncachedCoherent",
}

func (c MemoryCaching) String() string {
	str, ok := memoryCachingMapping[c]
	if !ok {
		return fmt.Sprintf("MemoryCaching(%d)", int32(c))
	}
	return str
}

// AllocationStatus is the state of a single region within a block
type AllocationStatus int32

const (
	AllocationStatusInvalid AllocationStatus = iota
	// AllocationStatusAvailable regions are free and have no backend handle
	AllocationStatusAvailable
	AllocationStatusInUse
	// AllocationStatusDedicated regions cover the entirety of a dedicated block
	AllocationStatusDedicated
)

var allocationStatusMapping = map[AllocationStatus]string{
	AllocationStatusInvalid:   "Invalid",
	AllocationStatusAvailable: "Available",
	AllocationStatusInUse:     "InUse",
	AllocationStatusDedicated: "Dedicated",
}

func (s AllocationStatus) String() string {
	str, ok := allocationStatusMapping[s]
	if !ok {
		return fmt.Sprintf("AllocationStatus(%d)", int32(s))
	}
	return str
}

// MemoryProperties describes the kind of memory a block holds, or that a request needs
type MemoryProperties struct {
	Visibility MemoryVisibility
	Usage      MemoryUsage
	Caching    MemoryCaching
	// Alignment is the minimum alignment of every region in a block with these properties. 0 means
	// unaligned.
	Alignment uint
	// NearestMultiple rounds the size of every region in a block with these properties up to a multiple
	// of this value. 0 means no rounding.
	NearestMultiple int
}

// DefaultMemoryProperties returns properties that are compatible with any block
func DefaultMemoryProperties() MemoryProperties {
	return MemoryProperties{
		Visibility: MemoryVisibilityDefault,
		Usage:      MemoryUsageDefault,
		Caching:    MemoryCachingDefault,
	}
}

// IsCompatible returns true if memory with the properties in p can satisfy a request for the
// properties in requested. Default fields in requested match any value.
func (p MemoryProperties) IsCompatible(requested MemoryProperties) bool {
	if requested.Visibility != MemoryVisibilityDefault && requested.Visibility != p.Visibility {
		return false
	}
	if requested.Usage != MemoryUsageDefault && requested.Usage != p.Usage {
		return false
	}
	if requested.Caching != MemoryCachingDefault && requested.Caching != p.Caching {
		return false
	}

	return true
}

func (p MemoryProperties) String() string {
	return fmt.Sprintf("%s|%s|%s", p.Visibility, p.Usage, p.Caching)
}

// MemoryRequest describes a region of memory that a caller would like to reserve
type MemoryRequest struct {
	// Offset is informational only and is not used to place the region
	Offset    int
	Size      int
	Alignment uint
	Dedicated bool

	Properties MemoryProperties
}

// MemoryBlock is a single large allocation made through the BlockCallbacks. Handle is set by the
// callbacks and is nil while the block has no backing memory.
type MemoryBlock struct {
	Handle     any
	Size       int
	Dedicated  bool
	Properties MemoryProperties

	id        int
	reserved  int
	allocator *RegionAllocator
}

// ID returns the identifier assigned to this block by the BlockAllocator that created it
func (b *MemoryBlock) ID() int { return b.id }

// Reserved returns the number of bytes in this block that are covered by regions that are not available
func (b *MemoryBlock) Reserved() int { return b.reserved }

// Unreserved returns the number of bytes in this block that are covered by available regions
func (b *MemoryBlock) Unreserved() int { return b.Size - b.reserved }

// RegionAllocator returns the allocator that manages the regions of this block
func (b *MemoryBlock) RegionAllocator() *RegionAllocator { return b.allocator }

// MemoryRegion is a contiguous span of a MemoryBlock. Handle is set by the RegionCallbacks when the
// region is reserved, and is nil exactly when the region is available.
type MemoryRegion struct {
	Handle     any
	Offset     int
	Size       int
	Dedicated  bool
	Properties MemoryProperties

	status     AllocationStatus
	usageCount int
	node       arena.Handle
	allocator  *RegionAllocator
}

func (r *MemoryRegion) Status() AllocationStatus { return r.status }
func (r *MemoryRegion) UsageCount() int          { return r.usageCount }

// Block returns the block this region was carved from, or nil if the region does not belong to an
// allocator
func (r *MemoryRegion) Block() *MemoryBlock {
	if r.allocator == nil {
		return nil
	}
	return r.allocator.block
}

// End returns the offset immediately after the last byte of the region
func (r *MemoryRegion) End() int { return r.Offset + r.Size }

func (r *MemoryRegion) IsAvailable() bool { return r.status == AllocationStatusAvailable }
