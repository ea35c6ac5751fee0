package allocator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/arena"
	"github.com/vkngwrapper/blockalloc/memutils/list"
)

// RegionVisitor is called once for each region visited by RegionAllocator.VisitAllRegions
type RegionVisitor func(region *MemoryRegion) error

// RegionAllocator sub-allocates a single MemoryBlock. The block is covered at all times by a list of
// regions ordered by offset, with no gaps and no overlap. Reserving a region carves it out of the
// first compatible available region, and reclaiming it merges it back into its available neighbors.
//
// RegionAllocator is not safe for concurrent use.
type RegionAllocator struct {
	logger           *slog.Logger
	block            *MemoryBlock
	callbacks        deviceCallbacks
	minimumAlignment uint

	regions   list.IntrusiveList[MemoryRegion]
	offsets   *swiss.Map[int, arena.Handle]
	destroyed bool
}

// NewRegionAllocator creates a RegionAllocator that manages the provided block. The block must already
// have its backing memory. minimumAlignment applies to every region on top of the alignment of the
// block's properties and of each request.
func NewRegionAllocator(logger *slog.Logger, block *MemoryBlock, callbacks *Callbacks, minimumAlignment uint) *RegionAllocator {
	r := &RegionAllocator{}
	r.Init(logger, block, callbacks, minimumAlignment)
	return r
}

// Init prepares the allocator to manage block as a single available region
func (r *RegionAllocator) Init(logger *slog.Logger, block *MemoryBlock, callbacks *Callbacks, minimumAlignment uint) {
	if r.block != nil {
		panic("attempting to initialize a region allocator that is already in use")
	}
	if block == nil {
		panic("attempting to initialize a region allocator without a block")
	}
	if block.Size <= 0 {
		panic(fmt.Sprintf("attempting to initialize a region allocator with an invalid block size: %d", block.Size))
	}
	if block.allocator != nil {
		panic(fmt.Sprintf("block %d is already managed by another region allocator", block.id))
	}
	memutils.DebugCheckPow2(minimumAlignment, "minimumAlignment")

	if logger == nil {
		logger = slog.Default()
	}

	r.logger = logger
	r.block = block
	r.callbacks = deviceCallbacks{callbacks: callbacks}
	r.minimumAlignment = minimumAlignment
	r.destroyed = false
	r.regions.Init(r.callbacks.host(), arena.Config{})
	r.offsets = swiss.NewMap[int, arena.Handle](42)

	block.allocator = r
	block.reserved = 0

	r.insertAfter(arena.NoHandle, MemoryRegion{
		Offset:     0,
		Size:       block.Size,
		Dedicated:  block.Dedicated,
		Properties: block.Properties,
	})
}

func (r *RegionAllocator) checkUsable() {
	if r.destroyed || r.block == nil {
		panic("attempted to use a region allocator that has been destroyed")
	}
}

// Block returns the block managed by this allocator
func (r *RegionAllocator) Block() *MemoryBlock { return r.block }

// RegionCount returns the number of regions, available or not, that the block is divided into
func (r *RegionAllocator) RegionCount() int { return r.regions.Len() }

// IsEmpty returns true if no region of the block is reserved
func (r *RegionAllocator) IsEmpty() bool { return r.block.reserved == 0 }

// Front returns the region at offset 0
func (r *RegionAllocator) Front() *MemoryRegion {
	if r.regions.IsEmpty() {
		return nil
	}
	return r.regions.Value(r.regions.Front())
}

// Back returns the region at the end of the block
func (r *RegionAllocator) Back() *MemoryRegion {
	if r.regions.IsEmpty() {
		return nil
	}
	return r.regions.Value(r.regions.Back())
}

// Next returns the region immediately after the provided region, or nil if it is the last region
func (r *RegionAllocator) Next(region *MemoryRegion) *MemoryRegion {
	r.checkOwnership(region, "find the next region after")
	next := r.regions.Next(region.node)
	if next == arena.NoHandle {
		return nil
	}
	return r.regions.Value(next)
}

// Prev returns the region immediately before the provided region, or nil if it is the first region
func (r *RegionAllocator) Prev(region *MemoryRegion) *MemoryRegion {
	r.checkOwnership(region, "find the previous region before")
	prev := r.regions.Prev(region.node)
	if prev == arena.NoHandle {
		return nil
	}
	return r.regions.Value(prev)
}

// RegionAt returns the region that starts at exactly the provided offset, or nil if no region does
func (r *RegionAllocator) RegionAt(offset int) *MemoryRegion {
	handle, ok := r.offsets.Get(offset)
	if !ok {
		return nil
	}
	return r.regions.Value(handle)
}

// Owns returns true if region is currently one of the regions of this allocator's block
func (r *RegionAllocator) Owns(region *MemoryRegion) bool {
	if region == nil || region.allocator != r || !r.regions.Contains(region.node) {
		return false
	}

	return r.regions.Value(region.node) == region
}

func (r *RegionAllocator) checkOwnership(region *MemoryRegion, operation string) {
	r.checkUsable()
	if !r.Owns(region) {
		panic(fmt.Sprintf("attempted to %s a region that does not belong to block %d", operation, r.block.id))
	}
}

func (r *RegionAllocator) insertAfter(existing arena.Handle, region MemoryRegion) *MemoryRegion {
	region.allocator = r
	region.status = AllocationStatusAvailable

	var handle arena.Handle
	if existing == arena.NoHandle {
		handle = r.regions.Prepend(region)
	} else {
		handle = r.regions.InsertAfter(existing, region)
	}

	inserted := r.regions.Value(handle)
	inserted.node = handle
	r.offsets.Put(inserted.Offset, handle)

	return inserted
}

func (r *RegionAllocator) remove(region *MemoryRegion) {
	r.offsets.Delete(region.Offset)
	region.allocator = nil
	r.regions.Remove(region.node)
}

// Conform normalizes a request in place so that its size and alignment satisfy this allocator's block.
// The alignment becomes the largest of the request's, the block's, and the allocator's minimum, and
// the size is padded up to the nearest multiple of both the request's and the block's properties and
// then to the alignment.
func (r *RegionAllocator) Conform(request *MemoryRequest) error {
	alignment := max(request.Alignment, request.Properties.Alignment, r.block.Properties.Alignment, r.minimumAlignment)
	err := memutils.CheckPow2(alignment, "request alignment")
	if err != nil {
		return errors.Wrapf(err, "cannot conform request of %d bytes", request.Size)
	}

	size := request.Size
	if request.Properties.NearestMultiple > 0 {
		size = memutils.RoundUpToMultiple(size, request.Properties.NearestMultiple)
	}
	if r.block.Properties.NearestMultiple > 0 {
		size = memutils.RoundUpToMultiple(size, r.block.Properties.NearestMultiple)
	}

	request.Alignment = alignment
	request.Size = memutils.AlignUp(size, alignment)
	return nil
}

func (r *RegionAllocator) fits(region *MemoryRegion, request *MemoryRequest) bool {
	if !region.IsAvailable() || !r.block.Properties.IsCompatible(request.Properties) {
		return false
	}

	padding := memutils.AlignmentPadding(region.Offset, request.Alignment)
	if r.block.Dedicated && padding > 0 {
		return false
	}

	return padding+request.Size <= region.Size
}

func (r *RegionAllocator) findAvailable(request *MemoryRequest) *MemoryRegion {
	var found *MemoryRegion
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		if r.fits(region, request) {
			found = region
			return false
		}
		return true
	})

	return found
}

// Split shrinks an available region to size bytes and inserts a new available region immediately after
// it covering the remainder, which is returned. size must be less than the size of the region.
func (r *RegionAllocator) Split(region *MemoryRegion, size int) *MemoryRegion {
	r.checkOwnership(region, "split")
	if !region.IsAvailable() {
		panic(fmt.Sprintf("attempted to split a region at offset %d with status %s", region.Offset, region.status))
	}
	if size <= 0 || size >= region.Size {
		panic(fmt.Sprintf("attempted to split a region of %d bytes at %d bytes", region.Size, size))
	}

	remainder := MemoryRegion{
		Offset:     region.Offset + size,
		Size:       region.Size - size,
		Dedicated:  region.Dedicated,
		Properties: region.Properties,
	}
	region.Size = size

	return r.insertAfter(region.node, remainder)
}

// coalesce merges an available region with any available neighbors and returns the merged region
func (r *RegionAllocator) coalesce(region *MemoryRegion) *MemoryRegion {
	if next := r.regions.Next(region.node); next != arena.NoHandle {
		nextRegion := r.regions.Value(next)
		if nextRegion.IsAvailable() {
			region.Size += nextRegion.Size
			r.remove(nextRegion)
		}
	}

	if prev := r.regions.Prev(region.node); prev != arena.NoHandle {
		prevRegion := r.regions.Value(prev)
		if prevRegion.IsAvailable() {
			prevRegion.Size += region.Size
			r.remove(region)
			region = prevRegion
		}
	}

	return region
}

// Reserve carves a region out of the first compatible available region that is large enough to hold
// the conformed request, and acquires its backend handle through the region callbacks. If no region is
// large enough, available regions are collected and the search is repeated once. ErrOutOfDeviceMemory
// is returned if the request still cannot be satisfied.
func (r *RegionAllocator) Reserve(request MemoryRequest) (*MemoryRegion, error) {
	r.checkUsable()

	if request.Size <= 0 {
		return nil, errors.Newf("cannot reserve a region of %d bytes", request.Size)
	}

	err := r.Conform(&request)
	if err != nil {
		return nil, err
	}

	region := r.findAvailable(&request)
	if region == nil && r.Collect() {
		region = r.findAvailable(&request)
	}
	if region == nil {
		return nil, errors.Wrapf(ErrOutOfDeviceMemory, "no region of block %d can hold %d bytes", r.block.id, request.Size)
	}

	padding := memutils.AlignmentPadding(region.Offset, request.Alignment)
	if padding > 0 {
		region = r.Split(region, padding)
	}
	if !r.block.Dedicated && region.Size > request.Size {
		r.Split(region, request.Size)
	}

	status := AllocationStatusInUse
	if request.Dedicated || r.block.Dedicated {
		status = AllocationStatusDedicated
	}
	region.Dedicated = status == AllocationStatusDedicated
	region.Properties = r.block.Properties

	err = r.callbacks.allocateRegion(region)
	if err != nil {
		region.Handle = nil
		region.Dedicated = r.block.Dedicated
		r.coalesce(region)
		return nil, err
	}

	region.status = status
	region.usageCount = 1
	r.block.reserved += region.Size

	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "reserved region",
		slog.Int("block.id", r.block.id),
		slog.Int("offset", region.Offset),
		slog.Int("size", region.Size),
		slog.Int("reserved", r.block.reserved),
	)

	memutils.DebugValidate(r)
	return region, nil
}

func (r *RegionAllocator) free(region *MemoryRegion) error {
	err := r.callbacks.freeRegion(region)

	r.block.reserved -= region.Size
	region.Handle = nil
	region.status = AllocationStatusAvailable
	region.usageCount = 0
	region.Dedicated = r.block.Dedicated

	return err
}

// Reclaim releases the backend handle of a reserved region and immediately merges it into any
// available neighbor. The region pointer must not be used afterward. It panics if region is not a
// reserved region of this allocator.
func (r *RegionAllocator) Reclaim(region *MemoryRegion) error {
	r.checkOwnership(region, "reclaim")
	if region.IsAvailable() {
		panic(fmt.Sprintf("attempted to reclaim the region at offset %d of block %d, but it is not reserved", region.Offset, r.block.id))
	}

	err := r.free(region)
	r.coalesce(region)

	memutils.DebugValidate(r)
	return err
}

// Retain adds a reference to a reserved region. The region is kept until a matching number of calls
// to Release have been made.
func (r *RegionAllocator) Retain(region *MemoryRegion) {
	r.checkOwnership(region, "retain")
	if region.IsAvailable() {
		panic(fmt.Sprintf("attempted to retain the region at offset %d of block %d, but it is not reserved", region.Offset, r.block.id))
	}

	region.usageCount++
}

// Release removes a reference from a reserved region. When the last reference is removed, the backend
// handle is released and the region becomes available, but it is not merged with its neighbors until
// the next call to Collect. Release returns true if the region became available.
func (r *RegionAllocator) Release(region *MemoryRegion) (bool, error) {
	r.checkOwnership(region, "release")
	if region.IsAvailable() {
		panic(fmt.Sprintf("attempted to release the region at offset %d of block %d, but it is not reserved", region.Offset, r.block.id))
	}

	region.usageCount--
	if region.usageCount > 0 {
		return false, nil
	}

	return true, r.free(region)
}

// Collect merges every run of adjacent available regions into a single region. It returns true if any
// regions were merged.
func (r *RegionAllocator) Collect() bool {
	r.checkUsable()

	merged := false
	for handle := r.regions.Front(); handle != arena.NoHandle; {
		region := r.regions.Value(handle)
		next := r.regions.Next(handle)

		for region.IsAvailable() && next != arena.NoHandle {
			nextRegion := r.regions.Value(next)
			if !nextRegion.IsAvailable() {
				break
			}

			region.Size += nextRegion.Size
			r.remove(nextRegion)
			merged = true
			next = r.regions.Next(handle)
		}

		handle = next
	}

	if merged {
		r.regions.Collect()
	}

	return merged
}

// Destroy releases every region that is still reserved and then all of the allocator's bookkeeping. The
// block itself is not freed. If any region was still reserved, each is logged and an error is returned.
func (r *RegionAllocator) Destroy() error {
	r.checkUsable()

	var unreleased int
	var freeErr error
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		if region.IsAvailable() {
			return true
		}

		unreleased++
		r.logUnreleasedMemory(region)
		freeErr = errors.CombineErrors(freeErr, r.free(region))
		return true
	})

	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		region.allocator = nil
		return true
	})
	r.regions.Destroy()
	r.offsets = nil
	r.block.allocator = nil
	r.destroyed = true

	if unreleased > 0 {
		err := errors.Newf("%d regions of block %d were not reclaimed before the destruction of their allocator", unreleased, r.block.id)
		return errors.CombineErrors(err, freeErr)
	}

	return freeErr
}

func (r *RegionAllocator) logUnreleasedMemory(region *MemoryRegion) {
	r.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreclaimed region",
		slog.Int("block.id", r.block.id),
		slog.Int("offset", region.Offset),
		slog.Int("size", region.Size),
		slog.String("status", region.status.String()),
		slog.Any("handle", region.Handle),
	)
}

// VisitAllRegions calls visitor once for every region in offset order, stopping at the first error
func (r *RegionAllocator) VisitAllRegions(visitor RegionVisitor) error {
	r.checkUsable()

	var err error
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		err = visitor(region)
		return err == nil
	})

	return err
}

// Validate performs consistency checks on the region list of the block. It is expensive, and when the
// allocator is working correctly it should never return an error.
func (r *RegionAllocator) Validate() error {
	r.checkUsable()

	if r.block.allocator != r {
		return errors.Newf("block %d is not managed by this region allocator", r.block.id)
	}

	var offset, reserved int
	for handle := r.regions.Front(); handle != arena.NoHandle; handle = r.regions.Next(handle) {
		region := r.regions.Value(handle)

		if region.node != handle {
			return errors.Newf("region at offset %d has node %s but is stored in node %s", region.Offset, region.node, handle)
		}
		if region.allocator != r {
			return errors.Newf("region at offset %d does not point back to this allocator", region.Offset)
		}
		if region.Offset != offset {
			return errors.Newf("region at offset %d should start at offset %d", region.Offset, offset)
		}
		if region.Size <= 0 {
			return errors.Newf("region at offset %d has an invalid size %d", region.Offset, region.Size)
		}

		indexed, ok := r.offsets.Get(region.Offset)
		if !ok || indexed != handle {
			return errors.Newf("region at offset %d is not indexed by its offset", region.Offset)
		}

		switch region.status {
		case AllocationStatusAvailable:
			if region.Handle != nil {
				return errors.Newf("available region at offset %d still has a handle", region.Offset)
			}
			if region.usageCount != 0 {
				return errors.Newf("available region at offset %d has a usage count of %d", region.Offset, region.usageCount)
			}
		case AllocationStatusInUse, AllocationStatusDedicated:
			if region.Handle == nil {
				return errors.Newf("%s region at offset %d has no handle", region.status, region.Offset)
			}
			if region.usageCount <= 0 {
				return errors.Newf("%s region at offset %d has a usage count of %d", region.status, region.Offset, region.usageCount)
			}
			reserved += region.Size
		default:
			return errors.Newf("region at offset %d has invalid status %s", region.Offset, region.status)
		}

		offset += region.Size
	}

	if offset != r.block.Size {
		return errors.Newf("regions cover %d bytes, but block %d has %d bytes", offset, r.block.id, r.block.Size)
	}
	if reserved != r.block.reserved {
		return errors.Newf("reserved regions cover %d bytes, but block %d has %d bytes reserved", reserved, r.block.id, r.block.reserved)
	}
	if r.offsets.Count() != r.regions.Len() {
		return errors.Newf("offset index has %d entries, but there are %d regions", r.offsets.Count(), r.regions.Len())
	}

	return r.regions.Validate()
}

// AddStatistics adds this allocator's block and reserved regions to a running total
func (r *RegionAllocator) AddStatistics(stats *memutils.Statistics) {
	r.checkUsable()

	stats.BlockCount++
	stats.BlockBytes += r.block.Size
	stats.RegionBytes += r.block.reserved
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		if !region.IsAvailable() {
			stats.RegionCount++
		}
		return true
	})
}

// AddDetailedStatistics adds this allocator's block and every one of its regions to a running total
func (r *RegionAllocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	r.checkUsable()

	stats.BlockCount++
	stats.BlockBytes += r.block.Size
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		if region.IsAvailable() {
			stats.AddAvailableRegion(region.Size)
		} else {
			stats.AddRegion(region.Size)
		}
		return true
	})
}

// BlockJsonData populates a json object with information about this allocator's block
func (r *RegionAllocator) BlockJsonData(json *jwriter.ObjectState) {
	r.checkUsable()

	var availableCount int
	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		if region.IsAvailable() {
			availableCount++
		}
		return true
	})

	json.Name("TotalBytes").Int(r.block.Size)
	json.Name("UnusedBytes").Int(r.block.Unreserved())
	json.Name("ReservedRegions").Int(r.regions.Len() - availableCount)
	json.Name("UnusedRanges").Int(availableCount)
	json.Name("Dedicated").Bool(r.block.Dedicated)
	json.Name("Properties").String(r.block.Properties.String())
}

// PrintDetailedMap writes every region of the block to a json array
func (r *RegionAllocator) PrintDetailedMap(json *jwriter.ObjectState) {
	r.checkUsable()

	arrayState := json.Name("Regions").Array()
	defer arrayState.End()

	r.regions.Each(func(handle arena.Handle, region *MemoryRegion) bool {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Offset").Int(region.Offset)
		obj.Name("Size").Int(region.Size)
		obj.Name("Type").String(region.status.String())
		if !region.IsAvailable() {
			obj.Name("UsageCount").Int(region.usageCount)
			obj.Name("Handle").String(fmt.Sprintf("%+v", region.Handle))
		}
		return true
	})
}
