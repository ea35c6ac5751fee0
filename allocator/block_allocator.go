package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/arena"
	"github.com/vkngwrapper/blockalloc/memutils/dynarray"
	"github.com/vkngwrapper/blockalloc/memutils/list"
)

// BlockVisitor is called once for each block visited by BlockAllocator.VisitBlocks
type BlockVisitor func(block *MemoryBlock) error

// BlockAllocator is the top tier of the allocator. It allocates large blocks through the BlockCallbacks
// and hands out regions of those blocks, creating a new block whenever no existing block can hold a
// request.
//
// BlockAllocator is not safe for concurrent use.
type BlockAllocator struct {
	logger    *slog.Logger
	config    Config
	callbacks *Callbacks

	blocks      list.IntrusiveList[MemoryBlock]
	allocators  arena.ObjectArena[RegionAllocator]
	index       *swiss.Map[int, arena.Handle]
	nextBlockID int
	poolSize    int
	destroyed   bool
}

func (a *BlockAllocator) checkUsable() {
	if a.destroyed {
		panic("attempted to use a block allocator that has been destroyed")
	}
}

// Config returns the settings this allocator was created with, with defaults filled in
func (a *BlockAllocator) Config() Config { return a.config }

// BlockCount returns the number of blocks currently allocated
func (a *BlockAllocator) BlockCount() int { return a.blocks.Len() }

// PoolSize returns the combined size in bytes of every block currently allocated
func (a *BlockAllocator) PoolSize() int { return a.poolSize }

// ReservedBytes returns the combined size in bytes of every reserved region across all blocks
func (a *BlockAllocator) ReservedBytes() int {
	var reserved int
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		reserved += block.reserved
		return true
	})
	return reserved
}

// Front returns the oldest block, or nil if there are no blocks
func (a *BlockAllocator) Front() *MemoryBlock {
	if a.blocks.IsEmpty() {
		return nil
	}
	return a.blocks.Value(a.blocks.Front())
}

// Back returns the newest block, or nil if there are no blocks
func (a *BlockAllocator) Back() *MemoryBlock {
	if a.blocks.IsEmpty() {
		return nil
	}
	return a.blocks.Value(a.blocks.Back())
}

// LookupBlock returns the block with the provided id, or nil if no such block is allocated
func (a *BlockAllocator) LookupBlock(id int) *MemoryBlock {
	if a.index == nil {
		return nil
	}

	handle, ok := a.index.Get(id)
	if !ok {
		return nil
	}
	return a.blocks.Value(handle)
}

// Owns returns true if the region belongs to one of this allocator's blocks
func (a *BlockAllocator) Owns(region *MemoryRegion) bool {
	if region == nil {
		return false
	}

	block := region.Block()
	return a.ownsBlock(block) && block.allocator.Owns(region)
}

func (a *BlockAllocator) ownsBlock(block *MemoryBlock) bool {
	if block == nil {
		return false
	}
	return a.LookupBlock(block.id) == block
}

func (a *BlockAllocator) regionAllocator(region *MemoryRegion, operation string) *RegionAllocator {
	a.checkUsable()

	if region == nil {
		panic(fmt.Sprintf("attempted to %s a nil region", operation))
	}

	block := region.Block()
	if !a.ownsBlock(block) {
		panic(fmt.Sprintf("attempted to %s a region at offset %d that does not belong to this allocator", operation, region.Offset))
	}

	return block.allocator
}

// VisitBlocks calls visitor once for every block from oldest to newest, stopping at the first error
func (a *BlockAllocator) VisitBlocks(visitor BlockVisitor) error {
	var err error
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		err = visitor(block)
		return err == nil
	})

	return err
}

// Conform normalizes a request in place so that its alignment includes the allocator's minimum and its
// size is padded to the request's nearest multiple and alignment. Regions carved from a block are
// further conformed to that block's properties.
func (a *BlockAllocator) Conform(request *MemoryRequest) error {
	alignment := max(request.Alignment, request.Properties.Alignment, a.config.MinimumAlignment)
	err := memutils.CheckPow2(alignment, "request alignment")
	if err != nil {
		return errors.Wrapf(err, "cannot conform request of %d bytes", request.Size)
	}

	size := request.Size
	if request.Properties.NearestMultiple > 0 {
		size = memutils.RoundUpToMultiple(size, request.Properties.NearestMultiple)
	}

	request.Alignment = alignment
	request.Size = memutils.AlignUp(size, alignment)
	return nil
}

func (a *BlockAllocator) canHold(block *MemoryBlock, request *MemoryRequest) bool {
	if block.Dedicated != request.Dedicated || !block.Properties.IsCompatible(request.Properties) {
		return false
	}
	if block.Dedicated && block.reserved > 0 {
		return false
	}

	return block.Unreserved() >= request.Size
}

// Reserve finds room for the request in an existing compatible block, or allocates a new block and
// reserves the request from it. Dedicated requests are only placed into dedicated blocks, each of which
// holds a single region. ErrOutOfDeviceMemory is returned when an allocation limit prevents a new block
// from being created, and errors marked with ErrBlockAllocationFailed or ErrRegionAllocationFailed are
// returned when the backend callbacks fail.
func (a *BlockAllocator) Reserve(request MemoryRequest) (*MemoryRegion, error) {
	a.checkUsable()

	if request.Size <= 0 {
		return nil, errors.Newf("cannot reserve a region of %d bytes", request.Size)
	}

	err := a.Conform(&request)
	if err != nil {
		return nil, err
	}

	var region *MemoryRegion
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		if !a.canHold(block, &request) {
			return true
		}

		region, err = block.allocator.Reserve(request)
		if errors.Is(err, ErrOutOfDeviceMemory) {
			// Enough total space but too fragmented
			err = nil
			return true
		}

		return region == nil && err == nil
	})
	if region != nil || err != nil {
		return region, err
	}

	block, err := a.createBlock(&request)
	if err != nil {
		return nil, err
	}

	region, err = block.allocator.Reserve(request)
	if err != nil {
		destroyErr := a.destroyBlock(block)
		return nil, errors.CombineErrors(err, destroyErr)
	}

	return region, nil
}

func (a *BlockAllocator) blockSize(request *MemoryRequest) int {
	size := request.Size
	if !request.Dedicated {
		size = max(size, a.config.MinimumBlockSize)
	}

	if a.config.NearestMultiple > 0 {
		size = memutils.RoundUpToMultiple(size, a.config.NearestMultiple)
	}

	return size
}

func (a *BlockAllocator) createBlock(request *MemoryRequest) (*MemoryBlock, error) {
	size := a.blockSize(request)

	if a.config.MaximumBlockSize > 0 && size > a.config.MaximumBlockSize {
		return nil, errors.Wrapf(ErrOutOfDeviceMemory, "a block of %d bytes exceeds the maximum block size of %d bytes", size, a.config.MaximumBlockSize)
	}
	if a.config.MaximumBlockCount > 0 && a.blocks.Len() >= a.config.MaximumBlockCount {
		return nil, errors.Wrapf(ErrOutOfDeviceMemory, "the maximum block count of %d has been reached", a.config.MaximumBlockCount)
	}
	if a.config.MaximumPoolSize > 0 && a.poolSize+size > a.config.MaximumPoolSize {
		return nil, errors.Wrapf(ErrOutOfDeviceMemory, "a block of %d bytes would exceed the maximum pool size of %d bytes, with %d bytes already allocated", size, a.config.MaximumPoolSize, a.poolSize)
	}

	handle := a.blocks.Append(MemoryBlock{
		Size:       size,
		Dedicated:  request.Dedicated,
		Properties: request.Properties,
		id:         a.nextBlockID,
	})
	block := a.blocks.Value(handle)

	err := deviceCallbacks{callbacks: a.callbacks}.allocateBlock(block)
	if err != nil {
		a.blocks.Remove(handle)
		return nil, err
	}

	_, regionAllocator := a.allocators.Reserve()
	regionAllocator.Init(a.logger, block, a.callbacks, a.config.MinimumAlignment)

	a.nextBlockID++
	a.poolSize += size
	a.index.Put(block.id, handle)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "created block",
		slog.Int("block.id", block.id),
		slog.Int("size", block.Size),
		slog.Bool("dedicated", block.Dedicated),
		slog.String("properties", block.Properties.String()),
	)

	return block, nil
}

func (a *BlockAllocator) destroyBlock(block *MemoryBlock) error {
	handle, ok := a.index.Get(block.id)
	if !ok {
		panic(fmt.Sprintf("attempted to destroy block %d, which does not belong to this allocator", block.id))
	}

	regionAllocator := block.allocator
	err := regionAllocator.Destroy()
	a.allocators.ReclaimPointer(regionAllocator)

	freeErr := deviceCallbacks{callbacks: a.callbacks}.freeBlock(block)
	block.Handle = nil

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "destroyed block",
		slog.Int("block.id", block.id),
		slog.Int("size", block.Size),
	)

	a.poolSize -= block.Size
	a.index.Delete(block.id)
	a.blocks.Remove(handle)

	return errors.CombineErrors(err, freeErr)
}

// Reclaim returns a region to its block. It panics if the region does not belong to this allocator.
func (a *BlockAllocator) Reclaim(region *MemoryRegion) error {
	return a.regionAllocator(region, "reclaim").Reclaim(region)
}

// Retain adds a reference to a reserved region
func (a *BlockAllocator) Retain(region *MemoryRegion) {
	a.regionAllocator(region, "retain").Retain(region)
}

// Release removes a reference from a reserved region, making it available once the last reference is
// gone. Its space is merged back into the block by the next Collect.
func (a *BlockAllocator) Release(region *MemoryRegion) (bool, error) {
	return a.regionAllocator(region, "release").Release(region)
}

// Collect merges available regions within every block, and then frees every block that has no
// reserved regions. It returns true if any block was freed.
//
// Errors returned by BlockCallbacks.FreeBlock while freeing empty blocks are logged at error level
// and otherwise dropped. The block is removed from the allocator either way.
func (a *BlockAllocator) Collect() bool {
	a.checkUsable()

	var empty dynarray.PointerTable
	empty.Init(a.callbacks.Host, 0)
	defer empty.Destroy()

	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		block.allocator.Collect()
		if block.reserved == 0 {
			empty.Append(block)
		}
		return true
	})

	for _, entry := range empty.Slice() {
		block := entry.(*MemoryBlock)
		id := block.id

		err := a.destroyBlock(block)
		if err != nil {
			a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to free an empty block",
				slog.Int("block.id", id),
				slog.Any("error", err),
			)
		}
	}

	if empty.Len() > 0 {
		a.blocks.Collect()
		a.allocators.Collect()
	}

	return empty.Len() > 0
}

// Destroy frees every block, whether it still has reserved regions or not. Every unreclaimed region is
// logged and reported in the returned error. The allocator may not be used afterward.
func (a *BlockAllocator) Destroy() error {
	a.checkUsable()

	var err error
	for !a.blocks.IsEmpty() {
		err = errors.CombineErrors(err, a.destroyBlock(a.blocks.Value(a.blocks.Front())))
	}

	a.blocks.Destroy()
	a.allocators.Destroy()
	a.index = nil
	a.destroyed = true

	return err
}

// Validate performs consistency checks on every block and its regions
func (a *BlockAllocator) Validate() error {
	a.checkUsable()

	var poolSize int
	err := a.VisitBlocks(func(block *MemoryBlock) error {
		if block.Handle == nil {
			return errors.Newf("block %d has no backing memory", block.id)
		}
		if block.allocator == nil {
			return errors.Newf("block %d has no region allocator", block.id)
		}
		if !a.ownsBlock(block) {
			return errors.Newf("block %d is not indexed by its id", block.id)
		}
		if block.Dedicated && block.allocator.RegionCount() != 1 {
			return errors.Newf("dedicated block %d is divided into %d regions", block.id, block.allocator.RegionCount())
		}

		poolSize += block.Size
		return errors.Wrapf(block.allocator.Validate(), "block %d", block.id)
	})
	if err != nil {
		return err
	}

	if poolSize != a.poolSize {
		return errors.Newf("blocks hold %d bytes, but the pool size is %d bytes", poolSize, a.poolSize)
	}
	if a.index.Count() != a.blocks.Len() {
		return errors.Newf("block index has %d entries, but there are %d blocks", a.index.Count(), a.blocks.Len())
	}
	if a.allocators.Len() != a.blocks.Len() {
		return errors.Newf("there are %d region allocators, but %d blocks", a.allocators.Len(), a.blocks.Len())
	}

	return a.blocks.Validate()
}

// Statistics returns totals of the blocks and reserved regions of this allocator
func (a *BlockAllocator) Statistics() memutils.Statistics {
	var stats memutils.Statistics
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		block.allocator.AddStatistics(&stats)
		return true
	})

	return stats
}

// CalculateStatistics fills stats with detailed totals of every block and region of this allocator
func (a *BlockAllocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		block.allocator.AddDetailedStatistics(stats)
		return true
	})
}

func detailedStatisticsJson(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("RegionCount").Int(stats.RegionCount)
	json.Name("AvailableRegionCount").Int(stats.AvailableRegionCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("RegionBytes").Int(stats.RegionBytes)
	json.Name("UnusedBytes").Int(stats.BlockBytes - stats.RegionBytes)

	if stats.RegionCount > 0 {
		json.Name("RegionSizeMin").Int(stats.RegionSizeMin)
		json.Name("RegionSizeMax").Int(stats.RegionSizeMax)
	}
	if stats.AvailableRegionCount > 0 {
		json.Name("AvailableRegionSizeMin").Int(stats.AvailableRegionSizeMin)
		json.Name("AvailableRegionSizeMax").Int(stats.AvailableRegionSizeMax)
	}
}

// BuildStatsString returns a json document describing the allocator's statistics and blocks. If
// detailed is true, every region of every block is included.
func (a *BlockAllocator) BuildStatsString(detailed bool) string {
	a.checkUsable()

	var stats memutils.DetailedStatistics
	a.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	rootObj := writer.Object()

	totalObj := rootObj.Name("Total").Object()
	detailedStatisticsJson(&totalObj, &stats)
	totalObj.End()

	configObj := rootObj.Name("Config").Object()
	configObj.Name("MinimumBlockSize").Int(a.config.MinimumBlockSize)
	configObj.Name("MaximumBlockSize").Int(a.config.MaximumBlockSize)
	configObj.Name("MaximumBlockCount").Int(a.config.MaximumBlockCount)
	configObj.Name("MaximumPoolSize").Int(a.config.MaximumPoolSize)
	configObj.End()

	blocksObj := rootObj.Name("Blocks").Object()
	a.blocks.Each(func(handle arena.Handle, block *MemoryBlock) bool {
		blockObj := blocksObj.Name(strconv.Itoa(block.id)).Object()
		block.allocator.BlockJsonData(&blockObj)
		if detailed {
			block.allocator.PrintDetailedMap(&blockObj)
		}
		blockObj.End()
		return true
	})
	blocksObj.End()

	rootObj.End()
	return string(writer.Bytes())
}
