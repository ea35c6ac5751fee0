package arena

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/dynarray"
)

const (
	// DefaultInitialCapacity is the number of slots in an arena's first block when Config.InitialCapacity
	// is left at 0
	DefaultInitialCapacity int = 32

	noFreeSlot int = -1
)

// Handle identifies a single slot within an ObjectArena. Handles remain valid until the slot is reclaimed
// or the arena is destroyed.
type Handle uint64

const (
	// NoHandle is the Handle value used to indicate that no slot is present
	NoHandle Handle = math.MaxUint64
)

func newHandle(blockIndex, slotIndex int) Handle {
	return Handle(uint64(blockIndex)<<32 | uint64(uint32(slotIndex)))
}

func (h Handle) blockIndex() int { return int(uint64(h) >> 32) }
func (h Handle) slotIndex() int  { return int(uint32(h)) }

func (h Handle) String() string {
	if h == NoHandle {
		return "NoHandle"
	}
	return fmt.Sprintf("%d:%d", h.blockIndex(), h.slotIndex())
}

// Config controls how an ObjectArena sizes its blocks
type Config struct {
	// InitialCapacity is the number of slots in the first block. Each subsequent block has 1.5x the
	// slots of the block before it.
	InitialCapacity int
	// MaximumCapacity is the largest number of slots a single block may have. 0 means no limit.
	MaximumCapacity int
}

// slot is either occupied by a live value or, when the matching usage flag is clear, holds the index
// of the next free slot in the same block
type slot[T any] struct {
	value    T
	nextFree int
}

type arenaBlock[T any] struct {
	slots     []slot[T]
	used      []bool
	freeHead  int
	freeCount int
	released  bool
}

func (b *arenaBlock[T]) capacity() int { return len(b.slots) }

// ObjectArena is a pool of fixed-size slots for values of type T. It grows by appending blocks of slots
// and never moves a live value, so pointers returned by Reserve and Get remain stable until the slot
// is reclaimed. Wholly free blocks are released by Collect.
type ObjectArena[T any] struct {
	config       Config
	host         *memutils.HostAllocator
	initializer  func(value *T)
	destructor   func(value *T)
	blocks       dynarray.DynamicArray[arenaBlock[T]]
	count        int
	lastCapacity int
}

// New creates an ObjectArena that requests block storage through the provided host allocator, which
// may be nil
func New[T any](host *memutils.HostAllocator, config Config) *ObjectArena[T] {
	a := &ObjectArena[T]{}
	a.Init(host, config)
	return a
}

// Init prepares the arena for use. No blocks are allocated until the first call to Reserve.
func (a *ObjectArena[T]) Init(host *memutils.HostAllocator, config Config) {
	if a.blocks.Capacity() > 0 {
		panic("attempting to initialize an object arena that is already in use")
	}

	if config.InitialCapacity <= 0 {
		config.InitialCapacity = DefaultInitialCapacity
	}
	if config.MaximumCapacity > 0 && config.InitialCapacity > config.MaximumCapacity {
		config.InitialCapacity = config.MaximumCapacity
	}

	a.config = config
	a.host = host
	a.count = 0
	a.lastCapacity = 0
	a.blocks.Init(host, 0)
}

// SetInitializer registers a function that is called on every value returned by Reserve, after it
// has been zeroed
func (a *ObjectArena[T]) SetInitializer(initializer func(value *T)) {
	a.initializer = initializer
}

// SetDestructor registers a function that is called on every value before its slot is reclaimed,
// including the values still live when the arena is destroyed
func (a *ObjectArena[T]) SetDestructor(destructor func(value *T)) {
	a.destructor = destructor
}

// Len returns the number of live values in the arena
func (a *ObjectArena[T]) Len() int { return a.count }

// Config returns the configuration the arena was initialized with
func (a *ObjectArena[T]) Config() Config { return a.config }

// BlockCount returns the number of blocks currently holding slot storage
func (a *ObjectArena[T]) BlockCount() int {
	var count int
	for _, block := range a.blocks.Slice() {
		if !block.released {
			count++
		}
	}
	return count
}

// Capacity returns the total number of slots, live or free, across all blocks
func (a *ObjectArena[T]) Capacity() int {
	var capacity int
	for _, block := range a.blocks.Slice() {
		capacity += block.capacity()
	}
	return capacity
}

func (a *ObjectArena[T]) slotSize() int {
	var s slot[T]
	return int(unsafe.Sizeof(s))
}

func (a *ObjectArena[T]) blockBytes(capacity int) int {
	return capacity*a.slotSize() + capacity
}

func (a *ObjectArena[T]) nextCapacity() int {
	capacity := a.config.InitialCapacity
	if a.lastCapacity > 0 {
		capacity = max(a.lastCapacity+a.lastCapacity/2, a.lastCapacity+1)
	}

	if a.config.MaximumCapacity > 0 && capacity > a.config.MaximumCapacity {
		capacity = a.config.MaximumCapacity
	}

	return capacity
}

func (a *ObjectArena[T]) createBlock() int {
	capacity := a.nextCapacity()
	if capacity > math.MaxInt32 {
		panic(fmt.Sprintf("object arena block capacity %d exceeds the maximum slot index", capacity))
	}

	a.host.MustAllocate(a.blockBytes(capacity))

	block := arenaBlock[T]{
		slots:     make([]slot[T], capacity),
		used:      make([]bool, capacity),
		freeHead:  0,
		freeCount: capacity,
	}
	for i := 0; i < capacity-1; i++ {
		block.slots[i].nextFree = i + 1
	}
	block.slots[capacity-1].nextFree = noFreeSlot
	a.lastCapacity = capacity

	// Released block entries are reused so that the index of every live block stays fixed
	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		if a.blocks.At(blockIndex).released {
			a.blocks.Assign(blockIndex, block)
			return blockIndex
		}
	}

	a.blocks.Append(block)
	return a.blocks.Len() - 1
}

func (a *ObjectArena[T]) releaseBlock(blockIndex int) {
	block := a.blocks.At(blockIndex)
	a.host.Free(a.blockBytes(block.capacity()))

	block.slots = nil
	block.used = nil
	block.freeHead = noFreeSlot
	block.freeCount = 0
	block.released = true
}

// Reserve returns a zeroed value from a free slot, allocating a new block if no existing block has free
// slots. The returned pointer is stable until the handle is reclaimed.
func (a *ObjectArena[T]) Reserve() (Handle, *T) {
	blockIndex := -1
	for index := 0; index < a.blocks.Len(); index++ {
		block := a.blocks.At(index)
		if !block.released && block.freeHead != noFreeSlot {
			blockIndex = index
			break
		}
	}

	if blockIndex < 0 {
		blockIndex = a.createBlock()
	}

	block := a.blocks.At(blockIndex)
	slotIndex := block.freeHead
	s := &block.slots[slotIndex]
	block.freeHead = s.nextFree
	block.freeCount--
	block.used[slotIndex] = true
	a.count++

	var zero T
	s.value = zero
	s.nextFree = noFreeSlot
	if a.initializer != nil {
		a.initializer(&s.value)
	}

	return newHandle(blockIndex, slotIndex), &s.value
}

func (a *ObjectArena[T]) validHandle(handle Handle) bool {
	if handle == NoHandle {
		return false
	}

	blockIndex := handle.blockIndex()
	if blockIndex >= a.blocks.Len() {
		return false
	}

	block := a.blocks.At(blockIndex)
	slotIndex := handle.slotIndex()
	return !block.released && slotIndex < block.capacity() && block.used[slotIndex]
}

// Contains returns true if the handle refers to a live value in this arena
func (a *ObjectArena[T]) Contains(handle Handle) bool {
	return a.validHandle(handle)
}

// Get returns a pointer to the live value identified by handle. It panics if the handle does not
// refer to a live value in this arena.
func (a *ObjectArena[T]) Get(handle Handle) *T {
	if !a.validHandle(handle) {
		panic(fmt.Sprintf("handle %s does not refer to a live object in this arena", handle))
	}

	return &a.blocks.At(handle.blockIndex()).slots[handle.slotIndex()].value
}

// Lookup finds the handle of a live value from its address, by locating the block whose slot storage
// contains it
func (a *ObjectArena[T]) Lookup(value *T) (Handle, bool) {
	if value == nil {
		return NoHandle, false
	}

	address := uintptr(unsafe.Pointer(value))
	slotSize := uintptr(a.slotSize())

	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		block := a.blocks.At(blockIndex)
		if block.released {
			continue
		}

		start := uintptr(unsafe.Pointer(&block.slots[0]))
		end := start + uintptr(block.capacity())*slotSize
		if address < start || address >= end {
			continue
		}

		offset := address - start
		if offset%slotSize != 0 {
			return NoHandle, false
		}

		slotIndex := int(offset / slotSize)
		if !block.used[slotIndex] {
			return NoHandle, false
		}

		return newHandle(blockIndex, slotIndex), true
	}

	return NoHandle, false
}

// Reclaim runs the destructor on the value identified by handle and returns its slot to the owning
// block's free list. It panics if the handle does not refer to a live value in this arena.
func (a *ObjectArena[T]) Reclaim(handle Handle) {
	if !a.validHandle(handle) {
		panic(fmt.Sprintf("attempted to reclaim handle %s, which does not refer to a live object in this arena", handle))
	}

	block := a.blocks.At(handle.blockIndex())
	slotIndex := handle.slotIndex()
	s := &block.slots[slotIndex]

	if a.destructor != nil {
		a.destructor(&s.value)
	}

	var zero T
	s.value = zero
	s.nextFree = block.freeHead
	block.freeHead = slotIndex
	block.freeCount++
	block.used[slotIndex] = false
	a.count--
}

// ReclaimPointer reclaims a live value located by its address. It panics if the value was not
// reserved from this arena.
func (a *ObjectArena[T]) ReclaimPointer(value *T) {
	handle, ok := a.Lookup(value)
	if !ok {
		panic(fmt.Sprintf("attempted to reclaim %p, which is not a live object in this arena", value))
	}

	a.Reclaim(handle)
}

// Each calls fn for every live value in block order. Iteration stops early if fn returns false.
// fn must not reserve or reclaim values.
func (a *ObjectArena[T]) Each(fn func(handle Handle, value *T) bool) {
	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		block := a.blocks.At(blockIndex)
		for slotIndex, used := range block.used {
			if used && !fn(newHandle(blockIndex, slotIndex), &block.slots[slotIndex].value) {
				return
			}
		}
	}
}

// Collect releases the storage of every block whose slots are all free and returns true if any
// block was released
func (a *ObjectArena[T]) Collect() bool {
	collected := false
	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		block := a.blocks.At(blockIndex)
		if !block.released && block.freeCount == block.capacity() {
			a.releaseBlock(blockIndex)
			collected = true
		}
	}

	// Trailing released entries can go: no live handle refers to them
	for a.blocks.Len() > 0 && a.blocks.Back().released {
		a.blocks.PopBack()
	}

	if a.blocks.Len() == 0 {
		a.lastCapacity = 0
	}

	return collected
}

// Destroy runs the destructor on every live value and releases all blocks. The arena may be reused
// after Destroy.
func (a *ObjectArena[T]) Destroy() {
	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		block := a.blocks.At(blockIndex)
		if block.released {
			continue
		}

		if a.destructor != nil {
			for slotIndex, used := range block.used {
				if used {
					a.destructor(&block.slots[slotIndex].value)
				}
			}
		}

		a.releaseBlock(blockIndex)
	}

	a.blocks.Destroy()
	a.count = 0
	a.lastCapacity = 0
}

// Validate checks that the free lists and usage flags of every block agree with one another
func (a *ObjectArena[T]) Validate() error {
	var liveCount int
	for blockIndex := 0; blockIndex < a.blocks.Len(); blockIndex++ {
		block := a.blocks.At(blockIndex)
		if block.released {
			if block.slots != nil || block.freeCount != 0 {
				return errors.Errorf("block %d was released but still holds slot storage", blockIndex)
			}
			continue
		}

		var freeCount int
		visited := make([]bool, block.capacity())
		for slotIndex := block.freeHead; slotIndex != noFreeSlot; slotIndex = block.slots[slotIndex].nextFree {
			if slotIndex < 0 || slotIndex >= block.capacity() {
				return errors.Errorf("block %d has a free list entry %d outside of its capacity %d", blockIndex, slotIndex, block.capacity())
			}
			if visited[slotIndex] {
				return errors.Errorf("block %d has a cycle in its free list at slot %d", blockIndex, slotIndex)
			}
			if block.used[slotIndex] {
				return errors.Errorf("block %d has slot %d in its free list, but the slot is marked as used", blockIndex, slotIndex)
			}
			visited[slotIndex] = true
			freeCount++
		}

		if freeCount != block.freeCount {
			return errors.Errorf("block %d counted %d free slots, but expected %d", blockIndex, freeCount, block.freeCount)
		}

		liveCount += block.capacity() - freeCount
	}

	if liveCount != a.count {
		return errors.Errorf("counted %d live objects, but the arena expected %d", liveCount, a.count)
	}

	return nil
}
