package dynarray

import (
	"fmt"
	"slices"
	"unsafe"

	"github.com/vkngwrapper/blockalloc/memutils"
)

// MinimumCapacity is the smallest capacity a DynamicArray will grow to when it needs to grow at all
const MinimumCapacity int = 16

// DynamicArray is a resizable array of values whose backing storage is requested through a
// memutils.HostAllocator. Values are moved in bulk when the array grows or when elements are inserted
// or removed, so the array makes no guarantees about the stability of element addresses.
//
// DynamicArray must be initialized with Init or created with New before use.
type DynamicArray[T any] struct {
	host *memutils.HostAllocator
	data []T
	size int
}

// New creates a DynamicArray with at least initialCapacity elements of reserved storage
func New[T any](host *memutils.HostAllocator, initialCapacity int) *DynamicArray[T] {
	a := &DynamicArray[T]{}
	a.Init(host, initialCapacity)
	return a
}

// Init prepares the array for use, reserving initialCapacity elements of storage from the
// provided host allocator. host may be nil.
func (a *DynamicArray[T]) Init(host *memutils.HostAllocator, initialCapacity int) {
	if a.data != nil {
		panic("attempting to initialize a dynamic array that is already in use")
	}

	a.host = host
	a.size = 0
	if initialCapacity > 0 {
		a.reallocate(initialCapacity)
	}
}

func (a *DynamicArray[T]) elementSize() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func (a *DynamicArray[T]) reallocate(newCapacity int) {
	oldCapacity := len(a.data)
	if newCapacity == oldCapacity {
		return
	}

	var newData []T
	if newCapacity > 0 {
		a.host.MustAllocate(newCapacity * a.elementSize())
		newData = make([]T, newCapacity)
		copy(newData, a.data[:min(a.size, newCapacity)])
	}

	if oldCapacity > 0 {
		clear(a.data)
		a.host.Free(oldCapacity * a.elementSize())
	}

	a.data = newData
	if a.size > newCapacity {
		a.size = newCapacity
	}
}

func (a *DynamicArray[T]) checkIndex(index int, limit int) {
	if index < 0 || index >= limit {
		panic(fmt.Sprintf("index %d is out of range for a dynamic array of size %d", index, a.size))
	}
}

// Len returns the number of elements in the array
func (a *DynamicArray[T]) Len() int { return a.size }

// Capacity returns the number of elements the array can hold before it must reallocate
func (a *DynamicArray[T]) Capacity() int { return len(a.data) }

// IsEmpty returns true if the array has no elements
func (a *DynamicArray[T]) IsEmpty() bool { return a.size == 0 }

// Reserve grows the backing storage to hold at least capacity elements without changing the array's size
func (a *DynamicArray[T]) Reserve(capacity int) {
	if capacity > len(a.data) {
		a.reallocate(capacity)
	}
}

// Resize changes the number of elements in the array. When the size grows past the current capacity,
// storage is reallocated with 1.5x growth. New elements are zero values. Elements removed by shrinking
// are zeroed, but the capacity does not change.
func (a *DynamicArray[T]) Resize(size int) {
	if size < 0 {
		panic(fmt.Sprintf("attempted to resize a dynamic array to negative size %d", size))
	}

	capacity := len(a.data)
	if size > capacity {
		newCapacity := max(size, capacity+capacity/2, MinimumCapacity)
		a.reallocate(newCapacity)
	}

	if size < a.size {
		clear(a.data[size:a.size])
	}
	a.size = size
}

// ShrinkToFit reallocates the backing storage to hold exactly the current number of elements
func (a *DynamicArray[T]) ShrinkToFit() {
	a.reallocate(a.size)
}

// Clear zeroes all elements and sets the size to 0 without releasing storage
func (a *DynamicArray[T]) Clear() {
	clear(a.data[:a.size])
	a.size = 0
}

// Destroy releases all backing storage. The array may be reused after Destroy.
func (a *DynamicArray[T]) Destroy() {
	a.reallocate(0)
	a.size = 0
}

// Get returns a copy of the element at index
func (a *DynamicArray[T]) Get(index int) T {
	a.checkIndex(index, a.size)
	return a.data[index]
}

// At returns a pointer to the element at index. The pointer is only valid until the array is next
// resized, or an element is inserted or removed.
func (a *DynamicArray[T]) At(index int) *T {
	a.checkIndex(index, a.size)
	return &a.data[index]
}

// Assign replaces the element at index
func (a *DynamicArray[T]) Assign(index int, value T) {
	a.checkIndex(index, a.size)
	a.data[index] = value
}

// Front returns the first element. The array must not be empty.
func (a *DynamicArray[T]) Front() T {
	return a.Get(0)
}

// Back returns the last element. The array must not be empty.
func (a *DynamicArray[T]) Back() T {
	return a.Get(a.size - 1)
}

// Insert places value at index, shifting the element at index and all following elements up by one
func (a *DynamicArray[T]) Insert(index int, value T) {
	a.checkIndex(index, a.size+1)

	oldSize := a.size
	a.Resize(oldSize + 1)
	copy(a.data[index+1:a.size], a.data[index:oldSize])
	a.data[index] = value
}

// InsertSlice places all values starting at index, shifting the element at index and all following
// elements up by len(values)
func (a *DynamicArray[T]) InsertSlice(index int, values []T) {
	a.checkIndex(index, a.size+1)
	if len(values) == 0 {
		return
	}

	oldSize := a.size
	if index < oldSize || oldSize+len(values) > len(a.data) {
		// values may be a view of this array's storage, which is about to be shifted or freed
		values = slices.Clone(values)
	}

	a.Resize(oldSize + len(values))
	copy(a.data[index+len(values):a.size], a.data[index:oldSize])
	copy(a.data[index:], values)
}

// Remove deletes the element at index, shifting all following elements down by one
func (a *DynamicArray[T]) Remove(index int) {
	a.RemoveRange(index, 1)
}

// RemoveRange deletes count elements beginning at index, shifting all following elements down
func (a *DynamicArray[T]) RemoveRange(index int, count int) {
	if count == 0 {
		return
	}
	a.checkIndex(index, a.size)
	if count < 0 || index+count > a.size {
		panic(fmt.Sprintf("attempted to remove %d elements at index %d from a dynamic array of size %d", count, index, a.size))
	}

	copy(a.data[index:], a.data[index+count:a.size])
	a.Resize(a.size - count)
}

// Prepend places value at the start of the array
func (a *DynamicArray[T]) Prepend(value T) {
	a.Insert(0, value)
}

// PrependSlice places all values at the start of the array
func (a *DynamicArray[T]) PrependSlice(values []T) {
	a.InsertSlice(0, values)
}

// Append places value at the end of the array
func (a *DynamicArray[T]) Append(value T) {
	a.Resize(a.size + 1)
	a.data[a.size-1] = value
}

// AppendSlice places all values at the end of the array
func (a *DynamicArray[T]) AppendSlice(values []T) {
	a.InsertSlice(a.size, values)
}

// PopFront removes and returns the first element, if any
func (a *DynamicArray[T]) PopFront() (T, bool) {
	if a.size == 0 {
		var zero T
		return zero, false
	}

	value := a.data[0]
	a.Remove(0)
	return value, true
}

// PopBack removes and returns the last element, if any
func (a *DynamicArray[T]) PopBack() (T, bool) {
	if a.size == 0 {
		var zero T
		return zero, false
	}

	value := a.data[a.size-1]
	a.Resize(a.size - 1)
	return value, true
}

// Slice returns a view of the array's elements. The view is only valid until the array is next modified.
func (a *DynamicArray[T]) Slice() []T {
	return a.data[:a.size]
}
