package dynarray

import "github.com/vkngwrapper/blockalloc/memutils"

// PointerTable is a DynamicArray of untyped entries, used as an index table for objects owned
// elsewhere. Entries must be comparable for Contains and Index to work.
type PointerTable struct {
	DynamicArray[any]
}

// NewPointerTable creates a PointerTable with at least initialCapacity entries of reserved storage
func NewPointerTable(host *memutils.HostAllocator, initialCapacity int) *PointerTable {
	t := &PointerTable{}
	t.Init(host, initialCapacity)
	return t
}

// Index returns the position of the first entry equal to entry, or -1
func (t *PointerTable) Index(entry any) int {
	for i, candidate := range t.Slice() {
		if candidate == entry {
			return i
		}
	}

	return -1
}

// Contains returns true if an entry equal to entry is present in the table
func (t *PointerTable) Contains(entry any) bool {
	return t.Index(entry) >= 0
}

// RemoveEntry deletes the first entry equal to entry, returning false if none was present
func (t *PointerTable) RemoveEntry(entry any) bool {
	index := t.Index(entry)
	if index < 0 {
		return false
	}

	t.Remove(index)
	return true
}
