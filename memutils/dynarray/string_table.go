package dynarray

import (
	"strings"

	"github.com/vkngwrapper/blockalloc/memutils"
)

// StringTable is an ordered table of strings, typically built by tokenizing a delimited string
type StringTable struct {
	entries DynamicArray[string]
}

// NewStringTable creates an empty StringTable with capacity for initialCapacity strings
func NewStringTable(host *memutils.HostAllocator, initialCapacity int) *StringTable {
	t := &StringTable{}
	t.Init(host, initialCapacity)
	return t
}

func (t *StringTable) Init(host *memutils.HostAllocator, initialCapacity int) {
	t.entries.Init(host, initialCapacity)
}

func (t *StringTable) Len() int             { return t.entries.Len() }
func (t *StringTable) IsEmpty() bool        { return t.entries.IsEmpty() }
func (t *StringTable) Get(index int) string { return t.entries.Get(index) }
func (t *StringTable) Strings() []string    { return t.entries.Slice() }

// Resize changes the number of entries. New entries are empty strings.
func (t *StringTable) Resize(size int) { t.entries.Resize(size) }

// Clear removes all entries but keeps the table's storage
func (t *StringTable) Clear() { t.entries.Clear() }

// Destroy releases the table's storage
func (t *StringTable) Destroy() { t.entries.Destroy() }

// Fill replaces the table's contents with the provided strings
func (t *StringTable) Fill(values []string) {
	t.entries.Clear()
	t.entries.AppendSlice(values)
}

// Assign replaces the entry at index
func (t *StringTable) Assign(index int, value string) { t.entries.Assign(index, value) }

// Append adds value to the end of the table
func (t *StringTable) Append(value string) { t.entries.Append(value) }

// Prepend adds value to the start of the table
func (t *StringTable) Prepend(value string) { t.entries.Prepend(value) }

// Parse replaces the table's contents with the non-empty tokens of value separated by delim and
// returns the number of tokens found
func (t *StringTable) Parse(value string, delim string) int {
	t.entries.Clear()
	if value == "" {
		return 0
	}
	if delim == "" {
		t.entries.Append(value)
		return 1
	}

	for _, token := range strings.Split(value, delim) {
		if token == "" {
			continue
		}
		t.entries.Append(token)
	}

	return t.entries.Len()
}

// Contains returns true if the table holds an entry equal to value
func (t *StringTable) Contains(value string) bool {
	for _, entry := range t.entries.Slice() {
		if entry == value {
			return true
		}
	}

	return false
}

// Join concatenates all entries separated by delim
func (t *StringTable) Join(delim string) string {
	return strings.Join(t.entries.Slice(), delim)
}
