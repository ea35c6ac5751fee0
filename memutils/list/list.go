package list

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/arena"
)

type node[T any] struct {
	value T
	prev  arena.Handle
	next  arena.Handle
}

// IntrusiveList is a doubly-linked list whose nodes are stored in an ObjectArena. Nodes are identified
// by arena handles, which remain valid until the node is removed, and the address of each value is
// stable for the same period.
type IntrusiveList[T any] struct {
	nodes arena.ObjectArena[node[T]]
	front arena.Handle
	back  arena.Handle
	count int
}

// New creates an IntrusiveList whose node storage is requested through the provided host allocator
func New[T any](host *memutils.HostAllocator, config arena.Config) *IntrusiveList[T] {
	l := &IntrusiveList[T]{}
	l.Init(host, config)
	return l
}

// Init prepares the list for use
func (l *IntrusiveList[T]) Init(host *memutils.HostAllocator, config arena.Config) {
	l.nodes.Init(host, config)
	l.front = arena.NoHandle
	l.back = arena.NoHandle
	l.count = 0
}

func (l *IntrusiveList[T]) Len() int      { return l.count }
func (l *IntrusiveList[T]) IsEmpty() bool { return l.count == 0 }

// Front returns the handle of the first node, or arena.NoHandle if the list is empty
func (l *IntrusiveList[T]) Front() arena.Handle { return l.front }

// Back returns the handle of the last node, or arena.NoHandle if the list is empty
func (l *IntrusiveList[T]) Back() arena.Handle { return l.back }

func (l *IntrusiveList[T]) node(handle arena.Handle) *node[T] {
	if handle == arena.NoHandle {
		panic("attempted to access a list node through NoHandle")
	}

	return l.nodes.Get(handle)
}

// Next returns the handle of the node following handle, or arena.NoHandle if handle is the last node
func (l *IntrusiveList[T]) Next(handle arena.Handle) arena.Handle {
	return l.node(handle).next
}

// Prev returns the handle of the node preceding handle, or arena.NoHandle if handle is the first node
func (l *IntrusiveList[T]) Prev(handle arena.Handle) arena.Handle {
	return l.node(handle).prev
}

// Value returns a pointer to the value stored in the node identified by handle
func (l *IntrusiveList[T]) Value(handle arena.Handle) *T {
	return &l.node(handle).value
}

// Contains returns true if handle identifies a node currently in this list
func (l *IntrusiveList[T]) Contains(handle arena.Handle) bool {
	return l.nodes.Contains(handle)
}

// Lookup finds the node handle for a value pointer previously returned by Value
func (l *IntrusiveList[T]) Lookup(value *T) (arena.Handle, bool) {
	if value == nil {
		return arena.NoHandle, false
	}

	var found arena.Handle = arena.NoHandle
	l.nodes.Each(func(handle arena.Handle, n *node[T]) bool {
		if &n.value == value {
			found = handle
			return false
		}
		return true
	})

	return found, found != arena.NoHandle
}

func (l *IntrusiveList[T]) newNode(value T) (arena.Handle, *node[T]) {
	handle, n := l.nodes.Reserve()
	n.value = value
	n.prev = arena.NoHandle
	n.next = arena.NoHandle
	return handle, n
}

// Append adds value to the end of the list and returns the new node's handle
func (l *IntrusiveList[T]) Append(value T) arena.Handle {
	handle, n := l.newNode(value)

	if l.back == arena.NoHandle {
		l.front = handle
	} else {
		n.prev = l.back
		l.node(l.back).next = handle
	}
	l.back = handle
	l.count++

	return handle
}

// Prepend adds value to the start of the list and returns the new node's handle
func (l *IntrusiveList[T]) Prepend(value T) arena.Handle {
	handle, n := l.newNode(value)

	if l.front == arena.NoHandle {
		l.back = handle
	} else {
		n.next = l.front
		l.node(l.front).prev = handle
	}
	l.front = handle
	l.count++

	return handle
}

// InsertBefore adds value immediately before the node identified by existing. If existing is
// arena.NoHandle, the value is appended.
func (l *IntrusiveList[T]) InsertBefore(existing arena.Handle, value T) arena.Handle {
	if existing == arena.NoHandle {
		return l.Append(value)
	}

	prev := l.node(existing).prev
	if prev == arena.NoHandle {
		return l.Prepend(value)
	}

	handle, n := l.newNode(value)
	n.prev = prev
	n.next = existing
	l.node(prev).next = handle
	l.node(existing).prev = handle
	l.count++

	return handle
}

// InsertAfter adds value immediately after the node identified by existing. If existing is
// arena.NoHandle, the value is prepended.
func (l *IntrusiveList[T]) InsertAfter(existing arena.Handle, value T) arena.Handle {
	if existing == arena.NoHandle {
		return l.Prepend(value)
	}

	next := l.node(existing).next
	if next == arena.NoHandle {
		return l.Append(value)
	}

	handle, n := l.newNode(value)
	n.prev = existing
	n.next = next
	l.node(next).prev = handle
	l.node(existing).next = handle
	l.count++

	return handle
}

// Remove unlinks the node identified by handle and returns its slot to the arena. It panics if
// handle does not identify a node in this list.
func (l *IntrusiveList[T]) Remove(handle arena.Handle) {
	if !l.nodes.Contains(handle) {
		panic(fmt.Sprintf("attempted to remove node %s, which is not in this list", handle))
	}

	n := l.nodes.Get(handle)
	if n.prev == arena.NoHandle {
		l.front = n.next
	} else {
		l.node(n.prev).next = n.next
	}

	if n.next == arena.NoHandle {
		l.back = n.prev
	} else {
		l.node(n.next).prev = n.prev
	}

	l.nodes.Reclaim(handle)
	l.count--
}

// PopFront removes the first node and returns its value. ok is false if the list was empty.
func (l *IntrusiveList[T]) PopFront() (value T, ok bool) {
	if l.front == arena.NoHandle {
		return value, false
	}

	value = l.node(l.front).value
	l.Remove(l.front)
	return value, true
}

// PopBack removes the last node and returns its value. ok is false if the list was empty.
func (l *IntrusiveList[T]) PopBack() (value T, ok bool) {
	if l.back == arena.NoHandle {
		return value, false
	}

	value = l.node(l.back).value
	l.Remove(l.back)
	return value, true
}

// Each calls fn for every node from front to back. Iteration stops early if fn returns false.
// fn may remove the node it is called with, but no other.
func (l *IntrusiveList[T]) Each(fn func(handle arena.Handle, value *T) bool) {
	for handle := l.front; handle != arena.NoHandle; {
		n := l.node(handle)
		next := n.next
		if !fn(handle, &n.value) {
			return
		}
		handle = next
	}
}

// Clear removes every node from the list. The node storage is kept for reuse until Collect or
// Destroy is called.
func (l *IntrusiveList[T]) Clear() {
	for l.front != arena.NoHandle {
		l.Remove(l.front)
	}
}

// Collect releases node storage that no longer holds any live nodes
func (l *IntrusiveList[T]) Collect() bool {
	return l.nodes.Collect()
}

// Destroy removes every node and releases all node storage
func (l *IntrusiveList[T]) Destroy() {
	l.nodes.Destroy()
	l.front = arena.NoHandle
	l.back = arena.NoHandle
	l.count = 0
}

// Validate checks that the forward and backward links of the list agree
func (l *IntrusiveList[T]) Validate() error {
	var count int
	prev := arena.NoHandle
	for handle := l.front; handle != arena.NoHandle; handle = l.nodes.Get(handle).next {
		if !l.nodes.Contains(handle) {
			return errors.Errorf("node %s is linked into the list but is not live", handle)
		}
		if l.nodes.Get(handle).prev != prev {
			return errors.Errorf("node %s links back to %s, but follows %s", handle, l.nodes.Get(handle).prev, prev)
		}
		prev = handle
		count++
		if count > l.nodes.Len() {
			return errors.Errorf("list contains a cycle")
		}
	}

	if prev != l.back {
		return errors.Errorf("list ends at %s, but the back of the list is %s", prev, l.back)
	}
	if count != l.count || count != l.nodes.Len() {
		return errors.Errorf("counted %d nodes, but the list expected %d and holds %d", count, l.count, l.nodes.Len())
	}

	return l.nodes.Validate()
}
