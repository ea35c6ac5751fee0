package arena_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockalloc/memutils"
	"github.com/vkngwrapper/blockalloc/memutils/arena"
)

type testObject struct {
	id    int
	label string
}

func TestArenaReserveReclaim(t *testing.T) {
	objects := arena.New[testObject](nil, arena.Config{InitialCapacity: 4})

	handles := make([]arena.Handle, 0, 4)
	pointers := make([]*testObject, 0, 4)
	for i := 0; i < 4; i++ {
		handle, object := objects.Reserve()
		object.id = i
		handles = append(handles, handle)
		pointers = append(pointers, object)
	}

	require.Equal(t, 4, objects.Len())
	require.Equal(t, 1, objects.BlockCount())
	require.Equal(t, 4, objects.Capacity())
	require.NoError(t, objects.Validate())

	for i, handle := range handles {
		require.Same(t, pointers[i], objects.Get(handle))
		require.Equal(t, i, objects.Get(handle).id)
	}

	objects.Reclaim(handles[1])
	require.Equal(t, 3, objects.Len())
	require.False(t, objects.Contains(handles[1]))
	require.NoError(t, objects.Validate())

	// The freed slot is reused and comes back zeroed
	handle, object := objects.Reserve()
	require.Equal(t, handles[1], handle)
	require.Same(t, pointers[1], object)
	require.Equal(t, testObject{}, *object)
	require.Equal(t, 1, objects.BlockCount())
}

func TestArenaGrowth(t *testing.T) {
	objects := arena.New[testObject](nil, arena.Config{InitialCapacity: 4})

	first, firstObject := objects.Reserve()
	firstObject.label = "first"

	for i := 0; i < 3; i++ {
		objects.Reserve()
	}
	require.Equal(t, 1, objects.BlockCount())

	objects.Reserve()
	require.Equal(t, 2, objects.BlockCount())
	require.Equal(t, 10, objects.Capacity())

	for i := 0; i < 6; i++ {
		objects.Reserve()
	}
	require.Equal(t, 3, objects.BlockCount())
	require.Equal(t, 19, objects.Capacity())

	// Growing never moves a live object
	require.Same(t, firstObject, objects.Get(first))
	require.Equal(t, "first", objects.Get(first).label)
	require.NoError(t, objects.Validate())
}

func TestArenaMaximumCapacity(t *testing.T) {
	objects := arena.New[int](nil, arena.Config{InitialCapacity: 4, MaximumCapacity: 5})

	for i := 0; i < 14; i++ {
		objects.Reserve()
	}

	require.Equal(t, 3, objects.BlockCount())
	require.Equal(t, 14, objects.Capacity())
}

func TestArenaLookup(t *testing.T) {
	objects := arena.New[testObject](nil, arena.Config{InitialCapacity: 2})

	var handles []arena.Handle
	var pointers []*testObject
	for i := 0; i < 5; i++ {
		handle, object := objects.Reserve()
		handles = append(handles, handle)
		pointers = append(pointers, object)
	}

	for i, object := range pointers {
		handle, ok := objects.Lookup(object)
		require.True(t, ok)
		require.Equal(t, handles[i], handle)
	}

	outside := &testObject{}
	_, ok := objects.Lookup(outside)
	require.False(t, ok)
	_, ok = objects.Lookup(nil)
	require.False(t, ok)

	objects.ReclaimPointer(pointers[3])
	_, ok = objects.Lookup(pointers[3])
	require.False(t, ok)
	require.Equal(t, 4, objects.Len())

	require.Panics(t, func() {
		objects.ReclaimPointer(pointers[3])
	})
	require.Panics(t, func() {
		objects.ReclaimPointer(outside)
	})
}

func TestArenaInvalidHandles(t *testing.T) {
	objects := arena.New[int](nil, arena.Config{})

	require.Panics(t, func() { objects.Get(arena.NoHandle) })
	require.Panics(t, func() { objects.Reclaim(arena.NoHandle) })

	handle, _ := objects.Reserve()
	objects.Reclaim(handle)
	require.Panics(t, func() { objects.Reclaim(handle) })
	require.Panics(t, func() { objects.Get(handle) })
}

func TestArenaCollect(t *testing.T) {
	objects := arena.New[testObject](nil, arena.Config{InitialCapacity: 2})

	var handles []arena.Handle
	for i := 0; i < 5; i++ {
		handle, object := objects.Reserve()
		object.id = i
		handles = append(handles, handle)
	}
	require.Equal(t, 2, objects.BlockCount())
	require.Equal(t, 5, objects.Capacity())

	require.False(t, objects.Collect())

	// Empty the first block, leaving the second live
	objects.Reclaim(handles[0])
	objects.Reclaim(handles[1])
	require.True(t, objects.Collect())
	require.False(t, objects.Collect())
	require.Equal(t, 1, objects.BlockCount())
	require.Equal(t, 3, objects.Capacity())
	require.NoError(t, objects.Validate())

	// Handles into surviving blocks are unaffected
	for i := 2; i < 5; i++ {
		require.Equal(t, i, objects.Get(handles[i]).id)
	}

	for i := 2; i < 5; i++ {
		objects.Reclaim(handles[i])
	}
	require.True(t, objects.Collect())
	require.Equal(t, 0, objects.BlockCount())
	require.Equal(t, 0, objects.Capacity())
	require.Equal(t, 0, objects.Len())
	require.NoError(t, objects.Validate())
}

func TestArenaInitializerDestructor(t *testing.T) {
	objects := arena.New[testObject](nil, arena.Config{})

	var destroyed []int
	objects.SetInitializer(func(value *testObject) {
		value.label = "initialized"
	})
	objects.SetDestructor(func(value *testObject) {
		destroyed = append(destroyed, value.id)
	})

	first, object := objects.Reserve()
	require.Equal(t, "initialized", object.label)
	object.id = 1

	_, object = objects.Reserve()
	object.id = 2

	objects.Reclaim(first)
	require.Equal(t, []int{1}, destroyed)

	objects.Destroy()
	require.Equal(t, []int{1, 2}, destroyed)
	require.Equal(t, 0, objects.Len())
	require.Equal(t, 0, objects.BlockCount())
}

func TestArenaEach(t *testing.T) {
	objects := arena.New[int](nil, arena.Config{InitialCapacity: 2})

	for i := 0; i < 5; i++ {
		_, value := objects.Reserve()
		*value = i
	}

	var seen []int
	objects.Each(func(handle arena.Handle, value *int) bool {
		seen = append(seen, *value)
		return true
	})
	require.Equal(t, []int{0, 1, 2, 3, 4}, seen)

	seen = nil
	objects.Each(func(handle arena.Handle, value *int) bool {
		seen = append(seen, *value)
		return len(seen) < 2
	})
	require.Equal(t, []int{0, 1}, seen)
}

func TestArenaHostMemory(t *testing.T) {
	var outstanding int
	host := memutils.NewHostAllocator(memutils.HostMemoryFuncs{
		Allocate: func(userData any, size int) error {
			outstanding += size
			return nil
		},
		Free: func(userData any, size int) {
			outstanding -= size
		},
	}, nil)

	objects := arena.New[int64](host, arena.Config{InitialCapacity: 4})
	handle, _ := objects.Reserve()
	require.Greater(t, outstanding, 0)

	objects.Reclaim(handle)
	objects.Collect()
	objects.Destroy()
	require.Equal(t, 0, outstanding)
	require.Equal(t, 0, host.AllocationCount())
}
