package allocator_test

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockalloc/allocator"
)

const fourMiB int = 4 * 1024 * 1024

// testBackend hands out string handles and tracks the memory it has been asked for
type testBackend struct {
	allocatedBlockMemory int
	liveBlocks           int
	liveRegions          int
	nextHandle           int
}

func (b *testBackend) AllocateBlock(userData any, block *allocator.MemoryBlock) error {
	b.nextHandle++
	block.Handle = fmt.Sprintf("block-%d", b.nextHandle)
	b.allocatedBlockMemory += block.Size
	b.liveBlocks++
	return nil
}

func (b *testBackend) FreeBlock(userData any, block *allocator.MemoryBlock) error {
	b.allocatedBlockMemory -= block.Size
	b.liveBlocks--
	return nil
}

func (b *testBackend) AllocateRegion(userData any, region *allocator.MemoryRegion) error {
	b.nextHandle++
	region.Handle = fmt.Sprintf("region-%d", b.nextHandle)
	b.liveRegions++
	return nil
}

func (b *testBackend) FreeRegion(userData any, region *allocator.MemoryRegion) error {
	if region.Handle == nil {
		return fmt.Errorf("freeing region at offset %d with no handle", region.Offset)
	}
	b.liveRegions--
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBlock(size int) *allocator.MemoryBlock {
	return &allocator.MemoryBlock{
		Handle:     "block",
		Size:       size,
		Properties: allocator.DefaultMemoryProperties(),
	}
}

func newTestRegionAllocator(t *testing.T, size int) (*allocator.RegionAllocator, *testBackend) {
	backend := &testBackend{}
	regions := allocator.NewRegionAllocator(testLogger(), newTestBlock(size), &allocator.Callbacks{
		Block:  backend,
		Region: backend,
	}, 0)
	require.NoError(t, regions.Validate())

	return regions, backend
}

func request(size int) allocator.MemoryRequest {
	return allocator.MemoryRequest{
		Size:       size,
		Properties: allocator.DefaultMemoryProperties(),
	}
}

type regionSpan struct {
	Offset int
	Size   int
	Status allocator.AllocationStatus
}

func regionSpans(t *testing.T, regions *allocator.RegionAllocator) []regionSpan {
	var spans []regionSpan
	require.NoError(t, regions.VisitAllRegions(func(region *allocator.MemoryRegion) error {
		spans = append(spans, regionSpan{Offset: region.Offset, Size: region.Size, Status: region.Status()})
		return nil
	}))
	return spans
}

// requireConsistent checks conservation and contiguity of every region in the block
func requireConsistent(t *testing.T, regions *allocator.RegionAllocator) {
	require.NoError(t, regions.Validate())

	var offset, total, reserved int
	for _, span := range regionSpans(t, regions) {
		require.Equal(t, offset, span.Offset)
		offset += span.Size
		total += span.Size
		if span.Status != allocator.AllocationStatusAvailable {
			reserved += span.Size
		}
	}

	require.Equal(t, regions.Block().Size, total)
	require.Equal(t, regions.Block().Reserved(), reserved)
}
