package allocator_test

import (
	"bytes"
	"log/slog"
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockalloc/allocator"
	mock_allocator "github.com/vkngwrapper/blockalloc/allocator/mocks"
	"github.com/vkngwrapper/blockalloc/memutils"
	"go.uber.org/mock/gomock"
)

func newTestBlockAllocator(t *testing.T, config allocator.Config) (*allocator.BlockAllocator, *testBackend) {
	backend := &testBackend{}
	blocks, err := allocator.New(testLogger(), allocator.Callbacks{
		Block:  backend,
		Region: backend,
	}, config)
	require.NoError(t, err)

	return blocks, backend
}

func TestBlockMinimumBlockSize(t *testing.T) {
	blocks, backend := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	region, err := blocks.Reserve(request(4))
	require.NoError(t, err)
	require.NotNil(t, region)

	require.Equal(t, 1, blocks.BlockCount())
	require.Equal(t, 1024, backend.allocatedBlockMemory)
	require.Equal(t, 1024, blocks.PoolSize())
	require.Equal(t, 4, blocks.ReservedBytes())
	require.Equal(t, 1024, region.Block().Size)
	require.NoError(t, blocks.Validate())

	require.NoError(t, blocks.Destroy())
	require.Equal(t, 0, backend.allocatedBlockMemory)
}

func TestBlockReuseAndGrowth(t *testing.T) {
	blocks, backend := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	first, err := blocks.Reserve(request(1000))
	require.NoError(t, err)
	second, err := blocks.Reserve(request(24))
	require.NoError(t, err)
	require.Same(t, first.Block(), second.Block())
	require.Equal(t, 1, blocks.BlockCount())

	third, err := blocks.Reserve(request(100))
	require.NoError(t, err)
	require.NotSame(t, first.Block(), third.Block())
	require.Equal(t, 2, blocks.BlockCount())

	large, err := blocks.Reserve(request(3000))
	require.NoError(t, err)
	require.Equal(t, 3000, large.Block().Size)
	require.Equal(t, 3, blocks.BlockCount())
	require.Equal(t, 1024+1024+3000, backend.allocatedBlockMemory)

	require.Same(t, first.Block(), blocks.Front())
	require.Same(t, large.Block(), blocks.Back())
	require.Same(t, third.Block(), blocks.LookupBlock(third.Block().ID()))
	require.Nil(t, blocks.LookupBlock(100))
	require.NoError(t, blocks.Validate())
}

func TestBlockFragmentation(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	a, err := blocks.Reserve(request(400))
	require.NoError(t, err)
	_, err = blocks.Reserve(request(400))
	require.NoError(t, err)
	c, err := blocks.Reserve(request(224))
	require.NoError(t, err)
	require.Equal(t, 1, blocks.BlockCount())

	require.NoError(t, blocks.Reclaim(a))
	require.NoError(t, blocks.Reclaim(c))
	require.Equal(t, 624, blocks.Front().Unreserved())

	// 624 bytes are free in the first block, but no single region holds 500
	region, err := blocks.Reserve(request(500))
	require.NoError(t, err)
	require.Equal(t, 2, blocks.BlockCount())
	require.Same(t, blocks.Back(), region.Block())
	require.NoError(t, blocks.Validate())
}

func TestBlockLimits(t *testing.T) {
	t.Run("MaximumBlockCount", func(t *testing.T) {
		blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024, MaximumBlockCount: 1})

		_, err := blocks.Reserve(request(1024))
		require.NoError(t, err)

		region, err := blocks.Reserve(request(4))
		require.Nil(t, region)
		require.True(t, errors.Is(err, allocator.ErrOutOfDeviceMemory))
		require.Equal(t, 1, blocks.BlockCount())
	})

	t.Run("MaximumBlockSize", func(t *testing.T) {
		blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024, MaximumBlockSize: 2048})

		_, err := blocks.Reserve(request(2048))
		require.NoError(t, err)

		_, err = blocks.Reserve(request(4096))
		require.True(t, errors.Is(err, allocator.ErrOutOfDeviceMemory))
		require.Equal(t, 1, blocks.BlockCount())
	})

	t.Run("MaximumPoolSize", func(t *testing.T) {
		blocks, backend := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024, MaximumPoolSize: 1536})

		_, err := blocks.Reserve(request(1024))
		require.NoError(t, err)

		_, err = blocks.Reserve(request(4))
		require.True(t, errors.Is(err, allocator.ErrOutOfDeviceMemory))
		require.Equal(t, 1024, backend.allocatedBlockMemory)
	})

	t.Run("NearestMultiple", func(t *testing.T) {
		blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1000, NearestMultiple: 256})

		region, err := blocks.Reserve(request(4))
		require.NoError(t, err)
		require.Equal(t, 1024, region.Block().Size)
	})
}

func TestBlockCallbackFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	blockCallbacks := mock_allocator.NewMockBlockCallbacks(ctrl)
	regionCallbacks := mock_allocator.NewMockRegionCallbacks(ctrl)

	blocks, err := allocator.New(testLogger(), allocator.Callbacks{
		Block:    blockCallbacks,
		Region:   regionCallbacks,
		UserData: "user",
	}, allocator.Config{MinimumBlockSize: 1024})
	require.NoError(t, err)

	blockCallbacks.EXPECT().AllocateBlock("user", gomock.Any()).Return(errors.New("device lost")).Times(1)

	region, err := blocks.Reserve(request(4))
	require.Nil(t, region)
	require.True(t, errors.Is(err, allocator.ErrBlockAllocationFailed))
	require.Contains(t, err.Error(), "device lost")
	require.Equal(t, 0, blocks.BlockCount())
	require.Equal(t, 0, blocks.PoolSize())

	// A region failure in a fresh block frees the block again
	gomock.InOrder(
		blockCallbacks.EXPECT().AllocateBlock("user", gomock.Any()).DoAndReturn(func(userData any, block *allocator.MemoryBlock) error {
			require.Equal(t, 1024, block.Size)
			block.Handle = "memory"
			return nil
		}),
		regionCallbacks.EXPECT().AllocateRegion("user", gomock.Any()).Return(errors.New("bind failed")),
		blockCallbacks.EXPECT().FreeBlock("user", gomock.Any()).DoAndReturn(func(userData any, block *allocator.MemoryBlock) error {
			require.Equal(t, "memory", block.Handle)
			return nil
		}),
	)

	region, err = blocks.Reserve(request(4))
	require.Nil(t, region)
	require.True(t, errors.Is(err, allocator.ErrRegionAllocationFailed))
	require.Equal(t, 0, blocks.BlockCount())
	require.NoError(t, blocks.Validate())

	require.NoError(t, blocks.Destroy())
}

func TestBlockCollect(t *testing.T) {
	blocks, backend := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	first, err := blocks.Reserve(request(1024))
	require.NoError(t, err)
	second, err := blocks.Reserve(request(512))
	require.NoError(t, err)
	third, err := blocks.Reserve(request(512))
	require.NoError(t, err)
	require.Equal(t, 2, blocks.BlockCount())
	require.False(t, blocks.Collect())

	require.NoError(t, blocks.Reclaim(first))
	require.True(t, blocks.Collect())
	require.False(t, blocks.Collect())
	require.Equal(t, 1, blocks.BlockCount())
	require.Equal(t, 1, backend.liveBlocks)
	require.Equal(t, 1024, blocks.PoolSize())
	require.NoError(t, blocks.Validate())

	// Released regions are merged by Collect before their block is checked for emptiness
	_, err = blocks.Release(second)
	require.NoError(t, err)
	blocks.Retain(third)
	available, err := blocks.Release(third)
	require.NoError(t, err)
	require.False(t, available)
	available, err = blocks.Release(third)
	require.NoError(t, err)
	require.True(t, available)

	require.True(t, blocks.Collect())
	require.Equal(t, 0, blocks.BlockCount())
	require.Equal(t, 0, backend.liveBlocks)
	require.Equal(t, 0, backend.liveRegions)
	require.Nil(t, blocks.Front())
	require.Nil(t, blocks.Back())

	region, err := blocks.Reserve(request(4))
	require.NoError(t, err)
	require.Equal(t, 1, blocks.BlockCount())
	require.NotNil(t, region.Block())
	require.NoError(t, blocks.Validate())
}

func TestBlockCollectFreeFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var logs bytes.Buffer
	backend := &testBackend{}
	blockCallbacks := mock_allocator.NewMockBlockCallbacks(ctrl)
	blocks, err := allocator.New(slog.New(slog.NewTextHandler(&logs, nil)), allocator.Callbacks{
		Block:  blockCallbacks,
		Region: backend,
	}, allocator.Config{MinimumBlockSize: 1024})
	require.NoError(t, err)

	blockCallbacks.EXPECT().AllocateBlock(nil, gomock.Any()).DoAndReturn(func(userData any, block *allocator.MemoryBlock) error {
		block.Handle = "memory"
		return nil
	})
	blockCallbacks.EXPECT().FreeBlock(nil, gomock.Any()).Return(errors.New("device lost"))

	region, err := blocks.Reserve(request(4))
	require.NoError(t, err)
	require.NoError(t, blocks.Reclaim(region))

	require.True(t, blocks.Collect())
	require.Equal(t, 0, blocks.BlockCount())
	require.Equal(t, 0, blocks.PoolSize())
	require.Contains(t, logs.String(), "failed to free an empty block")
	require.Contains(t, logs.String(), "device lost")
	require.NoError(t, blocks.Validate())
}

func TestBlockDedicated(t *testing.T) {
	blocks, backend := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	shared, err := blocks.Reserve(request(16))
	require.NoError(t, err)

	req := request(100)
	req.Dedicated = true
	dedicated, err := blocks.Reserve(req)
	require.NoError(t, err)
	require.Equal(t, allocator.AllocationStatusDedicated, dedicated.Status())
	require.True(t, dedicated.Block().Dedicated)
	require.Equal(t, 100, dedicated.Block().Size)
	require.NotSame(t, shared.Block(), dedicated.Block())

	other, err := blocks.Reserve(req)
	require.NoError(t, err)
	require.NotSame(t, dedicated.Block(), other.Block())

	// Shared requests never land in a dedicated block
	_, err = blocks.Reserve(request(16))
	require.NoError(t, err)
	require.Equal(t, 3, blocks.BlockCount())
	require.Equal(t, 1024+100+100, backend.allocatedBlockMemory)

	require.NoError(t, blocks.Reclaim(dedicated))
	require.True(t, blocks.Collect())
	require.Equal(t, 2, blocks.BlockCount())
	require.NoError(t, blocks.Validate())
}

func TestBlockProperties(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	hostReq := request(16)
	hostReq.Properties.Visibility = allocator.MemoryVisibilityHostOnly
	host, err := blocks.Reserve(hostReq)
	require.NoError(t, err)

	deviceReq := request(16)
	deviceReq.Properties.Visibility = allocator.MemoryVisibilityDeviceOnly
	device, err := blocks.Reserve(deviceReq)
	require.NoError(t, err)
	require.NotSame(t, host.Block(), device.Block())

	again, err := blocks.Reserve(hostReq)
	require.NoError(t, err)
	require.Same(t, host.Block(), again.Block())
	require.Equal(t, allocator.MemoryVisibilityHostOnly, again.Properties.Visibility)
	require.Equal(t, 2, blocks.BlockCount())
}

func TestBlockConform(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumAlignment: 8})

	req := request(5)
	require.NoError(t, blocks.Conform(&req))
	require.Equal(t, uint(8), req.Alignment)
	require.Equal(t, 8, req.Size)

	req = request(5)
	req.Properties.NearestMultiple = 12
	require.NoError(t, blocks.Conform(&req))
	require.Equal(t, 16, req.Size)

	req = request(5)
	req.Alignment = 24
	require.True(t, errors.Is(blocks.Conform(&req), memutils.PowerOfTwoError))

	region, err := blocks.Reserve(request(5))
	require.NoError(t, err)
	require.Equal(t, 8, region.Size)
	require.Equal(t, 0, region.Offset%8)
}

func TestBlockInvalidReclaim(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})
	other, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	foreign, err := other.Reserve(request(16))
	require.NoError(t, err)
	require.False(t, blocks.Owns(foreign))
	require.True(t, other.Owns(foreign))
	require.Panics(t, func() { _ = blocks.Reclaim(foreign) })
	require.Panics(t, func() { _ = blocks.Reclaim(nil) })

	region, err := blocks.Reserve(request(16))
	require.NoError(t, err)
	require.NoError(t, blocks.Reclaim(region))
	require.Panics(t, func() { _ = blocks.Reclaim(region) })
}

func TestBlockDestroy(t *testing.T) {
	var logs bytes.Buffer
	backend := &testBackend{}
	host := memutils.NewHostAllocator(nil, nil)
	blocks, err := allocator.New(slog.New(slog.NewTextHandler(&logs, nil)), allocator.Callbacks{
		Host:   host,
		Block:  backend,
		Region: backend,
	}, allocator.Config{MinimumBlockSize: 1024})
	require.NoError(t, err)

	_, err = blocks.Reserve(request(16))
	require.NoError(t, err)
	_, err = blocks.Reserve(request(2048))
	require.NoError(t, err)
	require.Greater(t, host.AllocatedBytes(), 0)

	err = blocks.Destroy()
	require.Error(t, err)
	require.Contains(t, logs.String(), "[UNRELEASED MEMORY]")
	require.Equal(t, 0, backend.liveBlocks)
	require.Equal(t, 0, backend.liveRegions)
	require.Equal(t, 0, backend.allocatedBlockMemory)
	require.Equal(t, 0, host.AllocatedBytes())
	require.Equal(t, 0, host.AllocationCount())

	require.Panics(t, func() { _, _ = blocks.Reserve(request(16)) })
	require.Panics(t, func() { blocks.Collect() })
}

func TestBlockStatistics(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	_, err := blocks.Reserve(request(100))
	require.NoError(t, err)
	_, err = blocks.Reserve(request(2000))
	require.NoError(t, err)

	var stats memutils.DetailedStatistics
	blocks.CalculateStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:  2,
			RegionCount: 2,
			BlockBytes:  3024,
			RegionBytes: 2100,
		},
		AvailableRegionCount:   1,
		RegionSizeMin:          100,
		RegionSizeMax:          2000,
		AvailableRegionSizeMin: 924,
		AvailableRegionSizeMax: 924,
	}, stats)

	require.Equal(t, memutils.Statistics{
		BlockCount:  2,
		RegionCount: 2,
		BlockBytes:  3024,
		RegionBytes: 2100,
	}, blocks.Statistics())
}

func TestBlockEmptyStatistics(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{})

	var stats memutils.DetailedStatistics
	blocks.CalculateStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		RegionSizeMin:          math.MaxInt,
		AvailableRegionSizeMin: math.MaxInt,
	}, stats)
}

func TestBlockBuildStatsString(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	_, err := blocks.Reserve(request(4))
	require.NoError(t, err)

	require.JSONEq(t, `{
		"Total": {
			"BlockCount": 1,
			"RegionCount": 1,
			"AvailableRegionCount": 1,
			"BlockBytes": 1024,
			"RegionBytes": 4,
			"UnusedBytes": 1020,
			"RegionSizeMin": 4,
			"RegionSizeMax": 4,
			"AvailableRegionSizeMin": 1020,
			"AvailableRegionSizeMax": 1020
		},
		"Config": {
			"MinimumBlockSize": 1024,
			"MaximumBlockSize": 0,
			"MaximumBlockCount": 0,
			"MaximumPoolSize": 0
		},
		"Blocks": {
			"0": {
				"TotalBytes": 1024,
				"UnusedBytes": 1020,
				"ReservedRegions": 1,
				"UnusedRanges": 1,
				"Dedicated": false,
				"Properties": "Default|Default|Default"
			}
		}
	}`, blocks.BuildStatsString(false))

	require.JSONEq(t, `{
		"Total": {
			"BlockCount": 1,
			"RegionCount": 1,
			"AvailableRegionCount": 1,
			"BlockBytes": 1024,
			"RegionBytes": 4,
			"UnusedBytes": 1020,
			"RegionSizeMin": 4,
			"RegionSizeMax": 4,
			"AvailableRegionSizeMin": 1020,
			"AvailableRegionSizeMax": 1020
		},
		"Config": {
			"MinimumBlockSize": 1024,
			"MaximumBlockSize": 0,
			"MaximumBlockCount": 0,
			"MaximumPoolSize": 0
		},
		"Blocks": {
			"0": {
				"TotalBytes": 1024,
				"UnusedBytes": 1020,
				"ReservedRegions": 1,
				"UnusedRanges": 1,
				"Dedicated": false,
				"Properties": "Default|Default|Default",
				"Regions": [
					{"Offset": 0, "Size": 4, "Type": "InUse", "UsageCount": 1, "Handle": "region-2"},
					{"Offset": 4, "Size": 1020, "Type": "Available"}
				]
			}
		}
	}`, blocks.BuildStatsString(true))
}

func TestBlockVisit(t *testing.T) {
	blocks, _ := newTestBlockAllocator(t, allocator.Config{MinimumBlockSize: 1024})

	_, err := blocks.Reserve(request(1024))
	require.NoError(t, err)
	_, err = blocks.Reserve(request(1024))
	require.NoError(t, err)

	var ids []int
	require.NoError(t, blocks.VisitBlocks(func(block *allocator.MemoryBlock) error {
		ids = append(ids, block.ID())
		require.Same(t, block, block.RegionAllocator().Block())
		return nil
	}))
	require.Equal(t, []int{0, 1}, ids)

	stop := errors.New("stop")
	err = blocks.VisitBlocks(func(block *allocator.MemoryBlock) error {
		return stop
	})
	require.True(t, errors.Is(err, stop))
}

func TestNewValidation(t *testing.T) {
	backend := &testBackend{}
	callbacks := allocator.Callbacks{Block: backend, Region: backend}

	_, err := allocator.New(nil, callbacks, allocator.Config{MinimumAlignment: 3})
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	_, err = allocator.New(nil, callbacks, allocator.Config{MinimumBlockSize: 4096, MaximumBlockSize: 1024})
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	_, err = allocator.New(nil, callbacks, allocator.Config{MaximumBlockCount: -1})
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	_, err = allocator.New(nil, allocator.Callbacks{Region: backend}, allocator.Config{})
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	blocks, err := allocator.New(nil, callbacks, allocator.Config{MaximumBlockSize: 1024})
	require.NoError(t, err)
	require.Equal(t, 1024, blocks.Config().MinimumBlockSize)

	blocks, err = allocator.New(nil, callbacks, allocator.Config{})
	require.NoError(t, err)
	require.Equal(t, allocator.DefaultConfig(), blocks.Config())
}

func TestParseConfig(t *testing.T) {
	config, err := allocator.ParseConfig("MinimumBlockSize=1024:maximumblockcount=0x8::MinimumAlignment = 16")
	require.NoError(t, err)
	require.Equal(t, allocator.Config{
		MinimumBlockSize:  1024,
		MaximumBlockCount: 8,
		MinimumAlignment:  16,
	}, config)

	config, err = allocator.ParseConfig("")
	require.NoError(t, err)
	require.Equal(t, allocator.Config{}, config)

	_, err = allocator.ParseConfig("MinimumBlockSize")
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	_, err = allocator.ParseConfig("MaximumLatency=4")
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))

	_, err = allocator.ParseConfig("MaximumPoolSize=-4")
	require.True(t, errors.Is(err, allocator.ErrInvalidConfig))
}

func TestBlockCallbacksFuncs(t *testing.T) {
	var allocated, freed int
	blocks, err := allocator.New(testLogger(), allocator.Callbacks{
		Block: allocator.BlockFuncs{
			Allocate: func(userData any, block *allocator.MemoryBlock) error {
				allocated += block.Size
				block.Handle = allocated
				return nil
			},
			Free: func(userData any, block *allocator.MemoryBlock) error {
				freed += block.Size
				return nil
			},
		},
		Region: allocator.RegionFuncs{
			Allocate: func(userData any, region *allocator.MemoryRegion) error {
				region.Handle = region.Offset + 1
				return nil
			},
		},
	}, allocator.Config{MinimumBlockSize: 256})
	require.NoError(t, err)

	region, err := blocks.Reserve(request(10))
	require.NoError(t, err)
	require.Equal(t, 1, region.Handle)
	require.NoError(t, blocks.Reclaim(region))
	require.True(t, blocks.Collect())
	require.Equal(t, 256, allocated)
	require.Equal(t, 256, freed)
}
