package memutils

import "math"

// Statistics holds running totals for a set of blocks and the regions reserved from them
type Statistics struct {
	// BlockCount is the number of blocks being tracked
	BlockCount int
	// RegionCount is the number of reserved (in-use or dedicated) regions within those blocks
	RegionCount int
	// BlockBytes is the combined size in bytes of all tracked blocks
	BlockBytes int
	// RegionBytes is the combined size in bytes of all reserved regions
	RegionBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.RegionCount = 0
	s.BlockBytes = 0
	s.RegionBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.RegionCount += other.RegionCount
	s.BlockBytes += other.BlockBytes
	s.RegionBytes += other.RegionBytes
}

// DetailedStatistics extends Statistics with counts and size bounds of reserved and available regions.
// Call Clear before accumulating into a fresh value, since the minimums start at math.MaxInt.
type DetailedStatistics struct {
	Statistics
	AvailableRegionCount   int
	RegionSizeMin          int
	RegionSizeMax          int
	AvailableRegionSizeMin int
	AvailableRegionSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.AvailableRegionCount = 0
	s.RegionSizeMin = math.MaxInt
	s.RegionSizeMax = 0
	s.AvailableRegionSizeMin = math.MaxInt
	s.AvailableRegionSizeMax = 0
}

func (s *DetailedStatistics) AddAvailableRegion(size int) {
	s.AvailableRegionCount++

	if size < s.AvailableRegionSizeMin {
		s.AvailableRegionSizeMin = size
	}

	if size > s.AvailableRegionSizeMax {
		s.AvailableRegionSizeMax = size
	}
}

func (s *DetailedStatistics) AddRegion(size int) {
	s.RegionCount++
	s.RegionBytes += size

	if size < s.RegionSizeMin {
		s.RegionSizeMin = size
	}

	if size > s.RegionSizeMax {
		s.RegionSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.AvailableRegionCount += other.AvailableRegionCount

	if other.AvailableRegionSizeMin < s.AvailableRegionSizeMin {
		s.AvailableRegionSizeMin = other.AvailableRegionSizeMin
	}

	if other.AvailableRegionSizeMax > s.AvailableRegionSizeMax {
		s.AvailableRegionSizeMax = other.AvailableRegionSizeMax
	}

	if other.RegionSizeMin < s.RegionSizeMin {
		s.RegionSizeMin = other.RegionSizeMin
	}

	if other.RegionSizeMax > s.RegionSizeMax {
		s.RegionSizeMax = other.RegionSizeMax
	}
}
