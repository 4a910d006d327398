package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarizes how much of one or more address ranges is handed out
type Statistics struct {
	RangeCount      int
	AllocationCount int
	RangeBytes      uint64
	AllocationBytes uint64
}

func (s *Statistics) Clear() {
	s.RangeCount = 0
	s.AllocationCount = 0
	s.RangeBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RangeCount += other.RangeCount
	s.AllocationCount += other.AllocationCount
	s.RangeBytes += other.RangeBytes
	s.AllocationBytes += other.AllocationBytes
}

// DetailedStatistics extends Statistics with size extremes for allocations and free ranges.
// Call Clear before accumulating into a fresh value, the minimums start at math.MaxUint64.
type DetailedStatistics struct {
	Statistics
	FreeRangeCount    int
	AllocationSizeMin uint64
	AllocationSizeMax uint64
	FreeRangeSizeMin  uint64
	FreeRangeSizeMax  uint64
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRangeCount = 0
	s.AllocationSizeMin = math.MaxUint64
	s.AllocationSizeMax = 0
	s.FreeRangeSizeMin = math.MaxUint64
	s.FreeRangeSizeMax = 0
}

func (s *DetailedStatistics) AddFreeRange(size uint64) {
	s.FreeRangeCount++

	if size < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = size
	}

	if size > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size uint64) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRangeCount += other.FreeRangeCount

	if other.FreeRangeSizeMin < s.FreeRangeSizeMin {
		s.FreeRangeSizeMin = other.FreeRangeSizeMin
	}

	if other.FreeRangeSizeMax > s.FreeRangeSizeMax {
		s.FreeRangeSizeMax = other.FreeRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// PrintJson writes the statistics as members of an already-open JSON object. Extremes that were
// never set are omitted.
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("Ranges").Int(s.RangeCount)
	json.Name("Allocations").Int(s.AllocationCount)
	json.Name("TotalBytes").Float64(float64(s.RangeBytes))
	json.Name("AllocatedBytes").Float64(float64(s.AllocationBytes))
	json.Name("FreeRanges").Int(s.FreeRangeCount)

	if s.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Float64(float64(s.AllocationSizeMin))
		json.Name("AllocationSizeMax").Float64(float64(s.AllocationSizeMax))
	}

	if s.FreeRangeCount > 0 {
		json.Name("FreeRangeSizeMin").Float64(float64(s.FreeRangeSizeMin))
		json.Name("FreeRangeSizeMax").Float64(float64(s.FreeRangeSizeMax))
	}
}
