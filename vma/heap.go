package vma

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/memutils"
)

const freeListDegree = 16

type addressRange struct {
	start uint64
	size  uint64
}

func (r addressRange) end() uint64 {
	return r.start + r.size
}

func rangeLess(left, right addressRange) bool {
	return left.start < right.start
}

// heap manages the address space of a single zone. The free list is ordered by start
// address so that first-fit is a forward scan and coalescing only has to look at the
// two neighbours of a released range.
type heap struct {
	zone   Zone
	layout ZoneLayout

	free        *btree.BTreeG[addressRange]
	allocations *swiss.Map[uint64, uint64]

	freeBytes uint64
}

func newHeap(zone Zone, layout ZoneLayout) *heap {
	h := &heap{
		zone:        zone,
		layout:      layout,
		free:        btree.NewG[addressRange](freeListDegree, rangeLess),
		allocations: swiss.NewMap[uint64, uint64](64),
		freeBytes:   layout.Size,
	}
	h.free.ReplaceOrInsert(addressRange{start: layout.Start, size: layout.Size})

	return h
}

func (h *heap) roundSize(size uint64) uint64 {
	return memutils.AlignUp(size, h.layout.Alignment)
}

func (h *heap) alloc(size, alignment uint64) (uint64, error) {
	size = h.roundSize(size)
	alignment = memutils.Max(alignment, h.layout.Alignment)

	var found addressRange
	var address uint64
	var ok bool

	h.free.Ascend(func(candidate addressRange) bool {
		aligned := memutils.AlignUp(candidate.start, alignment)
		if aligned < candidate.start || aligned >= candidate.end() {
			return true
		}

		if candidate.end()-aligned < size {
			return true
		}

		found = candidate
		address = aligned
		ok = true
		return false
	})

	if !ok {
		return 0, errors.Wrapf(ErrExhausted, "zone %s has no free range of %#x bytes aligned to %#x (%#x bytes free)",
			h.zone, size, alignment, h.freeBytes)
	}

	h.free.Delete(found)

	if address > found.start {
		h.free.ReplaceOrInsert(addressRange{start: found.start, size: address - found.start})
	}

	if tail := address + size; tail < found.end() {
		h.free.ReplaceOrInsert(addressRange{start: tail, size: found.end() - tail})
	}

	h.allocations.Put(address, size)
	h.freeBytes -= size

	return address, nil
}

func (h *heap) release(address, size uint64) error {
	size = h.roundSize(size)

	allocatedSize, ok := h.allocations.Get(address)
	if !ok {
		return errors.Wrapf(ErrInvalidFree, "zone %s has no allocation at %#x", h.zone, address)
	}

	if allocatedSize != size {
		return errors.Wrapf(ErrInvalidFree, "zone %s allocation at %#x is %#x bytes, not %#x",
			h.zone, address, allocatedSize, size)
	}

	h.allocations.Delete(address)
	h.freeBytes += size

	released := addressRange{start: address, size: size}

	var previous addressRange
	var hasPrevious bool
	h.free.DescendLessOrEqual(released, func(item addressRange) bool {
		previous = item
		hasPrevious = true
		return false
	})

	if hasPrevious && previous.end() == released.start {
		h.free.Delete(previous)
		released.start = previous.start
		released.size += previous.size
	}

	var next addressRange
	var hasNext bool
	h.free.AscendGreaterOrEqual(addressRange{start: address}, func(item addressRange) bool {
		next = item
		hasNext = true
		return false
	})

	if hasNext && released.end() == next.start {
		h.free.Delete(next)
		released.size += next.size
	}

	h.free.ReplaceOrInsert(released)

	return nil
}

func (h *heap) addDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RangeCount++
	stats.RangeBytes += h.layout.Size

	h.allocations.Iter(func(_ uint64, size uint64) bool {
		stats.AddAllocation(size)
		return false
	})

	h.free.Ascend(func(item addressRange) bool {
		stats.AddFreeRange(item.size)
		return true
	})
}

func (h *heap) validate() error {
	var previousEnd uint64
	var hasPrevious bool
	var freeBytes uint64
	var err error

	h.free.Ascend(func(item addressRange) bool {
		if item.size == 0 {
			err = errors.Newf("zone %s has an empty free range at %#x", h.zone, item.start)
			return false
		}

		if !h.layout.Contains(item.start) || item.end() > h.layout.End() {
			err = errors.Newf("zone %s free range [%#x, %#x) escapes the zone", h.zone, item.start, item.end())
			return false
		}

		if hasPrevious && item.start <= previousEnd {
			if item.start < previousEnd {
				err = errors.Newf("zone %s free ranges overlap at %#x", h.zone, item.start)
			} else {
				err = errors.Newf("zone %s free ranges at %#x were not coalesced", h.zone, item.start)
			}
			return false
		}

		previousEnd = item.end()
		hasPrevious = true
		freeBytes += item.size
		return true
	})
	if err != nil {
		return err
	}

	var allocatedBytes uint64
	h.allocations.Iter(func(address uint64, size uint64) bool {
		if !h.layout.Contains(address) || address+size > h.layout.End() {
			err = errors.Newf("zone %s allocation [%#x, %#x) escapes the zone", h.zone, address, address+size)
			return true
		}

		h.free.DescendLessOrEqual(addressRange{start: address + size - 1}, func(item addressRange) bool {
			if item.end() > address {
				err = errors.Newf("zone %s allocation at %#x overlaps free range at %#x", h.zone, address, item.start)
			}
			return false
		})

		allocatedBytes += size
		return err != nil
	})
	if err != nil {
		return err
	}

	if freeBytes != h.freeBytes {
		return errors.Newf("zone %s free list holds %#x bytes but %#x were recorded", h.zone, freeBytes, h.freeBytes)
	}

	if freeBytes+allocatedBytes > h.layout.Size {
		return errors.Newf("zone %s accounts for %#x bytes but is only %#x bytes", h.zone, freeBytes+allocatedBytes, h.layout.Size)
	}

	return nil
}

func (h *heap) printJson(json *jwriter.ObjectState) {
	json.Name("Start").Float64(float64(h.layout.Start))
	json.Name("Size").Float64(float64(h.layout.Size))
	json.Name("Alignment").Float64(float64(h.layout.Alignment))

	var stats memutils.DetailedStatistics
	stats.Clear()
	h.addDetailedStatistics(&stats)
	stats.PrintJson(json)
}
