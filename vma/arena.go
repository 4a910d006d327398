package vma

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/memutils"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating an Arena
type CreateOptions struct {
	// Layout overrides the zone geometry. The zero value selects DefaultLayout.
	Layout *Layout
	// ExternallySynchronized disables the arena lock. The consumer must guarantee the
	// arena is only used from one goroutine at a time.
	ExternallySynchronized bool
}

// Arena hands out non-overlapping virtual address ranges from each zone. A single
// lock guards every zone.
type Arena struct {
	logger *slog.Logger
	mutex  utils.OptionalMutex
	layout Layout
	heaps  [zoneCount]*heap
}

// New creates an Arena for the provided layout
func New(logger *slog.Logger, options CreateOptions) (*Arena, error) {
	logger = utils.LoggerOrDiscard(logger)

	layout := DefaultLayout
	if options.Layout != nil {
		layout = *options.Layout
	}

	err := validateLayout(layout)
	if err != nil {
		return nil, err
	}

	arena := &Arena{
		logger: logger,
		mutex:  utils.OptionalMutex{UseMutex: !options.ExternallySynchronized},
		layout: layout,
	}

	for _, zone := range Zones() {
		arena.heaps[zone] = newHeap(zone, layout[zone])
	}

	return arena, nil
}

func validateLayout(layout Layout) error {
	var previousEnd uint64
	for _, zone := range Zones() {
		l := layout[zone]

		err := memutils.CheckPow2(l.Alignment, zone.String()+" alignment")
		if err != nil {
			return errors.Mark(err, ErrInvalidLayout)
		}

		if l.Size == 0 || !memutils.IsAligned(l.Start, l.Alignment) || !memutils.IsAligned(l.Size, l.Alignment) {
			return errors.Wrapf(ErrInvalidLayout, "zone %s [%#x, +%#x) is empty or not aligned to %#x",
				zone, l.Start, l.Size, l.Alignment)
		}

		if l.Start < previousEnd {
			return errors.Wrapf(ErrInvalidLayout, "zone %s starts at %#x, inside the previous zone", zone, l.Start)
		}

		if l.End() > AddressLimit || l.End() < l.Start {
			return errors.Wrapf(ErrInvalidLayout, "zone %s ends at %#x, past the %#x address limit", zone, l.End(), AddressLimit)
		}

		previousEnd = l.End()
	}

	return nil
}

// Layout returns the geometry of the zone
func (a *Arena) Layout(zone Zone) ZoneLayout {
	return a.layout[zone]
}

// AlignedSize returns the number of bytes Alloc will actually reserve for a request of size bytes
func (a *Arena) AlignedSize(zone Zone, size uint64) uint64 {
	return memutils.AlignUp(size, a.layout[zone].Alignment)
}

// ZoneOf returns the zone containing address
func (a *Arena) ZoneOf(address uint64) (Zone, bool) {
	for _, zone := range Zones() {
		if a.layout[zone].Contains(address) {
			return zone, true
		}
	}

	return 0, false
}

// Alloc reserves size bytes from zone using first-fit. The size is rounded up to the zone
// alignment, and the returned address is aligned to the larger of alignment and the zone
// alignment. Alignment must be zero or a power of two.
func (a *Arena) Alloc(zone Zone, size, alignment uint64) (uint64, error) {
	if !zone.Valid() {
		return 0, errors.Wrapf(ErrInvalidZone, "%s", zone)
	}

	if size == 0 {
		return 0, errors.New("cannot allocate an empty range")
	}

	if alignment == 0 {
		alignment = DefaultAlignment
	}

	err := memutils.CheckPow2(alignment, "alignment")
	if err != nil {
		return 0, err
	}

	if size > a.layout[zone].Size {
		return 0, errors.Wrapf(ErrExhausted, "zone %s is %#x bytes, %#x were requested", zone, a.layout[zone].Size, size)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	address, err := a.heaps[zone].alloc(size, alignment)
	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelWarn, "Arena::Alloc failed",
			slog.String("zone", zone.String()),
			slog.Uint64("size", size),
			slog.Uint64("alignment", alignment),
		)
		return 0, err
	}

	memutils.DebugValidate(a.heaps[zone])

	return address, nil
}

// Free returns a range previously reserved by Alloc. The size must match the one passed to
// Alloc before rounding or after. The range is merged with adjacent free ranges.
func (a *Arena) Free(zone Zone, address, size uint64) error {
	if !zone.Valid() {
		return errors.Wrapf(ErrInvalidZone, "%s", zone)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	err := a.heaps[zone].release(address, size)
	if err != nil {
		return err
	}

	memutils.DebugValidate(a.heaps[zone])

	return nil
}

// AddDetailedStatistics accumulates statistics for a single zone into stats
func (a *Arena) AddDetailedStatistics(zone Zone, stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.heaps[zone].addDetailedStatistics(stats)
}

// CalculateStatistics returns statistics for every zone combined
func (a *Arena) CalculateStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()

	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, h := range a.heaps {
		h.addDetailedStatistics(&stats)
	}

	return stats
}

// Validate checks every zone's free list and allocation table for consistency
func (a *Arena) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, h := range a.heaps {
		err := h.validate()
		if err != nil {
			return err
		}
	}

	return nil
}

// PrintJson writes one member per zone into an already-open JSON object
func (a *Arena) PrintJson(json *jwriter.ObjectState) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, h := range a.heaps {
		zoneObj := json.Name(h.zone.String()).Object()
		h.printJson(&zoneObj)
		zoneObj.End()
	}
}

// BuildStatsString renders the arena as a JSON document
func (a *Arena) BuildStatsString() string {
	writer := jwriter.NewWriter()
	obj := writer.Object()
	a.PrintJson(&obj)
	obj.End()

	return string(writer.Bytes())
}

func (h *heap) Validate() error {
	return h.validate()
}
