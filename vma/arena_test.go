package vma_test

import (
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/memutils"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/sync/errgroup"
)

const kb = uint64(1024)

// smallLayout gives each zone a handful of 64KB pages so exhaustion is easy to reach
func smallLayout() *vma.Layout {
	return &vma.Layout{
		vma.ZoneSystem: {
			Start:     0x10000,
			Size:      0x40000,
			Alignment: 64 * kb,
		},
		vma.ZoneDevice: {
			Start:     0x100000,
			Size:      0x40000,
			Alignment: 64 * kb,
		},
		vma.ZoneImported: {
			Start:     0x200000,
			Size:      0x800000,
			Alignment: 2048 * kb,
		},
	}
}

func newSmallArena(t *testing.T) *vma.Arena {
	arena, err := vma.New(nil, vma.CreateOptions{Layout: smallLayout()})
	require.NoError(t, err)
	return arena
}

func TestDefaultLayoutIsValid(t *testing.T) {
	arena, err := vma.New(nil, vma.CreateOptions{})
	require.NoError(t, err)

	address, err := arena.Alloc(vma.ZoneSystem, 100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<16), address)
	require.Less(t, address, uint64(1<<40))

	address, err = arena.Alloc(vma.ZoneDevice, 100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), address)

	address, err = arena.Alloc(vma.ZoneImported, 100, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<41), address)
	require.Less(t, address, uint64(1<<42))

	zone, ok := arena.ZoneOf(address)
	require.True(t, ok)
	require.Equal(t, vma.ZoneImported, zone)

	_, ok = arena.ZoneOf(vma.AddressLimit)
	require.False(t, ok)
}

func TestAllocRoundsToZoneAlignment(t *testing.T) {
	arena := newSmallArena(t)

	first, err := arena.Alloc(vma.ZoneSystem, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), first)

	second, err := arena.Alloc(vma.ZoneSystem, 1, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), second)

	imported, err := arena.Alloc(vma.ZoneImported, 4*kb, 0)
	require.NoError(t, err)
	require.True(t, memutils.IsAligned(imported, 2048*kb))
	require.Equal(t, 2048*kb, arena.AlignedSize(vma.ZoneImported, 4*kb))
}

func TestAllocHonorsLargerAlignment(t *testing.T) {
	arena := newSmallArena(t)

	_, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)

	// The next 128KB boundary after 0x20000 is 0x20000 itself
	aligned, err := arena.Alloc(vma.ZoneSystem, 64*kb, 128*kb)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), aligned)

	aligned, err = arena.Alloc(vma.ZoneSystem, 64*kb, 128*kb)
	require.NoError(t, err)
	require.Equal(t, uint64(0x40000), aligned)

	// The 0x30000 hole left behind by alignment is still usable
	filler, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x30000), filler)

	require.NoError(t, arena.Validate())
}

func TestAllocRejectsBadAlignment(t *testing.T) {
	arena := newSmallArena(t)

	_, err := arena.Alloc(vma.ZoneSystem, 64*kb, 3*kb)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
}

func TestExhaustion(t *testing.T) {
	arena := newSmallArena(t)

	for i := 0; i < 4; i++ {
		_, err := arena.Alloc(vma.ZoneDevice, 64*kb, 0)
		require.NoError(t, err)
	}

	_, err := arena.Alloc(vma.ZoneDevice, 64*kb, 0)
	require.True(t, errors.Is(err, vma.ErrExhausted))

	_, err = arena.Alloc(vma.ZoneDevice, 0x100000, 0)
	require.True(t, errors.Is(err, vma.ErrExhausted))

	// Other zones are unaffected
	_, err = arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)
}

func TestFreeCoalescesAndReuses(t *testing.T) {
	arena := newSmallArena(t)

	a, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)
	b, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)
	c, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)

	require.NoError(t, arena.Free(vma.ZoneSystem, a, 64*kb))
	require.NoError(t, arena.Free(vma.ZoneSystem, c, 64*kb))
	require.NoError(t, arena.Validate())

	var stats memutils.DetailedStatistics
	stats.Clear()
	arena.AddDetailedStatistics(vma.ZoneSystem, &stats)
	require.Equal(t, 1, stats.AllocationCount)
	// a's range and the tail that c merged into
	require.Equal(t, 2, stats.FreeRangeCount)
	require.Equal(t, 128*kb, stats.FreeRangeSizeMax)

	require.NoError(t, arena.Free(vma.ZoneSystem, b, 64*kb))

	stats.Clear()
	arena.AddDetailedStatistics(vma.ZoneSystem, &stats)
	require.Equal(t, 0, stats.AllocationCount)
	require.Equal(t, 1, stats.FreeRangeCount)
	require.Equal(t, uint64(0x40000), stats.FreeRangeSizeMax)

	// A freed range of the same size is reused exactly
	again, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)
	require.Equal(t, a, again)
}

func TestFreeRoundsSizeLikeAlloc(t *testing.T) {
	arena := newSmallArena(t)

	address, err := arena.Alloc(vma.ZoneSystem, 100, 0)
	require.NoError(t, err)
	require.NoError(t, arena.Free(vma.ZoneSystem, address, 100))
	require.NoError(t, arena.Validate())
}

func TestInvalidFree(t *testing.T) {
	arena := newSmallArena(t)

	address, err := arena.Alloc(vma.ZoneSystem, 64*kb, 0)
	require.NoError(t, err)

	err = arena.Free(vma.ZoneSystem, address, 128*kb)
	require.True(t, errors.Is(err, vma.ErrInvalidFree))

	require.NoError(t, arena.Free(vma.ZoneSystem, address, 64*kb))

	err = arena.Free(vma.ZoneSystem, address, 64*kb)
	require.True(t, errors.Is(err, vma.ErrInvalidFree))

	err = arena.Free(vma.ZoneDevice, address, 64*kb)
	require.True(t, errors.Is(err, vma.ErrInvalidFree))

	err = arena.Free(vma.Zone(9), address, 64*kb)
	require.True(t, errors.Is(err, vma.ErrInvalidZone))
}

func TestInvalidLayout(t *testing.T) {
	layout := smallLayout()
	layout[vma.ZoneDevice].Start = 0x20000

	_, err := vma.New(nil, vma.CreateOptions{Layout: layout})
	require.True(t, errors.Is(err, vma.ErrInvalidLayout))

	layout = smallLayout()
	layout[vma.ZoneImported].Start = vma.AddressLimit
	_, err = vma.New(nil, vma.CreateOptions{Layout: layout})
	require.True(t, errors.Is(err, vma.ErrInvalidLayout))
}

func TestConcurrentAllocationsNeverOverlap(t *testing.T) {
	arena, err := vma.New(nil, vma.CreateOptions{})
	require.NoError(t, err)

	var mutex sync.Mutex
	seen := map[uint64]struct{}{}

	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		group.Go(func() error {
			for i := 0; i < 200; i++ {
				address, err := arena.Alloc(vma.ZoneDevice, 64*kb, 0)
				if err != nil {
					return err
				}

				mutex.Lock()
				if _, dup := seen[address]; dup {
					mutex.Unlock()
					return errors.Newf("address %#x handed out twice", address)
				}
				seen[address] = struct{}{}
				mutex.Unlock()

				if i%3 == 0 {
					mutex.Lock()
					delete(seen, address)
					mutex.Unlock()

					if err := arena.Free(vma.ZoneDevice, address, 64*kb); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	require.NoError(t, group.Wait())
	require.NoError(t, arena.Validate())
}

func TestBuildStatsString(t *testing.T) {
	arena := newSmallArena(t)
	_, err := arena.Alloc(vma.ZoneDevice, 64*kb, 0)
	require.NoError(t, err)

	stats := arena.BuildStatsString()
	require.Contains(t, stats, `"Device":{`)
	require.Contains(t, stats, `"Allocations":1`)
}
