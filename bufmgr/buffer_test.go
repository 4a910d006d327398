package bufmgr_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/sys/unix"
)

func TestAllocate_CreatesAndBinds(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	bo, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "small", Size: 100, Zone: vma.ZoneSystem})
	require.NoError(t, err)

	require.Equal(t, vma.LocalAlignment, bo.Size())
	require.Equal(t, 1, f.device.BufferCount())
	require.Equal(t, 1, f.device.BindingCount())

	address, err := bo.Address()
	require.NoError(t, err)
	zone, ok := f.manager.Arena().ZoneOf(address)
	require.True(t, ok)
	require.Equal(t, vma.ZoneSystem, zone)

	device, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "local", Size: testSize, Zone: vma.ZoneDevice})
	require.NoError(t, err)
	address, err = device.Address()
	require.NoError(t, err)
	zone, _ = f.manager.Arena().ZoneOf(address)
	require.Equal(t, vma.ZoneDevice, zone)

	require.NoError(t, bo.Unreference())
	require.NoError(t, device.Unreference())
}

func TestAllocate_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	_, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "empty", Zone: vma.ZoneSystem})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	_, err = f.manager.Allocate(bufmgr.AllocateInfo{Name: "odd", Size: testSize, Alignment: 3 << 12})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	_, err = f.manager.Allocate(bufmgr.AllocateInfo{Name: "imported", Size: testSize, Zone: vma.ZoneImported})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	require.Zero(t, f.device.BufferCount())
}

func TestAllocate_CreateFailureIsAllocationError(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	f.device.FailNext("CreateBuffer", kmd.Errno("CreateBuffer", unix.ENOMEM))

	_, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "oom", Size: testSize})
	require.True(t, errors.Is(err, bufmgr.ErrAllocation))
	require.True(t, errors.Is(err, unix.ENOMEM))
	require.Zero(t, f.manager.BufferCount())
}

func TestAllocate_BindFailureReleasesRange(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	f.device.FailNext("BindAddress", kmd.Errno("BindAddress", unix.EINVAL))

	_, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "unbindable", Size: testSize})
	require.True(t, errors.Is(err, bufmgr.ErrBind))
	require.Zero(t, f.device.BufferCount())

	stats := f.manager.Arena().CalculateStatistics()
	require.Zero(t, stats.AllocationCount)
}

func TestAllocate_DeferredCreation(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{Flags: bufmgr.CreateDeferredCreation})

	bo := f.allocate(t, "deferred")
	require.Zero(t, f.device.BufferCount())
	require.Zero(t, f.device.BindingCount())

	// The address is reserved up front
	stats := f.manager.Arena().CalculateStatistics()
	require.Equal(t, 1, stats.AllocationCount)

	_, err := bo.Address()
	require.NoError(t, err)
	require.Equal(t, 1, f.device.BufferCount())
	require.Equal(t, 1, f.device.BindingCount())

	require.NoError(t, bo.Unreference())
}

func TestAllocate_DeferredBinding(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{Flags: bufmgr.CreateDeferredBinding})

	batch := f.allocate(t, "batch")
	bo := f.allocate(t, "deferred")
	require.Equal(t, 2, f.device.BufferCount())
	require.Zero(t, f.device.BindingCount())
	require.Zero(t, f.manager.Arena().CalculateStatistics().AllocationCount)

	cmd, err := f.manager.NewCmdBuffer(batch)
	require.NoError(t, err)
	require.NoError(t, cmd.Add(bo, bufmgr.AccessRead))
	require.Equal(t, 1, f.device.BindingCount())

	first, err := bo.Address()
	require.NoError(t, err)
	second, err := bo.Address()
	require.NoError(t, err)
	require.Equal(t, first, second)

	require.NoError(t, cmd.Release())
	require.NoError(t, bo.Unreference())
	require.NoError(t, batch.Unreference())
	require.Zero(t, f.device.BindingCount())
}

func TestUnreference_ReleasesExactlyOnce(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	bo := f.allocate(t, "shared")
	require.NoError(t, bo.Reference())
	require.NoError(t, bo.Reference())
	require.Equal(t, 3, bo.References())

	require.NoError(t, bo.Unreference())
	require.NoError(t, bo.Unreference())
	require.Equal(t, 1, f.device.BufferCount())

	require.NoError(t, bo.Unreference())
	require.Zero(t, f.device.BufferCount())
	require.Zero(t, f.device.BindingCount())
	require.Zero(t, f.manager.BufferCount())
	require.Zero(t, f.manager.Arena().CalculateStatistics().AllocationCount)

	// Redundant releases are ignored
	require.NoError(t, bo.Unreference())
	require.Zero(t, f.manager.Arena().CalculateStatistics().AllocationCount)

	require.True(t, errors.Is(bo.Reference(), bufmgr.ErrReleased))
	_, err := bo.Map(false)
	require.True(t, errors.Is(err, bufmgr.ErrReleased))
}

func TestUnreference_ReturnsRangeForReuse(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	bo := f.allocate(t, "first")
	address, err := bo.Address()
	require.NoError(t, err)
	require.Equal(t, f.manager.Arena().AlignedSize(vma.ZoneSystem, testSize), bo.Size())
	require.NoError(t, bo.Unreference())

	again := f.allocate(t, "second")
	reused, err := again.Address()
	require.NoError(t, err)
	require.Equal(t, address, reused)

	require.NoError(t, again.Unreference())
}

func TestUnreference_WaitsForGPU(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	target := f.allocate(t, "target")

	f.submit(t, ctx, batch, write(target))

	released := make(chan error, 1)
	go func() {
		released <- target.Unreference()
	}()

	select {
	case <-released:
		t.Fatal("buffer object released while the GPU was still writing it")
	case <-time.After(20 * time.Millisecond):
	}
	require.Equal(t, 2, f.device.BufferCount())

	f.device.CompleteAll()
	require.NoError(t, <-released)
	require.Equal(t, 1, f.device.BufferCount())
}

func TestMap_WriteWaitsForGPU(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	target := f.allocate(t, "target")

	f.submit(t, ctx, batch, read(target))

	// A read mapping does not wait for GPU readers
	data, err := target.Map(false)
	require.NoError(t, err)
	require.Len(t, data, testSize)
	require.NoError(t, target.Unmap())

	mapped := make(chan error, 1)
	go func() {
		_, err := target.Map(true)
		mapped <- err
	}()

	select {
	case <-mapped:
		t.Fatal("write mapping returned while the GPU was still reading")
	case <-time.After(20 * time.Millisecond):
	}

	f.device.CompleteAll()
	require.NoError(t, <-mapped)
	require.Equal(t, 1, target.MapCount())
	require.NoError(t, target.Unmap())
	require.Zero(t, target.MapCount())
}

func TestMap_CountsReferences(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	bo := f.allocate(t, "mapped")

	first, err := bo.Map(true)
	require.NoError(t, err)
	first[0] = 42

	second, err := bo.Map(false)
	require.NoError(t, err)
	require.Equal(t, byte(42), second[0])
	require.Equal(t, 2, bo.MapCount())

	require.NoError(t, bo.Unmap())
	require.NoError(t, bo.Unmap())

	err = bo.Unmap()
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	require.NoError(t, bo.Unreference())
}

func TestMap_FailureIsMapError(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	bo := f.allocate(t, "unmappable")

	f.device.FailNext("MapBuffer", kmd.Errno("MapBuffer", unix.ENOMEM))
	_, err := bo.Map(false)
	require.True(t, errors.Is(err, bufmgr.ErrMap))
	require.Zero(t, bo.MapCount())

	require.NoError(t, bo.Unreference())
}

func TestBusyAndWait(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	target := f.allocate(t, "target")

	busy, err := target.Busy()
	require.NoError(t, err)
	require.False(t, busy)

	f.submit(t, ctx, batch, write(target))

	busy, err = target.Busy()
	require.NoError(t, err)
	require.True(t, busy)

	err = target.Wait(0)
	require.True(t, errors.Is(err, bufmgr.ErrTimeout))
	require.True(t, errors.Is(err, unix.ETIME))

	err = target.Wait(5 * time.Millisecond)
	require.True(t, errors.Is(err, bufmgr.ErrTimeout))

	f.device.CompleteAll()

	require.NoError(t, target.Wait(kmd.WaitForever))
	busy, err = target.Busy()
	require.NoError(t, err)
	require.False(t, busy)

	_, ok := target.LastWriter()
	require.False(t, ok)
}
