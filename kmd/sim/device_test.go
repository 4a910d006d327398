package sim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
	"golang.org/x/sys/unix"
)

type fixture struct {
	device   *sim.Device
	vm       kmd.VMID
	batch    uint64
	queueA   kmd.QueueID
	queueB   kmd.QueueID
	timeline kmd.SyncHandle
}

func newFixture(t *testing.T, options sim.Options) fixture {
	device := sim.New(options)

	vm, err := device.CreateVM()
	require.NoError(t, err)

	handle, err := device.CreateBuffer(4096, kmd.RegionSystem)
	require.NoError(t, err)
	require.NoError(t, device.BindAddress(vm, handle, 0x10000, 4096))

	info := kmd.QueueCreateInfo{
		VM:            vm,
		Width:         1,
		NumPlacements: 1,
		Placements:    []kmd.EngineInstance{{Class: kmd.EngineRender}},
	}
	queueA, err := device.CreateQueue(info)
	require.NoError(t, err)
	queueB, err := device.CreateQueue(info)
	require.NoError(t, err)

	timeline, err := device.CreateSync(kmd.SyncCreateTimeline)
	require.NoError(t, err)

	return fixture{
		device:   device,
		vm:       vm,
		batch:    0x10000,
		queueA:   queueA,
		queueB:   queueB,
		timeline: timeline,
	}
}

func TestManualCompletionOrdersAcrossQueues(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true})

	first := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: first, Addresses: []uint64{f.batch}}))

	binary, err := f.device.CreateSync(0)
	require.NoError(t, err)
	second := kmd.SyncPoint{Handle: binary}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{
		Queue:     f.queueB,
		Waits:     []kmd.SyncPoint{first},
		Signal:    second,
		Addresses: []uint64{f.batch},
	}))

	require.ErrorIs(t, f.device.WaitSync([]kmd.SyncPoint{second}, 0), unix.ETIME)

	// Only queue A's batch is ready; queue B waits on it
	require.Equal(t, 1, f.device.Complete(1))
	value, err := f.device.QuerySync(f.timeline)
	require.NoError(t, err)
	require.Equal(t, uint64(1), value)

	require.Equal(t, 1, f.device.CompleteAll())
	require.NoError(t, f.device.WaitSync([]kmd.SyncPoint{second}, 0))
}

func TestWaitBlocksUntilCompletion(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true})

	point := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: point, Addresses: []uint64{f.batch}}))

	go func() {
		time.Sleep(10 * time.Millisecond)
		f.device.CompleteAll()
	}()

	require.NoError(t, f.device.WaitSync([]kmd.SyncPoint{point}, kmd.WaitForever))
}

func TestBoundedWaitTimesOut(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true})

	point := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: point, Addresses: []uint64{f.batch}}))

	err := f.device.WaitSync([]kmd.SyncPoint{point}, 5*time.Millisecond)
	require.True(t, kmd.IsTimeout(err))
}

func TestBanCancelsPendingAndRejectsExec(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true})

	point := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: point, Addresses: []uint64{f.batch}}))

	f.device.Ban(f.queueA)
	require.NoError(t, f.device.WaitSync([]kmd.SyncPoint{point}, 0))

	banned, err := f.device.GetQueueProperty(f.queueA, kmd.QueuePropertyBan)
	require.NoError(t, err)
	require.Equal(t, uint64(1), banned)

	err = f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Addresses: []uint64{f.batch}})
	require.True(t, kmd.IsBanned(err))

	banned, err = f.device.GetQueueProperty(f.queueB, kmd.QueuePropertyBan)
	require.NoError(t, err)
	require.Zero(t, banned)
}

func TestExecRejectsUnboundBatch(t *testing.T) {
	f := newFixture(t, sim.Options{})

	err := f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Addresses: []uint64{0x900000}})
	require.ErrorIs(t, err, unix.EINVAL)
}

func TestBindRejectsOverlap(t *testing.T) {
	f := newFixture(t, sim.Options{})

	handle, err := f.device.CreateBuffer(8192, kmd.RegionDevice)
	require.NoError(t, err)

	require.ErrorIs(t, f.device.BindAddress(f.vm, handle, 0x10000-4096, 8192), unix.EEXIST)
	require.NoError(t, f.device.BindAddress(f.vm, handle, 0x20000, 8192))
	require.ErrorIs(t, f.device.CloseBuffer(handle), unix.EBUSY)
	require.NoError(t, f.device.UnbindAddress(f.vm, 0x20000, 8192))
	require.NoError(t, f.device.CloseBuffer(handle))
}

func TestImplicitBufferFences(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true})

	fd, err := f.device.ShareBuffer(4096)
	require.NoError(t, err)

	point := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: point, Addresses: []uint64{f.batch}}))

	syncFile, err := f.device.ExportSyncFile(point)
	require.NoError(t, err)
	require.NoError(t, f.device.ImportBufferFence(fd, syncFile, kmd.SyncFenceWrite))
	require.NoError(t, f.device.CloseFile(syncFile))

	readerFence, err := f.device.ExportBufferFence(fd, 0)
	require.NoError(t, err)

	temp, err := f.device.CreateSync(0)
	require.NoError(t, err)
	require.NoError(t, f.device.ImportSyncFile(temp, readerFence))
	require.True(t, kmd.IsTimeout(f.device.WaitSync([]kmd.SyncPoint{{Handle: temp}}, 0)))

	f.device.CompleteAll()
	require.NoError(t, f.device.WaitSync([]kmd.SyncPoint{{Handle: temp}}, 0))
	require.NoError(t, f.device.CloseFile(readerFence))
	require.Zero(t, f.device.OpenFiles())
}

func TestLatencyCompletesWithoutIntervention(t *testing.T) {
	f := newFixture(t, sim.Options{Latency: time.Millisecond})

	point := kmd.SyncPoint{Handle: f.timeline, Value: 1}
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Signal: point, Addresses: []uint64{f.batch}}))
	require.NoError(t, f.device.WaitSync([]kmd.SyncPoint{point}, time.Second))
}

func TestBanEvery(t *testing.T) {
	f := newFixture(t, sim.Options{BanEvery: 2})

	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Addresses: []uint64{f.batch}}))
	require.True(t, kmd.IsBanned(f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Addresses: []uint64{f.batch}})))
	require.True(t, kmd.IsBanned(f.device.Exec(kmd.ExecInfo{Queue: f.queueA, Addresses: []uint64{f.batch}})))
	require.NoError(t, f.device.Exec(kmd.ExecInfo{Queue: f.queueB, Addresses: []uint64{f.batch}}))
}
