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

func TestImportFromExternal_Deduplicates(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	fd, err := f.device.ShareBuffer(testSize)
	require.NoError(t, err)

	first, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)
	require.Equal(t, vma.ZoneImported, first.Zone())
	require.True(t, first.IsExternal())
	require.Equal(t, vma.ImportedAlignment, first.Size())

	address, err := first.Address()
	require.NoError(t, err)
	require.Zero(t, address%vma.ImportedAlignment)

	second, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.Equal(t, 2, first.References())
	require.Equal(t, 1, f.manager.BufferCount())

	require.NoError(t, second.Unreference())
	require.NoError(t, first.Unreference())
	require.Zero(t, f.manager.BufferCount())
}

func TestImportFromExternal_BadDescriptor(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	_, err := f.manager.ImportFromExternal(999, testSize)
	require.True(t, errors.Is(err, bufmgr.ErrAllocation))
	require.True(t, errors.Is(err, unix.EBADF))
}

func TestExportToExternal_RoundTrip(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	bo := f.allocate(t, "scanout")

	f.submit(t, ctx, batch, write(bo))

	fd, err := bo.ExportToExternal()
	require.NoError(t, err)
	require.True(t, bo.IsExternal())

	_, ok := bo.LastWriter()
	require.False(t, ok)

	again, err := bo.ExportToExternal()
	require.NoError(t, err)
	require.Equal(t, fd, again)

	imported, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)
	require.Same(t, bo, imported)
	require.Equal(t, 2, bo.References())

	require.NoError(t, imported.Unreference())
	require.NoError(t, bo.Unreference())
}

func TestExternal_ImplicitSynchronization(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	a := f.context(t, kmd.EngineRender)
	b := f.context(t, kmd.EngineRender)
	batchA := f.allocate(t, "batchA")
	batchB := f.allocate(t, "batchB")

	fd, err := f.device.ShareBuffer(testSize)
	require.NoError(t, err)
	shared, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)

	syncObjects := f.device.LiveSyncObjects()

	first := f.submit(t, a, batchA, write(shared))
	require.Len(t, first.Waits, 1)
	require.Zero(t, first.Waits[0].Value)

	// Shared buffer objects are not tracked per context
	_, ok := shared.LastWriter()
	require.False(t, ok)

	second := f.submit(t, b, batchB, read(shared))
	require.Len(t, second.Waits, 1)
	require.NotEqual(t, first.Signal, second.Waits[0])

	require.Zero(t, f.device.OpenFiles())
	require.Equal(t, syncObjects, f.device.LiveSyncObjects())

	// The implicit write fence keeps the buffer busy
	err = shared.Wait(0)
	require.True(t, errors.Is(err, bufmgr.ErrTimeout))
	require.Equal(t, syncObjects, f.device.LiveSyncObjects())

	f.device.CompleteAll()
	require.NoError(t, shared.Wait(kmd.WaitForever))
	require.Zero(t, f.device.OpenFiles())

	require.NoError(t, shared.Unreference())
}

func TestImportFromExternal_RevivesReleasingBuffer(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")

	fd, err := f.device.ShareBuffer(testSize)
	require.NoError(t, err)
	shared, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)

	f.submit(t, ctx, batch, write(shared))

	released := make(chan error, 1)
	go func() {
		released <- shared.Unreference()
	}()
	time.Sleep(10 * time.Millisecond)

	revived, err := f.manager.ImportFromExternal(fd, 0)
	require.NoError(t, err)
	require.Same(t, shared, revived)

	f.device.CompleteAll()
	require.NoError(t, <-released)

	require.Equal(t, 1, revived.References())
	require.Equal(t, 2, f.manager.BufferCount())

	data, err := revived.Map(false)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	require.NoError(t, revived.Unmap())
	require.NoError(t, revived.Unreference())
}
