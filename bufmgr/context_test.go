package bufmgr_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
)

func TestContextState_String(t *testing.T) {
	require.Equal(t, "Active", bufmgr.ContextActive.String())
	require.Equal(t, "Retrying", bufmgr.ContextRetrying.String())
	require.Equal(t, "BannedFatal", bufmgr.ContextBannedFatal.String())
	require.Equal(t, "ContextState(9)", bufmgr.ContextState(9).String())
}

func TestCreateContext_AppliesTimeslice(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{Timeslice: 5 * time.Millisecond})

	render := f.context(t, kmd.EngineRender)
	value, err := f.manager.ContextProperty(render, kmd.QueuePropertyTimeslice)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), value)

	compute := f.context(t, kmd.EngineCompute)
	value, err = f.manager.ContextProperty(compute, kmd.QueuePropertyTimeslice)
	require.NoError(t, err)
	require.Equal(t, uint64(5000), value)

	copyEngine := f.context(t, kmd.EngineCopy)
	value, err = f.manager.ContextProperty(copyEngine, kmd.QueuePropertyTimeslice)
	require.NoError(t, err)
	require.Zero(t, value)

	wide, err := f.manager.CreateContext(bufmgr.ContextConfig{Engine: kmd.EngineRender, Width: 2})
	require.NoError(t, err)
	value, err = f.manager.ContextProperty(wide, kmd.QueuePropertyTimeslice)
	require.NoError(t, err)
	require.Zero(t, value)
}

func TestCreateContext_IgnoresOutOfRangeTimeslice(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{Timeslice: time.Second})

	render := f.context(t, kmd.EngineRender)
	value, err := f.manager.ContextProperty(render, kmd.QueuePropertyTimeslice)
	require.NoError(t, err)
	require.Zero(t, value)
}

func TestCreateContext_RejectsMismatchedPlacements(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	_, err := f.manager.CreateContext(bufmgr.ContextConfig{
		Engine:     kmd.EngineRender,
		Placements: []kmd.EngineInstance{{Class: kmd.EngineCopy}},
	})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	_, err = f.manager.CreateContext(bufmgr.ContextConfig{
		Engine: kmd.EngineVideoDecode,
		Width:  2,
		Placements: []kmd.EngineInstance{
			{Class: kmd.EngineVideoDecode},
			{Class: kmd.EngineVideoDecode, Instance: 1},
			{Class: kmd.EngineVideoDecode, Instance: 2},
		},
	})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))
	require.Zero(t, f.device.QueueCount())
}

func TestCreateContext_Placements(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})

	h, err := f.manager.CreateContext(bufmgr.ContextConfig{
		Engine: kmd.EngineVideoDecode,
		Placements: []kmd.EngineInstance{
			{Class: kmd.EngineVideoDecode},
			{Class: kmd.EngineVideoDecode, Instance: 1},
		},
	})
	require.NoError(t, err)

	stats, err := f.manager.ContextResetStats(h)
	require.NoError(t, err)

	info, ok := f.device.QueueInfo(stats.Queue)
	require.True(t, ok)
	require.Equal(t, 1, info.Width)
	require.Equal(t, 2, info.NumPlacements)
}

func TestSetContextPriority(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	h := f.context(t, kmd.EngineRender)

	require.NoError(t, f.manager.SetContextPriority(h, 2))

	value, err := f.manager.ContextProperty(h, kmd.QueuePropertyPriority)
	require.NoError(t, err)
	require.Equal(t, uint64(2), value)
}

func TestDestroyContext_InvalidatesHandle(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	h := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	x := f.allocate(t, "x")

	f.submit(t, h, batch, write(x))

	writer, ok := x.LastWriter()
	require.True(t, ok)
	require.Equal(t, h, writer)

	require.NoError(t, f.manager.DestroyContext(h))
	require.Zero(t, f.device.QueueCount())
	require.Zero(t, f.device.LiveSyncObjects())

	_, ok = x.LastWriter()
	require.False(t, ok)

	_, err := f.manager.ContextResetStats(h)
	require.True(t, errors.Is(err, bufmgr.ErrStaleHandle))
	require.True(t, errors.Is(f.manager.DestroyContext(h), bufmgr.ErrStaleHandle))

	cmd, err := f.manager.NewCmdBuffer(batch)
	require.NoError(t, err)
	err = f.manager.Submit(cmd, h)
	require.True(t, errors.Is(err, bufmgr.ErrStaleHandle))
	require.NoError(t, cmd.Release())

	// A new context never reuses the stale handle
	replacement := f.context(t, kmd.EngineRender)
	require.NotEqual(t, h, replacement)
}

func TestDestroyContext_WaitsForSubmissions(t *testing.T) {
	f := newFixture(t, sim.Options{Manual: true}, bufmgr.CreateOptions{})
	h := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")

	f.submit(t, h, batch)

	destroyed := make(chan error, 1)
	go func() {
		destroyed <- f.manager.DestroyContext(h)
	}()

	select {
	case <-destroyed:
		t.Fatal("context destroyed with a submission in flight")
	case <-time.After(20 * time.Millisecond):
	}

	f.device.CompleteAll()
	require.NoError(t, <-destroyed)
	require.Zero(t, f.device.QueueCount())
}
