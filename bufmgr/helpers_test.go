package bufmgr_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
	"github.com/vkngwrapper/bufmgr/vma"
)

const testSize = 64 << 10

type fixture struct {
	manager *bufmgr.Manager
	device  *sim.Device
}

func newFixture(t *testing.T, simOptions sim.Options, options bufmgr.CreateOptions) *fixture {
	device := sim.New(simOptions)

	manager, err := bufmgr.New(nil, device, options)
	require.NoError(t, err)

	t.Cleanup(func() {
		device.CompleteAll()
		require.NoError(t, manager.Destroy())
	})

	return &fixture{manager: manager, device: device}
}

func (f *fixture) allocate(t *testing.T, name string) *bufmgr.BufferObject {
	bo, err := f.manager.Allocate(bufmgr.AllocateInfo{
		Name: name,
		Size: testSize,
		Zone: vma.ZoneSystem,
	})
	require.NoError(t, err)
	return bo
}

func (f *fixture) context(t *testing.T, engine kmd.EngineClass) bufmgr.ContextHandle {
	h, err := f.manager.CreateContext(bufmgr.ContextConfig{Engine: engine})
	require.NoError(t, err)
	return h
}

type access struct {
	bo     *bufmgr.BufferObject
	access bufmgr.Access
}

// submit runs one batch on ctx touching the given buffer objects and returns the
// resulting kernel submission
func (f *fixture) submit(t *testing.T, ctx bufmgr.ContextHandle, batch *bufmgr.BufferObject, touches ...access) kmd.ExecInfo {
	cmd, err := f.manager.NewCmdBuffer(batch)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, cmd.Release())
	}()

	for _, touch := range touches {
		require.NoError(t, cmd.Add(touch.bo, touch.access))
	}

	require.NoError(t, f.manager.Submit(cmd, ctx))

	exec, ok := f.device.LastExec()
	require.True(t, ok)
	return exec
}

func read(bo *bufmgr.BufferObject) access {
	return access{bo: bo, access: bufmgr.AccessRead}
}

func write(bo *bufmgr.BufferObject) access {
	return access{bo: bo, access: bufmgr.AccessWrite}
}
