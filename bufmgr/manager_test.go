package bufmgr_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/bufmgr/bufmgr"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/kmd/sim"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
)

func TestParseSyncMode(t *testing.T) {
	for _, mode := range []bufmgr.SyncMode{bufmgr.SyncModeTimeline, bufmgr.SyncModeBinary, bufmgr.SyncModeDisabled} {
		parsed, err := bufmgr.ParseSyncMode(mode.String())
		require.NoError(t, err)
		require.Equal(t, mode, parsed)
	}

	parsed, err := bufmgr.ParseSyncMode("Binary")
	require.NoError(t, err)
	require.Equal(t, bufmgr.SyncModeBinary, parsed)

	_, err = bufmgr.ParseSyncMode("eventual")
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))
}

func TestNew_RejectsBadOptions(t *testing.T) {
	device := sim.New(sim.Options{})

	_, err := bufmgr.New(nil, device, bufmgr.CreateOptions{SyncMode: bufmgr.SyncMode(7)})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	_, err = bufmgr.New(nil, device, bufmgr.CreateOptions{FencePoolCap: -1})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	require.Equal(t, bufmgr.SyncModeTimeline, f.manager.SyncMode())

	h := f.context(t, kmd.EngineRender)
	fences, err := f.manager.ContextFenceStats(h)
	require.NoError(t, err)
	require.Equal(t, 16, fences.Cap)
}

func TestDestroy_ReportsUnreleasedBuffers(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	device := sim.New(sim.Options{})
	manager, err := bufmgr.New(logger, device, bufmgr.CreateOptions{})
	require.NoError(t, err)

	_, err = manager.CreateContext(bufmgr.ContextConfig{Engine: kmd.EngineRender})
	require.NoError(t, err)

	_, err = manager.Allocate(bufmgr.AllocateInfo{Name: "leaky", Size: testSize})
	require.NoError(t, err)

	require.NoError(t, manager.Destroy())
	require.Contains(t, logs.String(), "[UNRELEASED BUFFER]")
	require.Contains(t, logs.String(), "name=leaky")

	require.Zero(t, device.BufferCount())
	require.Zero(t, device.BindingCount())
	require.Zero(t, device.QueueCount())
	require.Zero(t, device.LiveSyncObjects())

	_, err = manager.Allocate(bufmgr.AllocateInfo{Name: "late", Size: testSize})
	require.True(t, errors.Is(err, bufmgr.ErrInvalidArgument))

	// Destroying twice is harmless
	require.NoError(t, manager.Destroy())
}

func TestProfilerLogger(t *testing.T) {
	var profile bytes.Buffer
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{
		ProfilerLogger: slog.New(slog.NewJSONHandler(&profile, nil)),
	})

	bo := f.allocate(t, "profiled")
	require.NoError(t, bo.Unreference())

	var events []string
	decoder := json.NewDecoder(&profile)
	for decoder.More() {
		var record struct {
			Msg  string `json:"msg"`
			Name string `json:"name"`
		}
		require.NoError(t, decoder.Decode(&record))
		require.Equal(t, "profiled", record.Name)
		events = append(events, record.Msg)
	}

	require.Equal(t, []string{"alloc", "free"}, events)
}

func TestStatistics(t *testing.T) {
	f := newFixture(t, sim.Options{}, bufmgr.CreateOptions{})
	ctx := f.context(t, kmd.EngineRender)
	batch := f.allocate(t, "batch")
	x := f.allocate(t, "x")

	device, err := f.manager.Allocate(bufmgr.AllocateInfo{Name: "local", Size: 3 * testSize, Zone: vma.ZoneDevice})
	require.NoError(t, err)

	f.submit(t, ctx, batch, write(x))

	stats := f.manager.CalculateStatistics()
	require.Equal(t, 3, stats.Statistics.AllocationCount)
	require.Equal(t, uint64(5*testSize), stats.Statistics.AllocationBytes)

	require.NoError(t, f.manager.Validate())

	var document struct {
		Total struct {
			Allocations int
		}
		Zones   map[string]any
		Buffers []struct {
			Name     string
			Zone     string
			Resident bool
		}
		Contexts []struct {
			Engine      string
			State       string
			Submissions int
			Fences      map[string]any
		}
	}
	require.NoError(t, json.Unmarshal([]byte(f.manager.BuildStatsString()), &document))

	require.Equal(t, 3, document.Total.Allocations)
	require.Contains(t, document.Zones, vma.ZoneSystem.String())
	require.Contains(t, document.Zones, vma.ZoneDevice.String())
	require.Len(t, document.Buffers, 3)
	for _, buffer := range document.Buffers {
		require.True(t, buffer.Resident)
	}

	require.Len(t, document.Contexts, 1)
	require.Equal(t, "Render", document.Contexts[0].Engine)
	require.Equal(t, "Active", document.Contexts[0].State)
	require.Equal(t, 1, document.Contexts[0].Submissions)
	require.NotEmpty(t, document.Contexts[0].Fences)

	require.NoError(t, device.Unreference())
	require.NoError(t, f.manager.Validate())
}
