package bufmgr

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/internal/fence"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
)

const (
	// DefaultSyncDisabledDelay is how long CPU waits sleep in SyncModeDisabled when
	// CreateOptions.SyncDisabledDelay is not set
	DefaultSyncDisabledDelay = 2 * time.Millisecond

	// maxTimeslice is the exclusive upper bound on an applied engine timeslice
	maxTimeslice = 100 * time.Millisecond
)

// CreateOptions contains optional settings when creating a Manager
type CreateOptions struct {
	// Flags indicates specific manager behaviors to activate or deactivate
	Flags CreateFlags
	// SyncMode selects how submissions are synchronized. The zero value is SyncModeTimeline.
	SyncMode SyncMode
	// FencePoolCap bounds the busy fences of each context. Zero selects fence.DefaultCap.
	FencePoolCap int
	// SyncDisabledDelay is the fixed sleep used in place of CPU waits in SyncModeDisabled
	SyncDisabledDelay time.Duration
	// Layout overrides the virtual address zone geometry
	Layout *vma.Layout
	// Timeslice is applied to single-engine render and compute contexts when it lies
	// strictly between zero and 100ms
	Timeslice time.Duration
	// ProfilerLogger, when set, receives one record per buffer allocation and release
	ProfilerLogger *slog.Logger
}

// New creates a Manager for an open device. The manager creates the device's virtual address
// space immediately; everything else is created on demand.
//
// logger - Receives diagnostics. May be nil.
//
// driver - The kernel driver the manager issues calls through
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, driver kmd.Driver, options CreateOptions) (*Manager, error) {
	logger = utils.LoggerOrDiscard(logger)
	useMutex := options.Flags&CreateExternallySynchronized == 0

	if _, ok := syncModeNames[options.SyncMode]; !ok {
		return nil, errors.Wrapf(ErrInvalidArgument, "unknown sync mode %d", int(options.SyncMode))
	}

	if options.FencePoolCap < 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "fence pool cap %d is negative", options.FencePoolCap)
	}

	arena, err := vma.New(logger, vma.CreateOptions{
		Layout:                 options.Layout,
		ExternallySynchronized: !useMutex,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		logger:   logger,
		profiler: options.ProfilerLogger,
		driver:   driver,

		createFlags: options.Flags,
		syncMode:    options.SyncMode,
		poolCap:     options.FencePoolCap,
		timeslice:   options.Timeslice,

		mutex:    utils.OptionalMutex{UseMutex: useMutex},
		syncLock: &sync.RWMutex{},
		arena:    arena,
		named:    swiss.NewMap[kmd.GemHandle, *BufferObject](16),
	}
	m.buffers.Init(useMutex)

	if m.poolCap == 0 {
		m.poolCap = fence.DefaultCap
	}

	m.disabledDelay = options.SyncDisabledDelay
	if m.disabledDelay <= 0 {
		m.disabledDelay = DefaultSyncDisabledDelay
	}

	err = kmd.Retry(func() error {
		var err error
		m.vm, err = driver.CreateVM()
		return err
	})
	if err != nil {
		return nil, markf(err, ErrAllocation, "creating virtual address space")
	}

	if m.syncMode == SyncModeDisabled {
		logger.LogAttrs(context.Background(), slog.LevelWarn, "synchronization is disabled; GPU and CPU accesses are ordered by a fixed delay only",
			slog.Duration("delay", m.disabledDelay),
		)
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Manager::New",
		slog.String("syncMode", m.syncMode.String()),
		slog.Int("fencePoolCap", m.poolCap),
		slog.String("flags", m.createFlags.String()),
	)

	return m, nil
}

func (m *Manager) deferredCreation() bool {
	return m.createFlags&CreateDeferredCreation != 0
}

func (m *Manager) deferredBinding() bool {
	return m.createFlags&CreateDeferredBinding != 0
}

func (m *Manager) syncDisabled() bool {
	return m.syncMode == SyncModeDisabled
}
