package bufmgr

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/fence"
	"github.com/vkngwrapper/bufmgr/internal/handle"
	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/exp/slog"
)

// ContextHandle names an execution context. Handles of destroyed contexts go stale and
// fail with ErrStaleHandle.
type ContextHandle = handle.Handle

// ContextState tracks an execution context through ban recovery
type ContextState int

const (
	// ContextActive contexts accept submissions
	ContextActive ContextState = iota
	// ContextRetrying contexts were banned and are resubmitting on a replacement queue
	ContextRetrying
	// ContextBannedFatal contexts failed recovery and reject every submission
	ContextBannedFatal
)

var contextStateNames = map[ContextState]string{
	ContextActive:      "Active",
	ContextRetrying:    "Retrying",
	ContextBannedFatal: "BannedFatal",
}

func (s ContextState) String() string {
	name, ok := contextStateNames[s]
	if !ok {
		return fmt.Sprintf("ContextState(%d)", int(s))
	}
	return name
}

// ContextConfig describes the hardware queue behind an execution context
type ContextConfig struct {
	Engine kmd.EngineClass
	// Width is the number of batches each submission carries. Zero means one.
	Width int
	// Placements lists the engines the queue may run on, Width entries per placement. Empty
	// selects instance 0 of Engine.
	Placements []kmd.EngineInstance
}

func (c ContextConfig) width() int {
	if c.Width <= 0 {
		return 1
	}
	return c.Width
}

func (c ContextConfig) queueInfo(vm kmd.VMID) (kmd.QueueCreateInfo, error) {
	width := c.width()

	placements := c.Placements
	if len(placements) == 0 {
		placements = make([]kmd.EngineInstance, width)
		for i := range placements {
			placements[i] = kmd.EngineInstance{Class: c.Engine, Instance: uint16(i)}
		}
	}

	if len(placements)%width != 0 {
		return kmd.QueueCreateInfo{}, errors.Wrapf(ErrInvalidArgument, "%d placements cannot be split into groups of width %d", len(placements), width)
	}

	for _, placement := range placements {
		if placement.Class != c.Engine {
			return kmd.QueueCreateInfo{}, errors.Wrapf(ErrInvalidArgument, "placement on %s engine in a %s context", placement.Class, c.Engine)
		}
	}

	return kmd.QueueCreateInfo{
		VM:            vm,
		Width:         width,
		NumPlacements: len(placements) / width,
		Placements:    placements,
	}, nil
}

// Context is an execution context: one kernel queue plus the pool of fences its
// submissions signal
type Context struct {
	handle ContextHandle
	config ContextConfig
	queue  kmd.QueueID
	pool   *fence.Pool

	state       ContextState
	resets      int
	submissions int
}

// ContextResetStats reports an execution context's ban history
type ContextResetStats struct {
	State       ContextState
	ResetCount  int
	Queue       kmd.QueueID
	Submissions int
}

// FenceStats summarizes an execution context's fence pool
type FenceStats struct {
	Cap           int
	Live          int
	PeakLive      int
	Free          int
	Busy          int
	Referenced    int
	ForceReclaims int
}

// CreateContext creates an execution context on a new kernel queue
func (m *Manager) CreateContext(config ContextConfig) (ContextHandle, error) {
	m.logger.Debug("Manager::CreateContext")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkLiveLocked()
	if err != nil {
		return ContextHandle{}, err
	}

	queue, err := m.createQueueLocked(config)
	if err != nil {
		return ContextHandle{}, err
	}

	ctx := &Context{
		config: config,
		queue:  queue,
	}

	if !m.syncDisabled() {
		ctx.pool, err = fence.New(m.logger, m.driver, fence.Options{
			Mode:     m.syncMode.fenceMode(),
			Cap:      m.poolCap,
			SyncLock: m.syncLock,
		})
		if err != nil {
			destroyErr := m.driver.DestroyQueue(queue)
			if destroyErr != nil {
				m.logger.Error("error attempting to destroy queue after fence pool creation failure", slog.Any("error", destroyErr))
			}
			return ContextHandle{}, err
		}
	}

	ctx.handle = m.contexts.Insert(ctx)

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created context",
		slog.String("context", ctx.handle.String()),
		slog.String("engine", config.Engine.String()),
		slog.Int("width", config.width()),
		slog.Uint64("queue", uint64(queue)),
	)

	return ctx.handle, nil
}

// createQueueLocked creates a kernel queue for config and applies the engine timeslice
func (m *Manager) createQueueLocked(config ContextConfig) (kmd.QueueID, error) {
	info, err := config.queueInfo(m.vm)
	if err != nil {
		return 0, err
	}

	var queue kmd.QueueID
	err = kmd.Retry(func() error {
		var err error
		queue, err = m.driver.CreateQueue(info)
		return err
	})
	if err != nil {
		return 0, errors.Wrapf(err, "creating %s queue of width %d", config.Engine, info.Width)
	}

	m.applyTimeslice(queue, config, info)
	return queue, nil
}

func (m *Manager) applyTimeslice(queue kmd.QueueID, config ContextConfig, info kmd.QueueCreateInfo) {
	if config.Engine != kmd.EngineRender && config.Engine != kmd.EngineCompute {
		return
	}

	if info.Width*info.NumPlacements != 1 {
		return
	}

	if m.timeslice <= 0 || m.timeslice >= maxTimeslice {
		return
	}

	err := m.driver.SetQueueProperty(queue, kmd.QueuePropertyTimeslice, uint64(m.timeslice.Microseconds()))
	if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to apply engine timeslice",
			slog.Uint64("queue", uint64(queue)),
			slog.Duration("timeslice", m.timeslice),
			slog.Any("error", err),
		)
	}
}

func (m *Manager) contextLocked(h ContextHandle) (*Context, error) {
	ctx, err := m.contexts.Get(h)
	if err != nil {
		return nil, errors.Wrapf(err, "context %s", h)
	}
	return ctx, nil
}

// DestroyContext waits for every submission on the context, destroys its fences and queue,
// and invalidates its handle
func (m *Manager) DestroyContext(h ContextHandle) error {
	m.logger.Debug("Manager::DestroyContext")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.destroyContextLocked(h)
}

func (m *Manager) destroyContextLocked(h ContextHandle) error {
	ctx, err := m.contextLocked(h)
	if err != nil {
		return err
	}

	if ctx.pool != nil {
		err = ctx.pool.Destroy()
		if err != nil {
			return err
		}
	}

	err = m.driver.DestroyQueue(ctx.queue)
	if err != nil {
		// Drained and fenced, so nothing can still depend on it
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to destroy queue",
			slog.Uint64("queue", uint64(ctx.queue)),
			slog.Any("error", err),
		)
	}

	_, _ = m.contexts.Remove(h)

	m.buffers.Each(func(bo *BufferObject) bool {
		bo.deps.ForgetContext(h)
		return true
	})

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Destroyed context",
		slog.String("context", h.String()),
		slog.Int("submissions", ctx.submissions),
		slog.Int("resets", ctx.resets),
	)

	return nil
}

// ContextResetStats returns the context's ban state and how many times it was recovered
func (m *Manager) ContextResetStats(h ContextHandle) (ContextResetStats, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ctx, err := m.contextLocked(h)
	if err != nil {
		return ContextResetStats{}, err
	}

	return ContextResetStats{
		State:       ctx.state,
		ResetCount:  ctx.resets,
		Queue:       ctx.queue,
		Submissions: ctx.submissions,
	}, nil
}

// ContextFenceStats summarizes the context's fence pool. It is empty when synchronization
// is disabled.
func (m *Manager) ContextFenceStats(h ContextHandle) (FenceStats, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ctx, err := m.contextLocked(h)
	if err != nil {
		return FenceStats{}, err
	}

	if ctx.pool == nil {
		return FenceStats{}, nil
	}

	stats := ctx.pool.Stats()
	return FenceStats{
		Cap:           stats.Cap,
		Live:          stats.Live,
		PeakLive:      stats.PeakLive,
		Free:          stats.Free,
		Busy:          stats.Busy,
		Referenced:    stats.Referenced,
		ForceReclaims: stats.ForceClaims,
	}, nil
}

// SetContextPriority sets the scheduling priority of the context's queue
func (m *Manager) SetContextPriority(h ContextHandle, priority uint64) error {
	m.logger.Debug("Manager::SetContextPriority")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	ctx, err := m.contextLocked(h)
	if err != nil {
		return err
	}

	err = m.driver.SetQueueProperty(ctx.queue, kmd.QueuePropertyPriority, priority)
	if err != nil {
		return errors.Wrapf(err, "setting priority of context %s", h)
	}

	return nil
}

// ContextProperty reads a property of the context's queue
func (m *Manager) ContextProperty(h ContextHandle, property kmd.QueueProperty) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ctx, err := m.contextLocked(h)
	if err != nil {
		return 0, err
	}

	value, err := m.driver.GetQueueProperty(ctx.queue, property)
	if err != nil {
		return 0, errors.Wrapf(err, "reading %s of context %s", property, h)
	}

	return value, nil
}

