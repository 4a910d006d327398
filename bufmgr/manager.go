// Package bufmgr manages GPU buffer objects, the execution contexts work is submitted on,
// and the fences that order that work. A Manager is created once per open device. Buffer
// objects are placed in a virtual address arena, submissions draw completion fences from
// per-context pools, and a per-object dependency tracker computes the smallest set of
// fences each submission or CPU access must wait on.
package bufmgr

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/internal/handle"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
)

// Manager owns every buffer object and execution context of one device
type Manager struct {
	logger   *slog.Logger
	profiler *slog.Logger
	driver   kmd.Driver

	createFlags   CreateFlags
	syncMode      SyncMode
	poolCap       int
	disabledDelay time.Duration
	timeslice     time.Duration

	// mutex guards buffer object state, dependency sets and contexts. It is taken before
	// any fence pool lock.
	mutex utils.OptionalMutex
	// syncLock orders kernel synchronization object create/reset/destroy against waits
	syncLock *sync.RWMutex

	arena *vma.Arena
	vm    kmd.VMID

	buffers  bufferList
	named    *swiss.Map[kmd.GemHandle, *BufferObject]
	contexts handle.Table[*Context]

	destroyed bool
}

// SyncMode returns the synchronization mode the manager was created with
func (m *Manager) SyncMode() SyncMode {
	return m.syncMode
}

// Arena exposes the manager's virtual address arena for inspection
func (m *Manager) Arena() *vma.Arena {
	return m.arena
}

// BufferCount returns the number of live buffer objects
func (m *Manager) BufferCount() int {
	return m.buffers.Len()
}

// Destroy drains and destroys every context, releases any buffer objects that are still
// referenced, and destroys the virtual address space. Leaked buffer objects are logged.
func (m *Manager) Destroy() error {
	m.logger.Debug("Manager::Destroy")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.destroyed {
		return nil
	}

	var handles []ContextHandle
	m.contexts.Each(func(h handle.Handle, _ *Context) bool {
		handles = append(handles, h)
		return true
	})

	var errs error
	for _, h := range handles {
		errs = errors.CombineErrors(errs, m.destroyContextLocked(h))
	}

	var leaked []*BufferObject
	m.buffers.Each(func(bo *BufferObject) bool {
		leaked = append(leaked, bo)
		return true
	})

	for _, bo := range leaked {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED BUFFER]",
			slog.String("name", bo.name),
			slog.Uint64("size", bo.size),
			slog.String("zone", bo.zone.String()),
			slog.Uint64("address", bo.address),
			slog.Int("references", bo.refs),
		)
		errs = errors.CombineErrors(errs, m.teardownLocked(bo))
	}

	err := m.driver.DestroyVM(m.vm)
	if err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "destroying virtual address space %d", m.vm))
	}

	m.destroyed = true
	return errs
}

func (m *Manager) checkLiveLocked() error {
	if m.destroyed {
		return errors.Wrap(ErrInvalidArgument, "manager has been destroyed")
	}
	return nil
}

func (m *Manager) profile(event string, bo *BufferObject) {
	if m.profiler == nil {
		return
	}

	m.profiler.LogAttrs(context.Background(), slog.LevelInfo, event,
		slog.String("name", bo.name),
		slog.Uint64("size", bo.size),
		slog.String("zone", bo.zone.String()),
		slog.Uint64("address", bo.address),
		slog.Uint64("handle", uint64(bo.gem)),
	)
}

// sleepDisabled stands in for a CPU wait when synchronization is disabled
func (m *Manager) sleepDisabled(timeout time.Duration) {
	delay := m.disabledDelay
	if timeout >= 0 && timeout < delay {
		delay = timeout
	}

	if delay > 0 {
		time.Sleep(delay)
	}
}
