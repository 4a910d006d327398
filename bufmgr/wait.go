package bufmgr

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/deps"
	"github.com/vkngwrapper/bufmgr/internal/fence"
	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/exp/slog"
)

type pinnedFence struct {
	pool  *fence.Pool
	fence *fence.Fence
}

// waitList is what a CPU wait blocks on. Tracked fences are pinned so they cannot be
// recycled mid-wait; shared buffers contribute temporary synchronization objects holding
// their implicit fences.
type waitList struct {
	points []kmd.SyncPoint
	pinned []pinnedFence
	temps  []kmd.SyncHandle
	deps   []deps.Dep
}

func (bo *BufferObject) wait(access deps.Access, timeout time.Duration) error {
	m := bo.manager

	if m.syncDisabled() {
		m.sleepDisabled(timeout)
		return nil
	}

	m.mutex.Lock()
	if bo.released {
		m.mutex.Unlock()
		return errors.Wrapf(ErrReleased, "waiting on buffer object %q", bo.name)
	}

	waits, err := m.collectWaitsLocked(bo, access)
	m.mutex.Unlock()
	if err != nil {
		return err
	}

	if len(waits.points) == 0 {
		return nil
	}

	err = fence.Wait(m.driver, m.syncLock, waits.points, timeout)
	// Pins must be dropped before the manager lock is retaken: fence reclaim and context
	// teardown wait on them while holding it
	m.releaseWaits(waits)
	if kmd.IsTimeout(err) {
		return markf(err, ErrTimeout, "waiting on buffer object %q", bo.name)
	}
	if err != nil {
		return markf(err, ErrSyncObject, "waiting on buffer object %q", bo.name)
	}

	if len(waits.deps) == 0 {
		return nil
	}

	// A dep whose fence was recycled meanwhile carries a stale generation and is left alone
	m.mutex.Lock()
	for _, dep := range waits.deps {
		bo.deps.Forget(dep)
	}
	m.mutex.Unlock()

	return nil
}

// collectWaitsLocked gathers the points a CPU access to bo must wait on
func (m *Manager) collectWaitsLocked(bo *BufferObject, access deps.Access) (*waitList, error) {
	waits := &waitList{}

	if bo.external {
		point, err := m.importBufferFenceLocked(bo, access)
		if err != nil {
			return nil, err
		}

		waits.temps = append(waits.temps, point.Handle)
		waits.points = append(waits.points, point)
		return waits, nil
	}

	for _, dep := range bo.deps.CPUWaitSet(access, nil) {
		ctx, err := m.contexts.Get(dep.Context)
		if err != nil {
			bo.deps.Forget(dep)
			continue
		}

		f, err := ctx.pool.Reference(dep.Fence)
		if err != nil {
			// Recycled, so it has signaled
			bo.deps.Forget(dep)
			continue
		}

		waits.pinned = append(waits.pinned, pinnedFence{pool: ctx.pool, fence: f})
		waits.points = append(waits.points, f.Point())
		waits.deps = append(waits.deps, dep)
	}

	return waits, nil
}

func (m *Manager) releaseWaits(waits *waitList) {
	for _, pinned := range waits.pinned {
		pinned.pool.Unreference(pinned.fence)
	}

	for _, temp := range waits.temps {
		err := m.destroyTempSync(temp)
		if err != nil {
			m.logger.Error("error destroying temporary synchronization object", slog.Any("error", err))
		}
	}
}

// importBufferFenceLocked captures a shared buffer's implicit fences in a temporary binary
// synchronization object. A write collects every outstanding fence, a read only the writer's.
func (m *Manager) importBufferFenceLocked(bo *BufferObject, access deps.Access) (kmd.SyncPoint, error) {
	var flags kmd.SyncFlags
	if access.Writes() {
		flags = kmd.SyncFenceWrite
	}

	var syncFile int
	err := kmd.Retry(func() error {
		var err error
		syncFile, err = m.driver.ExportBufferFence(bo.primeFD, flags)
		return err
	})
	if err != nil {
		return kmd.SyncPoint{}, markf(err, ErrSyncObject, "exporting implicit fences of buffer object %q", bo.name)
	}
	defer m.closeFile(syncFile)

	temp, err := m.createTempSync()
	if err != nil {
		return kmd.SyncPoint{}, err
	}

	err = m.driver.ImportSyncFile(temp, syncFile)
	if err != nil {
		destroyErr := m.destroyTempSync(temp)
		if destroyErr != nil {
			m.logger.Error("error destroying temporary synchronization object", slog.Any("error", destroyErr))
		}
		return kmd.SyncPoint{}, markf(err, ErrSyncObject, "importing implicit fences of buffer object %q", bo.name)
	}

	return kmd.SyncPoint{Handle: temp}, nil
}

// exportBufferFence attaches a completed submission's point to a shared buffer's implicit
// fences, as a writer when the access includes a write
func (m *Manager) exportBufferFence(bo *BufferObject, access deps.Access, point kmd.SyncPoint) error {
	var syncFile int
	err := kmd.Retry(func() error {
		var err error
		syncFile, err = m.driver.ExportSyncFile(point)
		return err
	})
	if err != nil {
		return markf(err, ErrSyncObject, "exporting %s", point)
	}
	defer m.closeFile(syncFile)

	var flags kmd.SyncFlags
	if access.Writes() {
		flags = kmd.SyncFenceWrite
	}

	err = m.driver.ImportBufferFence(bo.primeFD, syncFile, flags)
	if err != nil {
		return markf(err, ErrSyncObject, "attaching %s to buffer object %q", point, bo.name)
	}

	return nil
}

func (m *Manager) createTempSync() (kmd.SyncHandle, error) {
	m.syncLock.Lock()
	defer m.syncLock.Unlock()

	var temp kmd.SyncHandle
	err := kmd.Retry(func() error {
		var err error
		temp, err = m.driver.CreateSync(0)
		return err
	})
	if err != nil {
		return 0, markf(err, ErrSyncObject, "creating temporary synchronization object")
	}

	return temp, nil
}

func (m *Manager) destroyTempSync(temp kmd.SyncHandle) error {
	m.syncLock.Lock()
	defer m.syncLock.Unlock()

	err := m.driver.DestroySync(temp)
	if err != nil {
		return markf(err, ErrSyncObject, "destroying temporary synchronization object %d", temp)
	}

	return nil
}

func (m *Manager) closeFile(fd int) {
	err := m.driver.CloseFile(fd)
	if err != nil {
		m.logger.Error("error closing sync file", slog.Int("fd", fd), slog.Any("error", err))
	}
}
