package bufmgr

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
)

// ImportFromExternal wraps a buffer shared by another process or driver. Importing a buffer
// the manager already holds returns the existing buffer object with an added reference.
// The size is taken from the kernel when it reports one.
func (m *Manager) ImportFromExternal(fd int, size uint64) (*BufferObject, error) {
	m.logger.Debug("Manager::ImportFromExternal")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkLiveLocked()
	if err != nil {
		return nil, err
	}

	var gem kmd.GemHandle
	var kernelSize uint64
	err = kmd.Retry(func() error {
		var err error
		gem, kernelSize, err = m.driver.ImportPrime(fd)
		return err
	})
	if err != nil {
		return nil, markf(err, ErrAllocation, "importing shared buffer %d", fd)
	}

	if bo, ok := m.named.Get(gem); ok && !bo.released {
		if bo.releasing {
			m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Revived releasing buffer object on import",
				slog.String("name", bo.name),
			)
		}
		bo.refs++
		return bo, nil
	}

	if kernelSize > 0 {
		size = kernelSize
	}
	if size == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "shared buffer %d has unknown size", fd)
	}

	bo := m.newBufferObject("imported", vma.ZoneImported, size, 0)
	bo.gem = gem
	bo.external = true
	bo.imported = true
	bo.primeFD = fd

	err = m.reserveLocked(bo)
	if err == nil {
		err = m.bindLocked(bo)
	}
	if err != nil {
		// The handle belongs to the exporter as much as to us; only undo the address
		bo.gem = 0
		m.abandonLocked(bo)
		return nil, err
	}

	m.named.Put(gem, bo)
	m.buffers.Register(bo)
	m.profile("import", bo)

	return bo, nil
}

// ExportToExternal waits for outstanding rendering, then returns a descriptor another process
// can import. From then on the buffer object is synchronized through its implicit fences.
func (bo *BufferObject) ExportToExternal() (int, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::ExportToExternal")

	for {
		err := bo.WaitRendering()
		if err != nil {
			return -1, err
		}

		m.mutex.Lock()
		if bo.external || bo.deps.Empty() {
			break
		}
		// Submitted to again while we waited
		m.mutex.Unlock()
	}
	defer m.mutex.Unlock()

	if bo.released || bo.refs == 0 {
		return -1, errors.Wrapf(ErrReleased, "exporting buffer object %q", bo.name)
	}

	if bo.primeFD >= 0 {
		return bo.primeFD, nil
	}

	err := m.ensureResidentLocked(bo)
	if err != nil {
		return -1, err
	}

	var fd int
	err = kmd.Retry(func() error {
		var err error
		fd, err = m.driver.ExportPrime(bo.gem)
		return err
	})
	if err != nil {
		return -1, errors.Wrapf(err, "exporting buffer object %q", bo.name)
	}

	bo.primeFD = fd
	bo.external = true
	m.named.Put(bo.gem, bo)

	return fd, nil
}
