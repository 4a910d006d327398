package bufmgr

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/internal/deps"
	"github.com/vkngwrapper/bufmgr/kmd"
	"github.com/vkngwrapper/bufmgr/memutils"
	"github.com/vkngwrapper/bufmgr/vma"
	"golang.org/x/exp/slog"
)

// AllocateInfo describes a new buffer object
type AllocateInfo struct {
	// Name labels the buffer object in logs and statistics
	Name string
	// Size is the requested size in bytes. It is rounded up to the zone alignment.
	Size uint64
	// Alignment of the virtual address. Zero selects the zone alignment; any other value must
	// be a power of two.
	Alignment uint64
	// Zone selects system or device memory. ZoneImported is reserved for imports.
	Zone vma.Zone
}

// BufferObject is a reference-counted handle to GPU-accessible memory. Its virtual address
// is assigned once and stays fixed until the last reference is dropped and every
// submission that touched it has completed.
type BufferObject struct {
	manager *Manager

	name      string
	size      uint64
	alignment uint64
	zone      vma.Zone
	region    kmd.MemoryRegion

	gem      kmd.GemHandle
	address  uint64
	reserved bool
	bound    bool

	refs      int
	releasing bool
	released  bool

	external bool
	imported bool
	primeFD  int

	mapping mapping
	deps    *deps.Set

	next *BufferObject
	prev *BufferObject
}

// Allocate creates a buffer object holding one reference. Unless creation or binding is
// deferred, the kernel resource is created and bound to its virtual address immediately.
func (m *Manager) Allocate(info AllocateInfo) (*BufferObject, error) {
	m.logger.Debug("Manager::Allocate")

	if info.Size == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer object %q has zero size", info.Name)
	}

	if info.Zone != vma.ZoneSystem && info.Zone != vma.ZoneDevice {
		return nil, errors.Wrapf(ErrInvalidArgument, "buffer objects cannot be allocated in zone %s", info.Zone)
	}

	if info.Alignment != 0 {
		err := memutils.CheckPow2(info.Alignment, "buffer object alignment")
		if err != nil {
			return nil, errors.Mark(err, ErrInvalidArgument)
		}
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.checkLiveLocked()
	if err != nil {
		return nil, err
	}

	bo := m.newBufferObject(info.Name, info.Zone, info.Size, info.Alignment)
	if info.Zone == vma.ZoneDevice {
		bo.region = kmd.RegionDevice
	}

	if !m.deferredCreation() {
		err = m.createResourceLocked(bo)
		if err != nil {
			return nil, err
		}
	}

	if !m.deferredBinding() {
		err = m.reserveLocked(bo)
		if err == nil && bo.gem != 0 {
			err = m.bindLocked(bo)
		}
		if err != nil {
			m.abandonLocked(bo)
			return nil, err
		}
	}

	m.buffers.Register(bo)
	m.profile("alloc", bo)

	m.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated buffer object",
		slog.String("name", bo.name),
		slog.String("zone", bo.zone.String()),
		slog.Uint64("size", bo.size),
		slog.Uint64("address", bo.address),
	)

	return bo, nil
}

func (m *Manager) newBufferObject(name string, zone vma.Zone, size, alignment uint64) *BufferObject {
	bo := &BufferObject{
		manager:   m,
		name:      name,
		size:      m.arena.AlignedSize(zone, size),
		alignment: memutils.Max(alignment, m.arena.Layout(zone).Alignment),
		zone:      zone,
		refs:      1,
		primeFD:   -1,
		deps:      deps.NewSet(),
	}
	bo.mapping.mutex.UseMutex = m.mutex.UseMutex

	return bo
}

// reserveLocked assigns the buffer object's virtual address
func (m *Manager) reserveLocked(bo *BufferObject) error {
	if bo.reserved {
		return nil
	}

	address, err := m.arena.Alloc(bo.zone, bo.size, bo.alignment)
	if err != nil {
		return markf(err, ErrAllocation, "reserving %#x bytes for buffer object %q", bo.size, bo.name)
	}

	bo.address = address
	bo.reserved = true
	return nil
}

func (m *Manager) createResourceLocked(bo *BufferObject) error {
	if bo.gem != 0 {
		return nil
	}

	var gem kmd.GemHandle
	err := kmd.Retry(func() error {
		var err error
		gem, err = m.driver.CreateBuffer(bo.size, bo.region)
		return err
	})
	if err != nil {
		return markf(err, ErrAllocation, "creating %#x byte %s buffer %q", bo.size, bo.region, bo.name)
	}

	bo.gem = gem
	return nil
}

func (m *Manager) bindLocked(bo *BufferObject) error {
	if bo.bound {
		return nil
	}

	err := kmd.Retry(func() error {
		return m.driver.BindAddress(m.vm, bo.gem, bo.address, bo.size)
	})
	if err != nil {
		return markf(err, ErrBind, "binding buffer %q at %#x", bo.name, bo.address)
	}

	bo.bound = true
	return nil
}

// ensureResidentLocked creates the kernel resource and binds the virtual address, whichever
// of the two has not happened yet
func (m *Manager) ensureResidentLocked(bo *BufferObject) error {
	err := m.createResourceLocked(bo)
	if err != nil {
		return err
	}

	err = m.reserveLocked(bo)
	if err != nil {
		return err
	}

	return m.bindLocked(bo)
}

// abandonLocked undoes a partially constructed buffer object
func (m *Manager) abandonLocked(bo *BufferObject) {
	bo.refs = 0
	err := m.releaseResourcesLocked(bo)
	if err != nil {
		m.logger.Error("error releasing buffer object after failed allocation", slog.Any("error", err))
	}
}

// releaseResourcesLocked unbinds, closes and unreserves whatever the buffer object holds
func (m *Manager) releaseResourcesLocked(bo *BufferObject) error {
	var errs error

	if bo.gem != 0 {
		leaked, err := bo.mapping.Release(m.driver, bo.gem)
		if leaked > 0 {
			m.logger.LogAttrs(context.Background(), slog.LevelWarn, "buffer object released while mapped",
				slog.String("name", bo.name),
				slog.Int("mappings", leaked),
			)
		}
		errs = errors.CombineErrors(errs, err)
	}

	if bo.bound {
		err := m.driver.UnbindAddress(m.vm, bo.address, bo.size)
		if err != nil {
			errs = errors.CombineErrors(errs, markf(err, ErrBind, "unbinding buffer %q at %#x", bo.name, bo.address))
		}
		bo.bound = false
	}

	if bo.gem != 0 {
		err := m.driver.CloseBuffer(bo.gem)
		if err != nil {
			errs = errors.CombineErrors(errs, markf(err, ErrAllocation, "closing buffer %q", bo.name))
		}
		bo.gem = 0
	}

	if bo.reserved {
		err := m.arena.Free(bo.zone, bo.address, bo.size)
		if err != nil {
			errs = errors.CombineErrors(errs, markf(err, ErrAllocation, "freeing address range of buffer %q", bo.name))
		}
		bo.reserved = false
	}

	return errs
}

// teardownLocked releases a buffer object whose last reference is gone and whose fences
// have all signaled
func (m *Manager) teardownLocked(bo *BufferObject) error {
	bo.released = true
	bo.releasing = false
	bo.refs = 0

	m.buffers.Unregister(bo)
	if bo.gem != 0 {
		if named, ok := m.named.Get(bo.gem); ok && named == bo {
			m.named.Delete(bo.gem)
		}
	}

	m.profile("free", bo)
	bo.deps.Clear()

	return m.releaseResourcesLocked(bo)
}

// Name returns the label the buffer object was allocated with
func (bo *BufferObject) Name() string { return bo.name }

// Size returns the size in bytes, rounded up to the zone alignment
func (bo *BufferObject) Size() uint64 { return bo.size }

// Alignment returns the alignment of the virtual address
func (bo *BufferObject) Alignment() uint64 { return bo.alignment }

// Zone returns the virtual address zone the buffer object lives in
func (bo *BufferObject) Zone() vma.Zone { return bo.zone }

// IsExternal reports whether the buffer object is shared with another process
func (bo *BufferObject) IsExternal() bool {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.external
}

// References returns the current reference count
func (bo *BufferObject) References() int {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.refs
}

// MapCount returns the number of outstanding Map calls
func (bo *BufferObject) MapCount() int {
	return bo.mapping.References()
}

// LastWriter returns the context whose write to the buffer object is outstanding, if any
func (bo *BufferObject) LastWriter() (ContextHandle, bool) {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	writer, ok := bo.deps.Writer()
	return writer.Context, ok
}

// LastReader returns the context that most recently read the buffer object, if that read
// is outstanding
func (bo *BufferObject) LastReader() (ContextHandle, bool) {
	bo.manager.mutex.Lock()
	defer bo.manager.mutex.Unlock()

	return bo.deps.LastReader()
}

// Address returns the buffer object's virtual address, creating and binding the kernel
// resource first if that was deferred
func (bo *BufferObject) Address() (uint64, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::Address")

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.released {
		return 0, errors.Wrapf(ErrReleased, "buffer object %q", bo.name)
	}

	err := m.ensureResidentLocked(bo)
	if err != nil {
		return 0, err
	}

	return bo.address, nil
}

// Reference adds a reference
func (bo *BufferObject) Reference() error {
	m := bo.manager
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.released || bo.refs == 0 {
		return errors.Wrapf(ErrReleased, "referencing buffer object %q", bo.name)
	}

	bo.refs++
	return nil
}

// Unreference drops a reference. Dropping the last one waits for every submission that
// touched the buffer object, then releases its kernel resource and address range. Calls past
// the last reference are ignored.
func (bo *BufferObject) Unreference() error {
	m := bo.manager
	m.logger.Debug("BufferObject::Unreference")

	m.mutex.Lock()
	if bo.refs == 0 {
		m.mutex.Unlock()
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "buffer object unreferenced after its last reference",
			slog.String("name", bo.name),
		)
		return nil
	}

	bo.refs--
	if bo.refs > 0 {
		m.mutex.Unlock()
		return nil
	}
	bo.releasing = true
	m.mutex.Unlock()

	err := bo.wait(deps.AccessWrite, kmd.WaitForever)
	if err != nil {
		m.logger.Error("error waiting for buffer object before release", slog.String("name", bo.name), slog.Any("error", err))
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.refs > 0 || bo.released {
		// Revived by an import of the same kernel buffer while we waited
		bo.releasing = false
		return nil
	}

	teardownErr := m.teardownLocked(bo)
	return errors.CombineErrors(err, teardownErr)
}

// Map waits for conflicting GPU work and returns a CPU view of the buffer object. A read
// mapping waits for the outstanding writer; a write mapping waits for every outstanding
// access.
func (bo *BufferObject) Map(forWrite bool) ([]byte, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::Map")

	access := deps.AccessRead
	if forWrite {
		access = deps.AccessWrite
	}

	m.mutex.Lock()
	if bo.released || bo.refs == 0 {
		m.mutex.Unlock()
		return nil, errors.Wrapf(ErrReleased, "mapping buffer object %q", bo.name)
	}

	err := m.ensureResidentLocked(bo)
	gem := bo.gem
	m.mutex.Unlock()
	if err != nil {
		return nil, markf(err, ErrMap, "preparing buffer object %q for mapping", bo.name)
	}

	err = bo.wait(access, kmd.WaitForever)
	if err != nil {
		return nil, markf(err, ErrMap, "waiting to map buffer object %q", bo.name)
	}

	return bo.mapping.Map(m.driver, gem, bo.size)
}

// Unmap drops a mapping taken with Map. Unmapping a buffer object that is not mapped returns
// ErrInvalidArgument.
func (bo *BufferObject) Unmap() error {
	m := bo.manager
	m.logger.Debug("BufferObject::Unmap")

	m.mutex.Lock()
	gem := bo.gem
	m.mutex.Unlock()

	unmapped, err := bo.mapping.Unmap(m.driver, gem)
	if err != nil {
		return err
	}

	if !unmapped {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "buffer object unmapped while not mapped",
			slog.String("name", bo.name),
		)
		return errors.Wrapf(ErrInvalidArgument, "buffer object %q is not mapped", bo.name)
	}

	return nil
}

// Busy reports whether any submission touching the buffer object is still running, without
// blocking
func (bo *BufferObject) Busy() (bool, error) {
	m := bo.manager
	m.logger.Debug("BufferObject::Busy")

	if m.syncDisabled() {
		return false, nil
	}

	err := bo.wait(deps.AccessWrite, 0)
	if errors.Is(err, ErrTimeout) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	return false, nil
}

// Wait blocks until every submission touching the buffer object has completed. A negative
// timeout waits forever, zero polls, and an expired wait returns ErrTimeout.
func (bo *BufferObject) Wait(timeout time.Duration) error {
	bo.manager.logger.Debug("BufferObject::Wait")

	return bo.wait(deps.AccessWrite, timeout)
}

// WaitRendering blocks until every submission touching the buffer object has completed
func (bo *BufferObject) WaitRendering() error {
	bo.manager.logger.Debug("BufferObject::WaitRendering")

	return bo.wait(deps.AccessWrite, kmd.WaitForever)
}

func (bo *BufferObject) printParameters(json *jwriter.ObjectState) {
	json.Name("Name").String(bo.name)
	json.Name("Zone").String(bo.zone.String())
	json.Name("Size").Float64(float64(bo.size))
	if bo.reserved {
		json.Name("Address").Float64(float64(bo.address))
	}
	json.Name("References").Int(bo.refs)
	json.Name("Mappings").Int(bo.mapping.References())
	json.Name("Resident").Bool(bo.bound)

	if bo.imported {
		json.Name("Imported").Bool(true)
	} else if bo.external {
		json.Name("Exported").Bool(true)
	}

	if writer, ok := bo.deps.Writer(); ok {
		json.Name("Writer").String(writer.Context.String())
	}
	if readers := bo.deps.ReaderCount(); readers > 0 {
		json.Name("Readers").Int(readers)
	}
}
