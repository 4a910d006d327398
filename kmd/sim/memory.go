package sim

import (
	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

func (d *Device) CreateVM() (kmd.VMID, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CreateVM"); err != nil {
		return 0, err
	}

	id := kmd.VMID(d.allocID())
	d.vms[id] = &vm{bindings: make(map[uint64]binding)}
	return id, nil
}

func (d *Device) DestroyVM(id kmd.VMID) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("DestroyVM"); err != nil {
		return err
	}

	if _, ok := d.vms[id]; !ok {
		return kmd.Errno("DestroyVM", unix.ENOENT)
	}

	delete(d.vms, id)
	return nil
}

func (d *Device) CreateBuffer(size uint64, region kmd.MemoryRegion) (kmd.GemHandle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CreateBuffer"); err != nil {
		return 0, err
	}

	if size == 0 || size%pageSize != 0 {
		return 0, kmd.Errno("CreateBuffer", unix.EINVAL)
	}

	handle := kmd.GemHandle(d.allocID())
	d.buffers[handle] = &buffer{size: size, region: region, primeFD: -1}
	return handle, nil
}

func (d *Device) CloseBuffer(handle kmd.GemHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CloseBuffer"); err != nil {
		return err
	}

	b, ok := d.buffers[handle]
	if !ok {
		return kmd.Errno("CloseBuffer", unix.ENOENT)
	}

	for _, space := range d.vms {
		for _, bound := range space.bindings {
			if bound.handle == handle {
				return kmd.Errno("CloseBuffer", unix.EBUSY)
			}
		}
	}

	if b.primeFD >= 0 {
		delete(d.primes, b.primeFD)
	}
	delete(d.buffers, handle)
	return nil
}

func (d *Device) MapBuffer(handle kmd.GemHandle, size uint64) ([]byte, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("MapBuffer"); err != nil {
		return nil, err
	}

	b, ok := d.buffers[handle]
	if !ok {
		return nil, kmd.Errno("MapBuffer", unix.ENOENT)
	}

	if size > b.size {
		return nil, kmd.Errno("MapBuffer", unix.EINVAL)
	}

	if b.data == nil {
		b.data = make([]byte, b.size)
	}
	b.maps++

	return b.data[:size], nil
}

func (d *Device) UnmapBuffer(handle kmd.GemHandle, data []byte) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("UnmapBuffer"); err != nil {
		return err
	}

	b, ok := d.buffers[handle]
	if !ok || b.maps == 0 {
		return kmd.Errno("UnmapBuffer", unix.EINVAL)
	}

	b.maps--
	return nil
}

func (d *Device) BindAddress(id kmd.VMID, handle kmd.GemHandle, address uint64, size uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("BindAddress"); err != nil {
		return err
	}

	space, ok := d.vms[id]
	if !ok {
		return kmd.Errno("BindAddress", unix.ENOENT)
	}

	b, ok := d.buffers[handle]
	if !ok {
		return kmd.Errno("BindAddress", unix.ENOENT)
	}

	if address == 0 || address%pageSize != 0 || size < b.size || address+size > kmd.AddressLimit {
		return kmd.Errno("BindAddress", unix.EINVAL)
	}

	for start, bound := range space.bindings {
		if address < start+bound.size && start < address+size {
			return kmd.Errno("BindAddress", unix.EEXIST)
		}
	}

	space.bindings[address] = binding{handle: handle, size: size}
	return nil
}

func (d *Device) UnbindAddress(id kmd.VMID, address uint64, size uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("UnbindAddress"); err != nil {
		return err
	}

	space, ok := d.vms[id]
	if !ok {
		return kmd.Errno("UnbindAddress", unix.ENOENT)
	}

	bound, ok := space.bindings[address]
	if !ok || bound.size != size {
		return kmd.Errno("UnbindAddress", unix.EINVAL)
	}

	delete(space.bindings, address)
	return nil
}

func (d *Device) ExportPrime(handle kmd.GemHandle) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ExportPrime"); err != nil {
		return -1, err
	}

	b, ok := d.buffers[handle]
	if !ok {
		return -1, kmd.Errno("ExportPrime", unix.ENOENT)
	}

	if b.primeFD < 0 {
		b.primeFD = d.allocFD()
		d.primes[b.primeFD] = handle
	}

	return b.primeFD, nil
}

func (d *Device) ImportPrime(fd int) (kmd.GemHandle, uint64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ImportPrime"); err != nil {
		return 0, 0, err
	}

	handle, ok := d.primes[fd]
	if !ok {
		return 0, 0, kmd.Errno("ImportPrime", unix.EBADF)
	}

	return handle, d.buffers[handle].size, nil
}

// ShareBuffer creates a buffer as another process would and returns its shareable
// descriptor, for exercising imports
func (d *Device) ShareBuffer(size uint64) (int, error) {
	handle, err := d.CreateBuffer(size, kmd.RegionSystem)
	if err != nil {
		return -1, err
	}

	return d.ExportPrime(handle)
}

func (d *Device) bufferByPrime(call string, fd int) (*buffer, error) {
	handle, ok := d.primes[fd]
	if !ok {
		return nil, kmd.Errno(call, unix.EBADF)
	}

	return d.buffers[handle], nil
}

func (d *Device) ExportBufferFence(primeFD int, flags kmd.SyncFlags) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ExportBufferFence"); err != nil {
		return -1, err
	}

	b, err := d.bufferByPrime("ExportBufferFence", primeFD)
	if err != nil {
		return -1, err
	}

	fences := []*fence{b.writer}
	if flags&kmd.SyncFenceWrite != 0 {
		fences = append(fences, b.readers...)
	}

	fd := d.allocFD()
	d.files[fd] = mergeFences(fences)
	return fd, nil
}

func (d *Device) ImportBufferFence(primeFD int, syncFile int, flags kmd.SyncFlags) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ImportBufferFence"); err != nil {
		return err
	}

	b, err := d.bufferByPrime("ImportBufferFence", primeFD)
	if err != nil {
		return err
	}

	f, ok := d.files[syncFile]
	if !ok {
		return kmd.Errno("ImportBufferFence", unix.EBADF)
	}

	if flags&kmd.SyncFenceWrite != 0 {
		b.writer = f
	} else {
		b.readers = append(b.readers, f)
	}

	live := b.readers[:0]
	for _, reader := range b.readers {
		if !reader.done() {
			live = append(live, reader)
		}
	}
	b.readers = live

	return nil
}
