package sim

import (
	"time"

	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/sys/unix"
)

func (d *Device) CreateSync(flags kmd.SyncFlags) (kmd.SyncHandle, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CreateSync"); err != nil {
		return 0, err
	}

	s := &syncObject{}
	if flags&kmd.SyncCreateTimeline != 0 {
		s.timeline = true
		s.pending = make(map[uint64]*fence)
	} else if flags&kmd.SyncCreateSignaled != 0 {
		s.current = signaledFence()
	}

	handle := kmd.SyncHandle(d.allocID())
	d.syncs[handle] = s
	if len(d.syncs) > d.peakSyncs {
		d.peakSyncs = len(d.syncs)
	}

	return handle, nil
}

func (d *Device) DestroySync(handle kmd.SyncHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("DestroySync"); err != nil {
		return err
	}

	if _, ok := d.syncs[handle]; !ok {
		return kmd.Errno("DestroySync", unix.ENOENT)
	}

	delete(d.syncs, handle)
	d.cond.Broadcast()
	return nil
}

func (d *Device) ResetSync(handles ...kmd.SyncHandle) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ResetSync"); err != nil {
		return err
	}

	for _, handle := range handles {
		s, ok := d.syncs[handle]
		if !ok {
			return kmd.Errno("ResetSync", unix.ENOENT)
		}
		if s.timeline {
			return kmd.Errno("ResetSync", unix.EINVAL)
		}
	}

	for _, handle := range handles {
		d.syncs[handle].current = nil
	}

	return nil
}

func (d *Device) SignalSync(points ...kmd.SyncPoint) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("SignalSync"); err != nil {
		return err
	}

	for _, point := range points {
		s, ok := d.syncs[point.Handle]
		if !ok {
			return kmd.Errno("SignalSync", unix.ENOENT)
		}

		if !s.timeline {
			s.current = signaledFence()
			continue
		}

		if point.Value > s.value {
			s.value = point.Value
		}
		for value, f := range s.pending {
			if value <= s.value {
				f.signal(false)
				delete(s.pending, value)
			}
		}
	}

	d.process()
	d.cond.Broadcast()
	return nil
}

func (d *Device) QuerySync(handle kmd.SyncHandle) (uint64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("QuerySync"); err != nil {
		return 0, err
	}

	s, ok := d.syncs[handle]
	if !ok {
		return 0, kmd.Errno("QuerySync", unix.ENOENT)
	}

	if !s.timeline {
		return 0, kmd.Errno("QuerySync", unix.EINVAL)
	}

	return s.value, nil
}

func (d *Device) signaled(point kmd.SyncPoint) (bool, error) {
	s, ok := d.syncs[point.Handle]
	if !ok {
		return false, kmd.Errno("WaitSync", unix.ENOENT)
	}

	if s.timeline {
		return s.value >= point.Value, nil
	}

	return s.current != nil && s.current.done(), nil
}

func (d *Device) WaitSync(points []kmd.SyncPoint, timeout time.Duration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("WaitSync"); err != nil {
		return err
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		timer := time.AfterFunc(timeout, func() {
			d.mutex.Lock()
			defer d.mutex.Unlock()

			d.cond.Broadcast()
		})
		defer timer.Stop()
	}

	for {
		all := true
		for _, point := range points {
			done, err := d.signaled(point)
			if err != nil {
				return err
			}
			if !done {
				all = false
				break
			}
		}

		if all {
			return nil
		}

		if timeout == 0 || (timeout > 0 && !time.Now().Before(deadline)) {
			return kmd.Errno("WaitSync", unix.ETIME)
		}

		d.cond.Wait()
	}
}

func (d *Device) ExportSyncFile(point kmd.SyncPoint) (int, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ExportSyncFile"); err != nil {
		return -1, err
	}

	f, err := d.resolveWait("ExportSyncFile", point)
	if err != nil {
		return -1, err
	}
	if f == nil {
		f = signaledFence()
	}

	fd := d.allocFD()
	d.files[fd] = f
	return fd, nil
}

func (d *Device) ImportSyncFile(handle kmd.SyncHandle, syncFile int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("ImportSyncFile"); err != nil {
		return err
	}

	s, ok := d.syncs[handle]
	if !ok || s.timeline {
		return kmd.Errno("ImportSyncFile", unix.EINVAL)
	}

	f, ok := d.files[syncFile]
	if !ok {
		return kmd.Errno("ImportSyncFile", unix.EBADF)
	}

	s.current = f
	return nil
}

func (d *Device) CloseFile(fd int) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CloseFile"); err != nil {
		return err
	}

	if _, ok := d.files[fd]; !ok {
		return kmd.Errno("CloseFile", unix.EBADF)
	}

	delete(d.files, fd)
	return nil
}
