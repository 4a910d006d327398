package sim

import "github.com/vkngwrapper/bufmgr/kmd"

// Execs returns every accepted exec in submission order
func (d *Device) Execs() []kmd.ExecInfo {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]kmd.ExecInfo(nil), d.execs...)
}

// LastExec returns the most recently accepted exec
func (d *Device) LastExec() (kmd.ExecInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if len(d.execs) == 0 {
		return kmd.ExecInfo{}, false
	}
	return d.execs[len(d.execs)-1], true
}

// LiveSyncObjects returns the number of synchronization objects that currently exist
func (d *Device) LiveSyncObjects() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.syncs)
}

// PeakSyncObjects returns the highest number of synchronization objects that ever existed at once
func (d *Device) PeakSyncObjects() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.peakSyncs
}

// BufferCount returns the number of open buffer handles
func (d *Device) BufferCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.buffers)
}

// BindingCount returns the number of live address bindings across all address spaces
func (d *Device) BindingCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	count := 0
	for _, space := range d.vms {
		count += len(space.bindings)
	}
	return count
}

// OpenFiles returns the number of sync file descriptors that have not been closed
func (d *Device) OpenFiles() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.files)
}

// QueueCount returns the number of live execution queues
func (d *Device) QueueCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.queues)
}

// QueueInfo returns the creation parameters of a live queue
func (d *Device) QueueInfo(id kmd.QueueID) (kmd.QueueCreateInfo, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	q, ok := d.queues[id]
	if !ok {
		return kmd.QueueCreateInfo{}, false
	}
	return q.info, true
}

// Pending returns the number of batches queued on a queue that have not completed
func (d *Device) Pending(id kmd.QueueID) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	q, ok := d.queues[id]
	if !ok {
		return 0
	}
	return len(q.pending)
}
