package sim

import (
	"time"

	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/sys/unix"
)

func (d *Device) CreateQueue(info kmd.QueueCreateInfo) (kmd.QueueID, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("CreateQueue"); err != nil {
		return 0, err
	}

	if _, ok := d.vms[info.VM]; !ok {
		return 0, kmd.Errno("CreateQueue", unix.ENOENT)
	}

	if info.Width < 1 || info.NumPlacements < 1 || len(info.Placements) != info.Width*info.NumPlacements {
		return 0, kmd.Errno("CreateQueue", unix.EINVAL)
	}

	id := kmd.QueueID(d.allocID())
	placements := make([]kmd.EngineInstance, len(info.Placements))
	copy(placements, info.Placements)
	info.Placements = placements

	d.queues[id] = &queue{
		id:    id,
		info:  info,
		props: make(map[kmd.QueueProperty]uint64),
	}
	return id, nil
}

func (d *Device) DestroyQueue(id kmd.QueueID) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("DestroyQueue"); err != nil {
		return err
	}

	q, ok := d.queues[id]
	if !ok {
		return kmd.Errno("DestroyQueue", unix.ENOENT)
	}

	d.cancelPending(q)
	delete(d.queues, id)
	d.cond.Broadcast()
	return nil
}

func (d *Device) GetQueueProperty(id kmd.QueueID, property kmd.QueueProperty) (uint64, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("GetQueueProperty"); err != nil {
		return 0, err
	}

	q, ok := d.queues[id]
	if !ok {
		return 0, kmd.Errno("GetQueueProperty", unix.ENOENT)
	}

	if property == kmd.QueuePropertyBan {
		if q.banned {
			return 1, nil
		}
		return 0, nil
	}

	return q.props[property], nil
}

func (d *Device) SetQueueProperty(id kmd.QueueID, property kmd.QueueProperty, value uint64) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("SetQueueProperty"); err != nil {
		return err
	}

	q, ok := d.queues[id]
	if !ok {
		return kmd.Errno("SetQueueProperty", unix.ENOENT)
	}

	if property == kmd.QueuePropertyBan {
		return kmd.Errno("SetQueueProperty", unix.EINVAL)
	}

	q.props[property] = value
	return nil
}

// resolveWait returns the fence a wait point refers to at submission time. nil means the
// point has already signaled.
func (d *Device) resolveWait(call string, point kmd.SyncPoint) (*fence, error) {
	s, ok := d.syncs[point.Handle]
	if !ok {
		return nil, kmd.Errno(call, unix.ENOENT)
	}

	if !s.timeline {
		if s.current == nil {
			return nil, kmd.Errno(call, unix.EINVAL)
		}
		return s.current, nil
	}

	if s.value >= point.Value {
		return nil, nil
	}

	f, ok := s.pending[point.Value]
	if !ok {
		return nil, kmd.Errno(call, unix.EINVAL)
	}
	return f, nil
}

func (d *Device) isBound(space *vm, address uint64) bool {
	for start, bound := range space.bindings {
		if address >= start && address < start+bound.size {
			return true
		}
	}

	return false
}

func (d *Device) Exec(info kmd.ExecInfo) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.injected("Exec"); err != nil {
		return err
	}

	q, ok := d.queues[info.Queue]
	if !ok {
		return kmd.Errno("Exec", unix.ENOENT)
	}

	if q.banned {
		return kmd.Errno("Exec", unix.ECANCELED)
	}

	d.execCount++
	if d.options.BanEvery > 0 && d.execCount%d.options.BanEvery == 0 {
		d.ban(q)
		return kmd.Errno("Exec", unix.ECANCELED)
	}

	if len(info.Addresses) != q.info.Width {
		return kmd.Errno("Exec", unix.EINVAL)
	}

	space := d.vms[q.info.VM]
	for _, address := range info.Addresses {
		if space == nil || !d.isBound(space, address) {
			return kmd.Errno("Exec", unix.EINVAL)
		}
	}

	j := &job{
		queue:     q,
		fence:     &fence{},
		submitted: time.Now(),
	}

	for _, point := range info.Waits {
		f, err := d.resolveWait("Exec", point)
		if err != nil {
			return err
		}
		if f != nil {
			j.waits = append(j.waits, f)
		}
	}

	if info.Signal.Handle != 0 {
		s, ok := d.syncs[info.Signal.Handle]
		if !ok {
			return kmd.Errno("Exec", unix.ENOENT)
		}

		if s.timeline {
			if info.Signal.Value <= s.value {
				return kmd.Errno("Exec", unix.EINVAL)
			}
			s.pending[info.Signal.Value] = j.fence
		} else {
			s.current = j.fence
		}
		j.signal = info.Signal
	}

	recorded := info
	recorded.Waits = append([]kmd.SyncPoint(nil), info.Waits...)
	recorded.Addresses = append([]uint64(nil), info.Addresses...)
	d.execs = append(d.execs, recorded)

	q.pending = append(q.pending, j)
	q.executed++
	d.process()

	return nil
}

func (d *Device) ready(j *job, now time.Time) bool {
	for _, f := range j.waits {
		if !f.done() {
			return false
		}
	}

	if j.readyAt.IsZero() {
		j.readyAt = now
	}

	return d.options.Manual || d.options.Latency <= 0 || now.Sub(j.readyAt) >= d.options.Latency
}

func (d *Device) completeJob(j *job, canceled bool) {
	j.fence.signal(canceled)

	if j.signal.Handle == 0 {
		return
	}

	s, ok := d.syncs[j.signal.Handle]
	if !ok || !s.timeline {
		return
	}

	if j.signal.Value > s.value {
		s.value = j.signal.Value
	}

	for value, f := range s.pending {
		if value <= s.value {
			f.signal(f.canceled)
			delete(s.pending, value)
		}
	}
}

// process retires every queue head whose waits are satisfied until nothing changes. Must be
// called with the device lock held.
func (d *Device) process() {
	if d.options.Manual {
		d.cond.Broadcast()
		return
	}

	d.retire(-1)
}

func (d *Device) retire(limit int) int {
	now := time.Now()
	retired := 0
	var nextWake time.Duration

	for progress := true; progress; {
		progress = false
		for _, q := range d.queues {
			for len(q.pending) > 0 && (limit < 0 || retired < limit) {
				head := q.pending[0]
				if !d.ready(head, now) {
					if !head.readyAt.IsZero() {
						remaining := d.options.Latency - now.Sub(head.readyAt)
						if nextWake == 0 || remaining < nextWake {
							nextWake = remaining
						}
					}
					break
				}

				q.pending = q.pending[1:]
				d.completeJob(head, false)
				retired++
				progress = true
			}
		}
	}

	if nextWake > 0 && !d.options.Manual {
		time.AfterFunc(nextWake, func() {
			d.mutex.Lock()
			defer d.mutex.Unlock()

			d.retire(-1)
		})
	}

	if retired > 0 {
		d.cond.Broadcast()
	}

	return retired
}

func (d *Device) cancelPending(q *queue) {
	for _, j := range q.pending {
		d.completeJob(j, true)
	}
	q.pending = nil
}

func (d *Device) ban(q *queue) {
	q.banned = true
	d.cancelPending(q)
	d.cond.Broadcast()
}

// Ban revokes a queue as the kernel would after a hang. Pending batches are cancelled,
// signaling their fences, and every later exec fails with ECANCELED.
func (d *Device) Ban(id kmd.QueueID) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if q, ok := d.queues[id]; ok {
		d.ban(q)
	}
}

// Complete retires up to n ready batches across all queues in Manual mode and returns how
// many were retired
func (d *Device) Complete(n int) int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.retire(n)
}

// CompleteAll retires every batch whose waits can be satisfied
func (d *Device) CompleteAll() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.retire(-1)
}
