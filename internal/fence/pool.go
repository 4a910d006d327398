// Package fence implements the per-context pool of completion fences. Fences are created
// lazily up to a cap, recycled once the kernel confirms they signaled and no waiter holds
// them, and destroyed only when the pool is.
package fence

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/internal/handle"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kmd"
	"golang.org/x/exp/slog"
)

// DefaultCap is the busy-fence cap used when Options.Cap is not set
const DefaultCap = 16

// Options configures a Pool
type Options struct {
	Mode Mode
	// Cap bounds the number of busy fences, and in binary mode the number of live kernel objects
	Cap int
	// SyncLock serializes kernel object create/reset/destroy (write side) against waits
	// (read side). Pools of one manager share it. A private lock is used when nil.
	SyncLock *sync.RWMutex
}

// Stats is a point-in-time summary of a Pool
type Stats struct {
	Mode        Mode
	Cap         int
	Live        int
	Free        int
	Busy        int
	Referenced  int
	PeakLive    int
	ForceClaims int
	Counter     uint64
}

// Pool hands out completion fences for a single execution context
type Pool struct {
	logger *slog.Logger
	driver kmd.Driver
	mode   Mode
	cap    int

	syncLock *sync.RWMutex

	mutex sync.Mutex
	// released is signaled whenever a fence reference is dropped
	released *sync.Cond

	fences   handle.Table[*Fence]
	free     []*Fence
	busy     []*Fence
	timeline kmd.SyncHandle
	counter  uint64

	live        int
	peakLive    int
	forceClaims int
	destroyed   bool
}

// New creates a pool. In timeline mode the pool's timeline object is created immediately.
func New(logger *slog.Logger, driver kmd.Driver, options Options) (*Pool, error) {
	capacity := options.Cap
	if capacity <= 0 {
		capacity = DefaultCap
	}

	syncLock := options.SyncLock
	if syncLock == nil {
		syncLock = &sync.RWMutex{}
	}

	p := &Pool{
		logger:   utils.LoggerOrDiscard(logger),
		driver:   driver,
		mode:     options.Mode,
		cap:      capacity,
		syncLock: syncLock,
	}
	p.released = sync.NewCond(&p.mutex)

	if p.mode == ModeTimeline {
		timeline, err := p.createSync(kmd.SyncCreateTimeline)
		if err != nil {
			return nil, err
		}
		p.timeline = timeline
	}

	return p, nil
}

func (p *Pool) createSync(flags kmd.SyncFlags) (kmd.SyncHandle, error) {
	p.syncLock.Lock()
	defer p.syncLock.Unlock()

	var created kmd.SyncHandle
	err := kmd.Retry(func() error {
		var err error
		created, err = p.driver.CreateSync(flags)
		return err
	})
	if err != nil {
		return 0, syncObjectError(err, "creating %s synchronization object", flags)
	}

	p.live++
	if p.live > p.peakLive {
		p.peakLive = p.live
	}

	return created, nil
}

func (p *Pool) destroySync(object kmd.SyncHandle) error {
	p.syncLock.Lock()
	defer p.syncLock.Unlock()

	err := p.driver.DestroySync(object)
	if err != nil {
		return syncObjectError(err, "destroying synchronization object %d", object)
	}

	p.live--
	return nil
}

func (p *Pool) resetSync(fences []*Fence) error {
	if len(fences) == 0 {
		return nil
	}

	handles := make([]kmd.SyncHandle, 0, len(fences))
	for _, f := range fences {
		handles = append(handles, f.sync)
	}

	p.syncLock.Lock()
	defer p.syncLock.Unlock()

	err := kmd.Retry(func() error {
		return p.driver.ResetSync(handles...)
	})
	if err != nil {
		return syncObjectError(err, "resetting %d synchronization objects", len(handles))
	}

	return nil
}

// Mode returns the pool's addressing mode
func (p *Pool) Mode() Mode {
	return p.mode
}

// Cap returns the pool's busy-fence cap
func (p *Pool) Cap() int {
	return p.cap
}

// Acquire draws a fence for a new submission and marks it busy. A signaled, unreferenced
// fence is reused when one exists; otherwise a new fence is created unless the cap has been
// reached, in which case the oldest busy fence is waited on and reclaimed.
func (p *Pool) Acquire() (*Fence, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil, ErrPoolDestroyed
	}

	err := p.reclaimLocked()
	if err != nil {
		return nil, err
	}

	var f *Fence
	if len(p.free) > 0 {
		f = p.free[len(p.free)-1]
		p.free = p.free[:len(p.free)-1]
	} else if len(p.busy) >= p.cap {
		f, err = p.forceReclaimLocked()
		if err != nil {
			return nil, err
		}
	} else {
		f, err = p.newFence()
		if err != nil {
			return nil, err
		}
	}

	if p.mode == ModeTimeline {
		p.counter++
		f.value = p.counter
	}

	f.state = StateBusy
	f.handle = p.fences.Insert(f)
	p.busy = append(p.busy, f)

	return f, nil
}

func (p *Pool) newFence() (*Fence, error) {
	if p.mode == ModeTimeline {
		return &Fence{sync: p.timeline}, nil
	}

	created, err := p.createSync(0)
	if err != nil {
		return nil, err
	}

	return &Fence{sync: created}, nil
}

// Cancel returns a fence whose submission was never accepted by the kernel. Nothing can
// cite it, so it goes straight back to the free queue.
func (p *Pool) Cancel(f *Fence) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for i, candidate := range p.busy {
		if candidate == f {
			p.busy = append(p.busy[:i], p.busy[i+1:]...)
			break
		}
	}

	p.retire(f)
}

// retire moves a fence to the free queue, invalidating its handle
func (p *Pool) retire(f *Fence) {
	_, _ = p.fences.Remove(f.handle)
	f.state = StateFree
	f.refs = 0
	p.free = append(p.free, f)
}

// signaledLocked reports which leading busy fences have signaled
func (p *Pool) signaledLocked() ([]bool, error) {
	signaled := make([]bool, len(p.busy))

	if p.mode == ModeTimeline {
		p.syncLock.RLock()
		value, err := p.driver.QuerySync(p.timeline)
		p.syncLock.RUnlock()
		if err != nil {
			return nil, syncObjectError(err, "querying timeline %d", p.timeline)
		}

		for i, f := range p.busy {
			signaled[i] = f.value <= value
		}
		return signaled, nil
	}

	p.syncLock.RLock()
	defer p.syncLock.RUnlock()

	for i, f := range p.busy {
		err := p.driver.WaitSync([]kmd.SyncPoint{f.Point()}, 0)
		if kmd.IsTimeout(err) {
			// Batches on one queue retire in order
			break
		}
		if err != nil {
			return nil, syncObjectError(err, "polling fence %s", f.handle)
		}
		signaled[i] = true
	}

	return signaled, nil
}

// Reclaim moves every signaled, unreferenced busy fence to the free queue without blocking
func (p *Pool) Reclaim() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.reclaimLocked()
}

func (p *Pool) reclaimLocked() error {
	if len(p.busy) == 0 {
		return nil
	}

	signaled, err := p.signaledLocked()
	if err != nil {
		return err
	}

	var reclaimed []*Fence
	remaining := p.busy[:0]
	for i, f := range p.busy {
		if signaled[i] && f.refs == 0 {
			reclaimed = append(reclaimed, f)
		} else {
			remaining = append(remaining, f)
		}
	}
	p.busy = remaining

	if p.mode == ModeBinary {
		err = p.resetSync(reclaimed)
		if err != nil {
			// The objects are in an unknown state; they leave circulation for good
			return p.discardLocked(err, reclaimed...)
		}
	}

	for _, f := range reclaimed {
		p.retire(f)
	}

	return nil
}

// discardLocked drops fences whose objects failed to reset, destroying the objects so the
// live count stays accurate. The returned error combines cause with any destroy failures.
func (p *Pool) discardLocked(cause error, fences ...*Fence) error {
	errs := cause
	for _, f := range fences {
		_, _ = p.fences.Remove(f.handle)
		f.state = StateFree
		errs = errors.CombineErrors(errs, p.destroySync(f.sync))
	}
	return errs
}

func (p *Pool) forceReclaimLocked() (*Fence, error) {
	oldest := p.busy[0]
	p.busy = p.busy[1:]
	p.forceClaims++

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "FencePool::Acquire force-reclaiming oldest fence",
		slog.String("fence", oldest.handle.String()),
		slog.String("point", oldest.Point().String()),
		slog.Int("busy", len(p.busy)+1),
	)

	// Waiters need the pool lock to drop their references
	p.mutex.Unlock()
	err := Wait(p.driver, p.syncLock, []kmd.SyncPoint{oldest.Point()}, kmd.WaitForever)
	p.mutex.Lock()

	if err != nil {
		p.busy = append([]*Fence{oldest}, p.busy...)
		return nil, syncObjectError(err, "waiting on oldest fence %s", oldest.handle)
	}

	for oldest.refs > 0 {
		p.released.Wait()
	}

	if p.mode == ModeBinary {
		err = p.resetSync([]*Fence{oldest})
		if err != nil {
			return nil, p.discardLocked(err, oldest)
		}
	}

	_, _ = p.fences.Remove(oldest.handle)
	oldest.state = StateFree
	return oldest, nil
}

// Reference resolves a fence handle for a waiter and pins the fence so it cannot be recycled
// until Unreference. A stale handle means the fence has already signaled and been recycled;
// it is reported with handle.ErrStaleHandle.
func (p *Pool) Reference(h handle.Handle) (*Fence, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	f, err := p.fences.Get(h)
	if err != nil {
		return nil, err
	}

	f.reference()
	return f, nil
}

// Unreference drops a reference taken with Reference
func (p *Pool) Unreference(f *Fence) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	f.unreference()
	p.released.Broadcast()
}

// Lookup returns the busy fence a handle refers to without pinning it
func (p *Pool) Lookup(h handle.Handle) (*Fence, error) {
	return p.fences.Get(h)
}

// Drain waits for every busy fence to signal and for all waiters to let go, then returns
// every fence to the free queue
func (p *Pool) Drain() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.drainLocked()
}

func (p *Pool) drainLocked() error {
	for len(p.busy) > 0 {
		points := make([]kmd.SyncPoint, 0, len(p.busy))
		for _, f := range p.busy {
			points = append(points, f.Point())
		}

		p.mutex.Unlock()
		err := Wait(p.driver, p.syncLock, points, kmd.WaitForever)
		p.mutex.Lock()
		if err != nil {
			return syncObjectError(err, "draining %d busy fences", len(points))
		}

		for p.referencedLocked() {
			p.released.Wait()
		}

		err = p.reclaimLocked()
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Pool) referencedLocked() bool {
	for _, f := range p.busy {
		if f.refs > 0 {
			return true
		}
	}
	return false
}

// Destroy drains the pool and destroys its kernel objects. The pool cannot be used afterwards.
func (p *Pool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.destroyed {
		return nil
	}

	err := p.drainLocked()
	if err != nil {
		return err
	}

	p.destroyed = true

	var errs error
	if p.mode == ModeTimeline {
		errs = p.destroySync(p.timeline)
	} else {
		for _, f := range p.free {
			errs = errors.CombineErrors(errs, p.destroySync(f.sync))
		}
	}
	p.free = nil

	return errs
}

// Stats returns a summary of the pool's fences
func (p *Pool) Stats() Stats {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	stats := Stats{
		Mode:        p.mode,
		Cap:         p.cap,
		Live:        p.live,
		Free:        len(p.free),
		Busy:        len(p.busy),
		PeakLive:    p.peakLive,
		ForceClaims: p.forceClaims,
		Counter:     p.counter,
	}

	for _, f := range p.busy {
		if f.refs > 0 {
			stats.Referenced++
		}
	}

	return stats
}

// PrintJson writes the pool summary into an already-open JSON object
func (p *Pool) PrintJson(json *jwriter.ObjectState) {
	stats := p.Stats()

	json.Name("Mode").String(stats.Mode.String())
	json.Name("Cap").Int(stats.Cap)
	json.Name("LiveSyncObjects").Int(stats.Live)
	json.Name("PeakSyncObjects").Int(stats.PeakLive)
	json.Name("Free").Int(stats.Free)
	json.Name("Busy").Int(stats.Busy)
	json.Name("Referenced").Int(stats.Referenced)
	json.Name("ForceReclaims").Int(stats.ForceClaims)
	if stats.Mode == ModeTimeline {
		json.Name("TimelineValue").Float64(float64(stats.Counter))
	}
}

// Wait blocks until every point is signaled or the timeout expires, holding the read side of
// syncLock so no synchronization object is reset or destroyed underneath the wait
func Wait(driver kmd.Driver, syncLock *sync.RWMutex, points []kmd.SyncPoint, timeout time.Duration) error {
	if len(points) == 0 {
		return nil
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	syncLock.RLock()
	defer syncLock.RUnlock()

	// Restarts after an interruption wait only for what is left of the bound
	return kmd.Retry(func() error {
		remaining := timeout
		if timeout > 0 {
			remaining = max(time.Until(deadline), 0)
		}
		return driver.WaitSync(points, remaining)
	})
}
