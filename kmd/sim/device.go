// Package sim is an in-process GPU that implements kmd.Driver. Submitted batches execute
// nothing; they complete in queue order once their wait fences have signaled, either
// immediately, after a configured latency, or when a test completes them explicitly.
// Queues can be banned to exercise recovery paths and any call can be made to fail.
package sim

import (
	"sync"
	"time"

	"github.com/vkngwrapper/bufmgr/kmd"
)

// Options configures a Device
type Options struct {
	// Manual leaves batches running until Complete or CompleteAll is called
	Manual bool
	// Latency is how long a batch runs once its waits are satisfied. Ignored in Manual mode.
	Latency time.Duration
	// BanEvery bans the target queue on every BanEvery-th exec, failing that exec. Zero
	// disables automatic bans.
	BanEvery int
}

type vm struct {
	bindings map[uint64]binding
}

type binding struct {
	handle kmd.GemHandle
	size   uint64
}

type buffer struct {
	size    uint64
	region  kmd.MemoryRegion
	data    []byte
	maps    int
	primeFD int

	writer  *fence
	readers []*fence
}

type queue struct {
	id       kmd.QueueID
	info     kmd.QueueCreateInfo
	banned   bool
	pending  []*job
	props    map[kmd.QueueProperty]uint64
	executed int
}

type job struct {
	queue     *queue
	waits     []*fence
	signal    kmd.SyncPoint
	fence     *fence
	readyAt   time.Time
	submitted time.Time
}

type syncObject struct {
	timeline bool

	// binary state: nil means no fence was ever attached, which never signals
	current *fence

	// timeline state
	value   uint64
	pending map[uint64]*fence
}

// Device is a simulated GPU. The zero value is not usable; call New.
type Device struct {
	mutex sync.Mutex
	cond  *sync.Cond

	options Options

	nextID  uint32
	nextFD  int
	vms     map[kmd.VMID]*vm
	buffers map[kmd.GemHandle]*buffer
	primes  map[int]kmd.GemHandle
	queues  map[kmd.QueueID]*queue
	syncs   map[kmd.SyncHandle]*syncObject
	files   map[int]*fence

	execs     []kmd.ExecInfo
	execCount int
	peakSyncs int
	failures  map[string][]error
}

var _ kmd.Driver = &Device{}

// New creates a simulated device
func New(options Options) *Device {
	d := &Device{
		options:  options,
		nextFD:   100,
		vms:      make(map[kmd.VMID]*vm),
		buffers:  make(map[kmd.GemHandle]*buffer),
		primes:   make(map[int]kmd.GemHandle),
		queues:   make(map[kmd.QueueID]*queue),
		syncs:    make(map[kmd.SyncHandle]*syncObject),
		files:    make(map[int]*fence),
		failures: make(map[string][]error),
	}
	d.cond = sync.NewCond(&d.mutex)

	return d
}

func (d *Device) allocID() uint32 {
	d.nextID++
	return d.nextID
}

func (d *Device) allocFD() int {
	d.nextFD++
	return d.nextFD
}

// FailNext makes the next call to the named Driver method return err. Repeated calls queue
// additional failures.
func (d *Device) FailNext(method string, err error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.failures[method] = append(d.failures[method], err)
}

func (d *Device) injected(method string) error {
	queued := d.failures[method]
	if len(queued) == 0 {
		return nil
	}

	err := queued[0]
	d.failures[method] = queued[1:]
	return err
}
