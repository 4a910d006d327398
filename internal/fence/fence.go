package fence

import (
	"fmt"

	"github.com/vkngwrapper/bufmgr/internal/handle"
	"github.com/vkngwrapper/bufmgr/kmd"
)

// Mode selects how a Pool maps fences onto kernel synchronization objects
type Mode int

const (
	// ModeTimeline uses a single timeline object per pool, each fence being a point on it
	ModeTimeline Mode = iota
	// ModeBinary gives each fence its own one-shot object, reset before reuse
	ModeBinary
)

var modeNames = map[Mode]string{
	ModeTimeline: "Timeline",
	ModeBinary:   "Binary",
}

func (m Mode) String() string {
	name, ok := modeNames[m]
	if !ok {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return name
}

// State is the lifecycle position of a Fence
type State int

const (
	// StateFree fences sit in the free queue and are not cited by anything
	StateFree State = iota
	// StateBusy fences guard a submitted batch
	StateBusy
	// StateBusyReferenced fences guard a submitted batch and are held by at least one waiter,
	// so they cannot be recycled even after they signal
	StateBusyReferenced
)

var stateNames = map[State]string{
	StateFree:           "Free",
	StateBusy:           "Busy",
	StateBusyReferenced: "BusyReferenced",
}

func (s State) String() string {
	name, ok := stateNames[s]
	if !ok {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return name
}

// Fence is a completion signal drawn from a Pool. While busy it is addressed by a
// generation handle; the handle goes stale once the fence is recycled.
type Fence struct {
	handle handle.Handle
	sync   kmd.SyncHandle
	value  uint64
	state  State
	refs   int
}

// Handle returns the generation handle issued when the fence was last drawn
func (f *Fence) Handle() handle.Handle {
	return f.handle
}

// Point returns the synchronization point a submission signals and waiters wait on
func (f *Fence) Point() kmd.SyncPoint {
	return kmd.SyncPoint{Handle: f.sync, Value: f.value}
}

// State returns the fence's lifecycle state. Callers must hold the owning pool's lock or
// otherwise know the fence is not being transitioned concurrently.
func (f *Fence) State() State {
	return f.state
}

func (f *Fence) reference() {
	f.refs++
	f.state = StateBusyReferenced
}

func (f *Fence) unreference() {
	if f.refs <= 0 {
		panic(fmt.Sprintf("fence %s unreferenced more times than it was referenced", f.handle))
	}

	f.refs--
	if f.refs == 0 {
		f.state = StateBusy
	}
}
