// Package kmd describes the kernel-mode driver boundary the buffer manager is built on:
// the handle types it exchanges with the kernel, the Driver interface wrapping the
// ioctls it issues, and the errno conventions used to classify failures.
package kmd

import (
	"fmt"
	"time"

	"github.com/vkngwrapper/core/v2/common"
)

// GemHandle names a kernel buffer resource
type GemHandle uint32

// SyncHandle names a kernel synchronization object
type SyncHandle uint32

// QueueID names a kernel execution queue
type QueueID uint32

// VMID names a GPU virtual address space
type VMID uint32

// EngineClass is the hardware engine an execution queue submits to
type EngineClass int

const (
	EngineRender EngineClass = iota
	EngineCopy
	EngineVideoDecode
	EngineVideoEnhance
	EngineCompute
)

var engineClassNames = map[EngineClass]string{
	EngineRender:       "Render",
	EngineCopy:         "Copy",
	EngineVideoDecode:  "VideoDecode",
	EngineVideoEnhance: "VideoEnhance",
	EngineCompute:      "Compute",
}

func (c EngineClass) String() string {
	name, ok := engineClassNames[c]
	if !ok {
		return fmt.Sprintf("EngineClass(%d)", int(c))
	}
	return name
}

// EngineInstance identifies one physical engine of a class
type EngineInstance struct {
	Class    EngineClass
	Instance uint16
	GT       uint16
}

// QueueCreateInfo describes an execution queue. Width is the number of batches submitted
// together per exec; Placements lists the engines, Width*NumPlacements entries in total.
type QueueCreateInfo struct {
	VM            VMID
	Width         int
	NumPlacements int
	Placements    []EngineInstance
}

// QueueProperty selects a property of an execution queue
type QueueProperty int

const (
	// QueuePropertyBan reads as 1 once the kernel has revoked the queue
	QueuePropertyBan QueueProperty = iota
	QueuePropertyPriority
	QueuePropertyTimeslice
	QueuePropertyPreemptionTimeout
)

var queuePropertyNames = map[QueueProperty]string{
	QueuePropertyBan:               "Ban",
	QueuePropertyPriority:          "Priority",
	QueuePropertyTimeslice:         "Timeslice",
	QueuePropertyPreemptionTimeout: "PreemptionTimeout",
}

func (p QueueProperty) String() string {
	name, ok := queuePropertyNames[p]
	if !ok {
		return fmt.Sprintf("QueueProperty(%d)", int(p))
	}
	return name
}

// MemoryRegion is where a buffer resource's backing store lives
type MemoryRegion int

const (
	RegionSystem MemoryRegion = iota
	RegionDevice
)

func (r MemoryRegion) String() string {
	if r == RegionDevice {
		return "Device"
	}
	return "System"
}

// SyncPoint is a point on a synchronization object. Value is zero for binary objects and
// the timeline value for timeline objects.
type SyncPoint struct {
	Handle SyncHandle
	Value  uint64
}

func (p SyncPoint) String() string {
	if p.Value == 0 {
		return fmt.Sprintf("sync(%d)", p.Handle)
	}
	return fmt.Sprintf("sync(%d)@%d", p.Handle, p.Value)
}

// SyncFlags modifies synchronization object creation and implicit-fence transfer
type SyncFlags int32

var syncFlagsMapping = common.NewFlagStringMapping[SyncFlags]()

func (f SyncFlags) Register(str string) {
	syncFlagsMapping.Register(f, str)
}
func (f SyncFlags) String() string {
	return syncFlagsMapping.FlagsToString(f)
}

const (
	// SyncCreateSignaled creates a binary synchronization object in the signaled state
	SyncCreateSignaled SyncFlags = 1 << iota
	// SyncCreateTimeline creates a timeline synchronization object
	SyncCreateTimeline
	// SyncFenceWrite transfers the exclusive (write) implicit fence of a shared buffer rather
	// than only the shared (read) fences
	SyncFenceWrite
)

func init() {
	SyncCreateSignaled.Register("SyncCreateSignaled")
	SyncCreateTimeline.Register("SyncCreateTimeline")
	SyncFenceWrite.Register("SyncFenceWrite")
}

// ExecInfo is a single submission to an execution queue
type ExecInfo struct {
	Queue QueueID
	// Waits must all be signaled before the batch starts
	Waits []SyncPoint
	// Signal is signaled when the batch completes. A zero Handle means no signal.
	Signal SyncPoint
	// Addresses holds one batch GPU virtual address per unit of queue width
	Addresses []uint64
}

// AddressLimit is one past the highest GPU virtual address
const AddressLimit uint64 = 1 << 48

// WaitForever requests an unbounded wait from Driver.WaitSync
const WaitForever time.Duration = -1
