package kmd

import "time"

//go:generate mockgen -source driver.go -destination mocks/driver.go -package mocks

// Driver is the set of kernel calls the buffer manager issues. Implementations return
// errors that wrap a unix.Errno when the kernel reported one, so callers can classify
// failures with errors.Is.
type Driver interface {
	// CreateVM creates the GPU virtual address space buffer objects are bound into
	CreateVM() (VMID, error)
	DestroyVM(vm VMID) error

	CreateBuffer(size uint64, region MemoryRegion) (GemHandle, error)
	CloseBuffer(handle GemHandle) error
	// MapBuffer returns a CPU view of the whole buffer
	MapBuffer(handle GemHandle, size uint64) ([]byte, error)
	UnmapBuffer(handle GemHandle, data []byte) error

	BindAddress(vm VMID, handle GemHandle, address uint64, size uint64) error
	UnbindAddress(vm VMID, address uint64, size uint64) error

	// ExportPrime returns a shareable descriptor for the buffer
	ExportPrime(handle GemHandle) (int, error)
	// ImportPrime resolves a shareable descriptor to a handle and the buffer size. Importing the
	// same descriptor twice yields the same handle.
	ImportPrime(fd int) (GemHandle, uint64, error)

	CreateQueue(info QueueCreateInfo) (QueueID, error)
	DestroyQueue(queue QueueID) error
	GetQueueProperty(queue QueueID, property QueueProperty) (uint64, error)
	SetQueueProperty(queue QueueID, property QueueProperty, value uint64) error

	// Exec submits a batch. A queue the kernel has revoked fails with unix.ECANCELED.
	Exec(info ExecInfo) error

	CreateSync(flags SyncFlags) (SyncHandle, error)
	DestroySync(handle SyncHandle) error
	// ResetSync returns binary synchronization objects to the unsignaled state
	ResetSync(handles ...SyncHandle) error
	SignalSync(points ...SyncPoint) error
	// QuerySync returns the current value of a timeline synchronization object
	QuerySync(handle SyncHandle) (uint64, error)
	// WaitSync waits until every point is signaled. A zero timeout polls; WaitForever does not
	// time out. Expiry fails with unix.ETIME.
	WaitSync(points []SyncPoint, timeout time.Duration) error

	// ExportSyncFile returns a sync file descriptor that signals with point
	ExportSyncFile(point SyncPoint) (int, error)
	// ImportSyncFile makes a binary synchronization object signal with the sync file
	ImportSyncFile(handle SyncHandle, syncFile int) error
	// ExportBufferFence returns a sync file for the implicit fences of a shared buffer. With
	// SyncFenceWrite every outstanding fence is included, otherwise only the writer's.
	ExportBufferFence(primeFD int, flags SyncFlags) (int, error)
	// ImportBufferFence attaches a sync file to a shared buffer's implicit fences, as a
	// writer when SyncFenceWrite is set
	ImportBufferFence(primeFD int, syncFile int, flags SyncFlags) error
	CloseFile(fd int) error
}
