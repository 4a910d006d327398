package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/fence"
	"github.com/vkngwrapper/bufmgr/internal/handle"
)

var (
	// ErrAllocation marks failures to reserve address space or create a kernel buffer
	ErrAllocation = errors.New("buffer allocation failed")
	// ErrBind marks failures binding or unbinding a virtual address
	ErrBind = errors.New("address binding failed")
	// ErrSyncObject marks failures of kernel synchronization primitives
	ErrSyncObject = fence.ErrSyncObject
	// ErrSubmissionRecoverable marks a submission the kernel rejected because the context was
	// banned. The manager retries such a submission once on a replacement context.
	ErrSubmissionRecoverable = errors.New("submission rejected by banned context")
	// ErrSubmissionFatal marks a submission that could not be executed
	ErrSubmissionFatal = errors.New("submission failed")
	// ErrTimeout marks a bounded wait that expired
	ErrTimeout = errors.New("wait timed out")
	// ErrMap marks failures mapping a buffer object into CPU memory
	ErrMap = errors.New("buffer mapping failed")
	// ErrReleased is returned when a buffer object is used after its last reference was dropped
	ErrReleased = errors.New("buffer object released")
	// ErrInvalidArgument marks calls the manager rejects without touching the kernel
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrStaleHandle is returned for a context handle whose context has been destroyed
	ErrStaleHandle = handle.ErrStaleHandle
)

func markf(err error, kind error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), kind)
}
