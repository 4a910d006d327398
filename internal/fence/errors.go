package fence

import "github.com/cockroachdb/errors"

// ErrSyncObject marks failures creating, resetting, signaling, waiting on or destroying a
// kernel synchronization object
var ErrSyncObject = errors.New("synchronization object failure")

// ErrPoolDestroyed is returned when a pool is used after Destroy
var ErrPoolDestroyed = errors.New("fence pool destroyed")

func syncObjectError(err error, format string, args ...any) error {
	return errors.Mark(errors.Wrapf(err, format, args...), ErrSyncObject)
}
