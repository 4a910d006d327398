package kmd

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Errno wraps a kernel errno with the name of the call that produced it. The result
// satisfies errors.Is(err, errno).
func Errno(call string, errno unix.Errno) error {
	return errors.Wrapf(errno, "%s", call)
}

// IsBanned reports whether err is the kernel rejecting work on a revoked queue
func IsBanned(err error) bool {
	return errors.Is(err, unix.ECANCELED)
}

// IsTimeout reports whether err is an expired wait
func IsTimeout(err error) bool {
	return errors.Is(err, unix.ETIME) || errors.Is(err, unix.ETIMEDOUT)
}

// IsInterrupted reports whether the call should simply be reissued
func IsInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}
