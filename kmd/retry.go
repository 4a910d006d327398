package kmd

import (
	"time"

	"github.com/cenkalti/backoff"
)

const (
	// MaxRestarts bounds how many times an interrupted call is reissued
	MaxRestarts  = 8
	restartDelay = 50 * time.Microsecond
)

// Retry runs call, reissuing it while the kernel reports EINTR or EAGAIN. Any other error,
// or an interruption after MaxRestarts reissues, is returned as is.
func Retry(call func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(restartDelay), MaxRestarts)

	var lastErr error
	err := backoff.Retry(func() error {
		lastErr = call()
		if lastErr == nil || IsInterrupted(lastErr) {
			return lastErr
		}

		return backoff.Permanent(lastErr)
	}, policy)
	if err == nil {
		return nil
	}

	return lastErr
}
