package utils

import (
	"sync"
)

var (
	_ sync.Locker = (*OptionalMutex)(nil)
	_ sync.Locker = (*OptionalRWMutex)(nil)
)

// OptionalMutex is a sync.Mutex that can be switched off when the owner promises
// external synchronization
type OptionalMutex struct {
	Mutex    sync.Mutex
	UseMutex bool
}

// Lock acquires the mutex, or does nothing when the owner is externally synchronized
func (m *OptionalMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

// Unlock releases a mutex acquired with Lock
func (m *OptionalMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// OptionalRWMutex is the reader/writer version of OptionalMutex
type OptionalRWMutex struct {
	Mutex    sync.RWMutex
	UseMutex bool
}

// Lock acquires the write side, or does nothing when the owner is externally synchronized
func (m *OptionalRWMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

// Unlock releases the write side
func (m *OptionalRWMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

// RLock acquires the read side. Any number of readers may hold it at once.
func (m *OptionalRWMutex) RLock() {
	if m.UseMutex {
		m.Mutex.RLock()
	}
}

// RUnlock releases the read side
func (m *OptionalRWMutex) RUnlock() {
	if m.UseMutex {
		m.Mutex.RUnlock()
	}
}
