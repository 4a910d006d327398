// Package handle provides generation-indexed slot tables. A Handle names a slot and the
// generation the slot had when the value was inserted; once the value is removed the slot's
// generation moves on and every outstanding Handle to it goes stale.
package handle

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrStaleHandle is returned when a handle refers to a value that has since been removed
var ErrStaleHandle = errors.New("stale handle")

// Handle identifies a value in a Table. The zero Handle is never issued.
type Handle struct {
	Index      uint32
	Generation uint32
}

// IsZero reports whether the handle is the zero Handle
func (h Handle) IsZero() bool {
	return h.Generation == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.Index, h.Generation)
}

type slot[T any] struct {
	value      T
	generation uint32
	occupied   bool
}

// Table is a concurrency-safe slot table. Freed slots are reused, with their generation
// incremented so old handles can be detected.
type Table[T any] struct {
	mutex sync.RWMutex
	slots []slot[T]
	free  []uint32
	count int
}

// Insert stores value in a free slot and returns its handle
func (t *Table[T]) Insert(value T) Handle {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var index uint32
	if len(t.free) > 0 {
		index = t.free[len(t.free)-1]
		t.free = t.free[:len(t.free)-1]
	} else {
		index = uint32(len(t.slots))
		t.slots = append(t.slots, slot[T]{})
	}

	s := &t.slots[index]
	s.generation++
	if s.generation == 0 {
		// Generation 0 is reserved for the zero Handle
		s.generation = 1
	}
	s.value = value
	s.occupied = true
	t.count++

	return Handle{Index: index, Generation: s.generation}
}

func (t *Table[T]) lookup(h Handle) (*slot[T], error) {
	if h.IsZero() || int(h.Index) >= len(t.slots) {
		return nil, errors.Wrapf(ErrStaleHandle, "handle %s was never issued", h)
	}

	s := &t.slots[h.Index]
	if !s.occupied || s.generation != h.Generation {
		return nil, errors.Wrapf(ErrStaleHandle, "handle %s no longer refers to a live value", h)
	}

	return s, nil
}

// Get returns the value the handle refers to, or ErrStaleHandle
func (t *Table[T]) Get(h Handle) (T, error) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	s, err := t.lookup(h)
	if err != nil {
		var zero T
		return zero, err
	}

	return s.value, nil
}

// Remove frees the handle's slot and returns the value it held
func (t *Table[T]) Remove(h Handle) (T, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	var zero T
	s, err := t.lookup(h)
	if err != nil {
		return zero, err
	}

	value := s.value
	s.value = zero
	s.occupied = false
	t.free = append(t.free, h.Index)
	t.count--

	return value, nil
}

// Len returns the number of live values
func (t *Table[T]) Len() int {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	return t.count
}

// Each calls fn for every live value in slot order until fn returns false. The table is
// read-locked for the duration, so fn must not modify it.
func (t *Table[T]) Each(fn func(Handle, T) bool) {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	for i := range t.slots {
		s := &t.slots[i]
		if !s.occupied {
			continue
		}

		if !fn(Handle{Index: uint32(i), Generation: s.generation}, s.value) {
			return
		}
	}
}
