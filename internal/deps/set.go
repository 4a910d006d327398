// Package deps tracks, per buffer object, which fences must signal before new GPU or CPU
// work may touch the object. Readers from different contexts may overlap; a writer waits
// for every outstanding reader and the previous writer of other contexts. Work on the same
// context needs no fence because a hardware queue executes in submission order.
package deps

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/internal/handle"
)

// Dep names the fence some context signals when its last access to an object completes
type Dep struct {
	Context handle.Handle
	Fence   handle.Handle
}

// IsZero reports whether the Dep is empty
func (d Dep) IsZero() bool {
	return d.Context.IsZero() && d.Fence.IsZero()
}

// Set holds the dependency state of a single buffer object: the last read fence of each
// context and the single write fence. A Set is not safe for concurrent use; the buffer
// manager guards all Sets with its lock.
type Set struct {
	readers    *swiss.Map[handle.Handle, handle.Handle]
	writer     Dep
	lastReader handle.Handle
}

// NewSet creates an empty Set
func NewSet() *Set {
	return &Set{
		readers: swiss.NewMap[handle.Handle, handle.Handle](4),
	}
}

// WaitSet appends to out the deps a submission on ctx with the given access must wait on.
// A read waits only for a writer on another context. A write additionally waits for every
// other context's outstanding read.
func (s *Set) WaitSet(ctx handle.Handle, access Access, out []Dep) []Dep {
	if !s.writer.IsZero() && s.writer.Context != ctx {
		out = append(out, s.writer)
	}

	if !access.Writes() {
		return out
	}

	s.readers.Iter(func(reader handle.Handle, fence handle.Handle) bool {
		if reader != ctx {
			out = append(out, Dep{Context: reader, Fence: fence})
		}
		return false
	})

	return out
}

// CPUWaitSet appends the deps the CPU must wait on before touching the object. The CPU
// is foreign to every context, so a write waits on everything and a read on the writer.
func (s *Set) CPUWaitSet(access Access, out []Dep) []Dep {
	return s.WaitSet(handle.Handle{}, access, out)
}

// All appends every outstanding dep
func (s *Set) All(out []Dep) []Dep {
	return s.CPUWaitSet(AccessWrite, out)
}

// Record applies the update for a submission on ctx that completes with fence. A read
// replaces ctx's read entry. A write drops every other context's read entry and becomes
// the object's only write entry.
func (s *Set) Record(ctx handle.Handle, access Access, fence handle.Handle) {
	if access.Writes() {
		var stale []handle.Handle
		s.readers.Iter(func(reader handle.Handle, _ handle.Handle) bool {
			if reader != ctx {
				stale = append(stale, reader)
			}
			return false
		})

		for _, reader := range stale {
			s.readers.Delete(reader)
		}

		s.writer = Dep{Context: ctx, Fence: fence}
	}

	if access.Reads() {
		s.readers.Put(ctx, fence)
		s.lastReader = ctx
	}
}

// Writer returns the write dep, if any
func (s *Set) Writer() (Dep, bool) {
	return s.writer, !s.writer.IsZero()
}

// Reader returns the read fence ctx holds, if any
func (s *Set) Reader(ctx handle.Handle) (handle.Handle, bool) {
	return s.readers.Get(ctx)
}

// LastReader returns the context that most recently read the object, if its read is
// still outstanding
func (s *Set) LastReader() (handle.Handle, bool) {
	if s.lastReader.IsZero() || !s.readers.Has(s.lastReader) {
		return handle.Handle{}, false
	}
	return s.lastReader, true
}

// ReaderCount returns the number of contexts with an outstanding read
func (s *Set) ReaderCount() int {
	return s.readers.Count()
}

// Forget removes dep if it is still recorded, used once the fence is known to have signaled
func (s *Set) Forget(dep Dep) {
	if s.writer == dep {
		s.writer = Dep{}
	}

	if fence, ok := s.readers.Get(dep.Context); ok && fence == dep.Fence {
		s.readers.Delete(dep.Context)
	}
}

// ForgetContext removes every dep on ctx, used when the context is torn down after draining
func (s *Set) ForgetContext(ctx handle.Handle) {
	if s.writer.Context == ctx {
		s.writer = Dep{}
	}

	s.readers.Delete(ctx)
	if s.lastReader == ctx {
		s.lastReader = handle.Handle{}
	}
}

// Empty reports whether there is nothing to wait on
func (s *Set) Empty() bool {
	return s.writer.IsZero() && s.readers.Count() == 0
}

// Clear drops every dep
func (s *Set) Clear() {
	s.writer = Dep{}
	s.lastReader = handle.Handle{}
	s.readers.Clear()
}
