package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/internal/handle"
	"github.com/vkngwrapper/bufmgr/memutils"
	"github.com/vkngwrapper/bufmgr/vma"
)

// CalculateStatistics sums the live buffer objects
func (m *Manager) CalculateStatistics() memutils.DetailedStatistics {
	var stats memutils.DetailedStatistics
	stats.Clear()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.buffers.AddDetailedStatistics(&stats)
	return stats
}

// Validate checks the consistency of the address arena, the buffer list and the
// dependency state of every buffer object
func (m *Manager) Validate() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	err := m.arena.Validate()
	if err != nil {
		return err
	}

	err = m.buffers.Validate()
	if err != nil {
		return err
	}

	var bufferErr error
	m.buffers.Each(func(bo *BufferObject) bool {
		bufferErr = m.validateBufferLocked(bo)
		return bufferErr == nil
	})

	return bufferErr
}

func (m *Manager) validateBufferLocked(bo *BufferObject) error {
	if bo.refs < 0 {
		return errors.Newf("buffer object %q has negative reference count %d", bo.name, bo.refs)
	}

	if bo.bound && (!bo.reserved || bo.gem == 0) {
		return errors.Newf("buffer object %q is bound without an address or a kernel resource", bo.name)
	}

	if bo.reserved {
		zone, ok := m.arena.ZoneOf(bo.address)
		if !ok || zone != bo.zone {
			return errors.Newf("buffer object %q at %#x lies outside zone %s", bo.name, bo.address, bo.zone)
		}

		if !memutils.IsAligned(bo.address, bo.alignment) {
			return errors.Newf("buffer object %q at %#x is not aligned to %#x", bo.name, bo.address, bo.alignment)
		}
	}

	if writer, ok := bo.deps.Writer(); ok && writer.Context.IsZero() {
		return errors.Newf("buffer object %q has a write dependency without a context", bo.name)
	}

	return nil
}

// BuildStatsString renders the arena, the live buffer objects and every context as a JSON
// document
func (m *Manager) BuildStatsString() string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	writer := jwriter.NewWriter()
	obj := writer.Object()

	total := obj.Name("Total").Object()
	var stats memutils.DetailedStatistics
	stats.Clear()
	m.buffers.AddDetailedStatistics(&stats)
	stats.PrintJson(&total)
	total.End()

	zones := obj.Name("Zones").Object()
	for _, zone := range vma.Zones() {
		zoneObj := zones.Name(zone.String()).Object()

		var zoneStats memutils.DetailedStatistics
		zoneStats.Clear()
		m.arena.AddDetailedStatistics(zone, &zoneStats)
		zoneStats.PrintJson(&zoneObj)

		zoneObj.End()
	}
	zones.End()

	buffers := obj.Name("Buffers").Array()
	m.buffers.PrintJson(&buffers)
	buffers.End()

	contexts := obj.Name("Contexts").Array()
	m.contexts.Each(func(h handle.Handle, ctx *Context) bool {
		ctxObj := contexts.Object()
		ctxObj.Name("Handle").String(h.String())
		ctxObj.Name("Engine").String(ctx.config.Engine.String())
		ctxObj.Name("Width").Int(ctx.config.width())
		ctxObj.Name("Queue").Int(int(ctx.queue))
		ctxObj.Name("State").String(ctx.state.String())
		ctxObj.Name("Resets").Int(ctx.resets)
		ctxObj.Name("Submissions").Int(ctx.submissions)

		if ctx.pool != nil {
			fences := ctxObj.Name("Fences").Object()
			ctx.pool.PrintJson(&fences)
			fences.End()
		}

		ctxObj.End()
		return true
	})
	contexts.End()

	obj.End()

	return string(writer.Bytes())
}
