package deps

import (
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/internal/handle"
)

// Touch is one object a submission accesses
type Touch struct {
	Set    *Set
	Access Access
}

// Plan is the dependency work for a single submission: the deduplicated wait-set, computed
// before the kernel call, and the updates applied after it succeeds
type Plan struct {
	ctx     handle.Handle
	touches []Touch
	waits   []Dep
}

// NewPlan computes the wait-set for a submission on ctx touching the given objects
func NewPlan(ctx handle.Handle, touches []Touch) *Plan {
	plan := &Plan{
		ctx:     ctx,
		touches: touches,
	}

	seen := swiss.NewMap[Dep, struct{}](uint32(len(touches)) + 1)
	var scratch []Dep

	for _, touch := range touches {
		scratch = touch.Set.WaitSet(ctx, touch.Access, scratch[:0])
		for _, dep := range scratch {
			if seen.Has(dep) {
				continue
			}
			seen.Put(dep, struct{}{})
			plan.waits = append(plan.waits, dep)
		}
	}

	return plan
}

// Waits returns the deduplicated wait-set
func (p *Plan) Waits() []Dep {
	return p.waits
}

// Commit records fence as the completion of the submission on every touched object. It
// must be called only once the kernel accepted the submission.
func (p *Plan) Commit(fence handle.Handle) {
	for _, touch := range p.touches {
		touch.Set.Record(p.ctx, touch.Access, fence)
	}
}
