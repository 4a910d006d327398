package sim

// fence is the simulated kernel dma fence. A fence with dependencies is a merged fence
// that signals once every dependency has.
type fence struct {
	signaled bool
	canceled bool
	deps     []*fence
}

func signaledFence() *fence {
	return &fence{signaled: true}
}

func mergeFences(fences []*fence) *fence {
	merged := &fence{}
	for _, f := range fences {
		if f != nil && !f.done() {
			merged.deps = append(merged.deps, f)
		}
	}

	if len(merged.deps) == 0 {
		merged.signaled = true
	}

	return merged
}

func (f *fence) done() bool {
	if f.signaled {
		return true
	}

	if len(f.deps) == 0 {
		return false
	}

	for _, dep := range f.deps {
		if !dep.done() {
			return false
		}
	}

	f.signaled = true
	f.deps = nil
	return true
}

func (f *fence) signal(canceled bool) {
	f.signaled = true
	f.canceled = canceled
}
