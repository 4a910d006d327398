package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/memutils"
)

// bufferList is an intrusive list of every live buffer object a manager owns
type bufferList struct {
	mutex utils.OptionalRWMutex

	count int
	head  *BufferObject
	tail  *BufferObject
}

func (l *bufferList) Init(useMutex bool) {
	l.mutex = utils.OptionalRWMutex{UseMutex: useMutex}
}

func (l *bufferList) Validate() error {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	actualCount := 0
	var prev *BufferObject
	for bo := l.head; bo != nil; bo = bo.next {
		if bo.prev != prev {
			return errors.Newf("buffer object %q is linked after %p but points back to %p", bo.name, prev, bo.prev)
		}
		if bo.released {
			return errors.Newf("buffer object %q is listed after its release", bo.name)
		}

		actualCount++
		prev = bo
	}

	if prev != l.tail {
		return errors.New("the buffer list tail is not the last listed buffer object")
	}

	if l.count != actualCount {
		return errors.Newf("the listed number of buffer objects (%d) does not match the actual number of buffer objects (%d)", l.count, actualCount)
	}

	return nil
}

func (l *bufferList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for bo := l.head; bo != nil; bo = bo.next {
		stats.Statistics.RangeCount++
		stats.Statistics.RangeBytes += bo.size
		stats.AddAllocation(bo.size)
	}
}

func (l *bufferList) PrintJson(arr *jwriter.ArrayState) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for bo := l.head; bo != nil; bo = bo.next {
		o := arr.Object()
		bo.printParameters(&o)
		o.End()
	}
}

func (l *bufferList) Len() int {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	return l.count
}

// Each calls fn for every buffer object in creation order until fn returns false
func (l *bufferList) Each(fn func(bo *BufferObject) bool) {
	l.mutex.RLock()
	defer l.mutex.RUnlock()

	for bo := l.head; bo != nil; bo = bo.next {
		if !fn(bo) {
			return
		}
	}
}

func (l *bufferList) Register(bo *BufferObject) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.push(bo)
}

func (l *bufferList) Unregister(bo *BufferObject) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	l.remove(bo)
}

func (l *bufferList) remove(bo *BufferObject) {
	prev := bo.prev
	next := bo.next

	if prev != nil {
		prev.next = next
	} else {
		l.head = next
	}

	if next != nil {
		next.prev = prev
	} else {
		l.tail = prev
	}

	bo.next = nil
	bo.prev = nil

	l.count--
}

func (l *bufferList) push(bo *BufferObject) {
	if l.count == 0 {
		l.head = bo
		l.tail = bo
		l.count = 1
		return
	}

	bo.prev = l.tail
	l.tail.next = bo
	l.tail = bo
	l.count++
}
