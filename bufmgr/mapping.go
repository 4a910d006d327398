package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/utils"
	"github.com/vkngwrapper/bufmgr/kmd"
)

// mapping reference-counts the CPU view of a buffer object. The kernel mapping is created by
// the first Map and torn down by the matching last Unmap.
type mapping struct {
	mutex      utils.OptionalMutex
	references int
	data       []byte
}

func (m *mapping) References() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.references
}

func (m *mapping) Map(driver kmd.Driver, gem kmd.GemHandle, size uint64) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.references > 0 {
		if m.data == nil {
			return nil, errors.AssertionFailedf("buffer %d has %d mapping references but no mapped memory", gem, m.references)
		}

		m.references++
		return m.data, nil
	}

	var data []byte
	err := kmd.Retry(func() error {
		var err error
		data, err = driver.MapBuffer(gem, size)
		return err
	})
	if err != nil {
		return nil, markf(err, ErrMap, "mapping buffer %d", gem)
	}

	m.data = data
	m.references = 1
	return data, nil
}

// Unmap drops one mapping reference. It reports false when there was nothing to unmap.
func (m *mapping) Unmap(driver kmd.Driver, gem kmd.GemHandle) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.references == 0 {
		return false, nil
	}

	m.references--
	if m.references > 0 {
		return true, nil
	}

	data := m.data
	m.data = nil

	err := driver.UnmapBuffer(gem, data)
	if err != nil {
		return true, markf(err, ErrMap, "unmapping buffer %d", gem)
	}

	return true, nil
}

// Release tears down any mapping that outlived its users, returning how many references
// were still held
func (m *mapping) Release(driver kmd.Driver, gem kmd.GemHandle) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	leaked := m.references
	if leaked == 0 {
		return 0, nil
	}

	data := m.data
	m.references = 0
	m.data = nil

	err := driver.UnmapBuffer(gem, data)
	if err != nil {
		return leaked, markf(err, ErrMap, "unmapping buffer %d", gem)
	}

	return leaked, nil
}
