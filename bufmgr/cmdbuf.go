package bufmgr

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/bufmgr/internal/deps"
)

type execEntry struct {
	bo     *BufferObject
	access deps.Access
}

// CmdBuffer is a pending submission: the batch buffer objects to execute and the exec list
// of buffer objects they access. Every buffer object on a CmdBuffer holds a reference until
// Reset, and the batches hold theirs until Release.
type CmdBuffer struct {
	manager *Manager
	batches []*BufferObject
	entries []execEntry
	index   *swiss.Map[*BufferObject, int]
}

// NewCmdBuffer creates a command buffer executing the given batches, one per unit of the
// target context's width
func (m *Manager) NewCmdBuffer(batches ...*BufferObject) (*CmdBuffer, error) {
	m.logger.Debug("Manager::NewCmdBuffer")

	if len(batches) == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "a command buffer needs at least one batch")
	}

	referenced := 0
	for _, batch := range batches {
		err := batch.Reference()
		if err != nil {
			for _, done := range batches[:referenced] {
				_ = done.Unreference()
			}
			return nil, err
		}
		referenced++
	}

	return &CmdBuffer{
		manager: m,
		batches: append([]*BufferObject(nil), batches...),
		index:   swiss.NewMap[*BufferObject, int](8),
	}, nil
}

// Batches returns the batch buffer objects
func (c *CmdBuffer) Batches() []*BufferObject {
	return c.batches
}

// Len returns the number of distinct buffer objects on the exec list
func (c *CmdBuffer) Len() int {
	return len(c.entries)
}

// Access returns the intent recorded for bo, if it is on the exec list
func (c *CmdBuffer) Access(bo *BufferObject) (Access, bool) {
	i, ok := c.index.Get(bo)
	if !ok {
		return 0, false
	}
	return c.entries[i].access, true
}

func (c *CmdBuffer) isBatch(bo *BufferObject) bool {
	for _, batch := range c.batches {
		if batch == bo {
			return true
		}
	}
	return false
}

// Add puts bo on the exec list with the given intent. Adding a buffer object twice merges the
// intents, any write making the entry a write. Batches are always accessed as writes and are
// not listed. Adding a buffer object counts as its first real use.
func (c *CmdBuffer) Add(bo *BufferObject, access Access) error {
	m := c.manager
	m.logger.Debug("CmdBuffer::Add")

	if access&(deps.AccessRead|deps.AccessWrite) == 0 {
		return errors.Wrapf(ErrInvalidArgument, "buffer object %q added with no access", bo.name)
	}

	if c.isBatch(bo) {
		return nil
	}

	if i, ok := c.index.Get(bo); ok {
		c.entries[i].access = c.entries[i].access.Merge(access)
		return nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if bo.released || bo.refs == 0 {
		return errors.Wrapf(ErrReleased, "adding buffer object %q to an exec list", bo.name)
	}

	err := m.ensureResidentLocked(bo)
	if err != nil {
		return err
	}

	bo.refs++
	c.index.Put(bo, len(c.entries))
	c.entries = append(c.entries, execEntry{bo: bo, access: access})

	return nil
}

// Reset empties the exec list, dropping the references it held
func (c *CmdBuffer) Reset() error {
	c.manager.logger.Debug("CmdBuffer::Reset")

	entries := c.entries
	c.entries = nil
	c.index.Clear()

	var errs error
	for _, entry := range entries {
		errs = errors.CombineErrors(errs, entry.bo.Unreference())
	}

	return errs
}

// Release resets the command buffer and drops the batch references. The command buffer
// cannot be used afterwards.
func (c *CmdBuffer) Release() error {
	errs := c.Reset()

	for _, batch := range c.batches {
		errs = errors.CombineErrors(errs, batch.Unreference())
	}
	c.batches = nil

	return errs
}
