package bufmgr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/bufmgr/internal/deps"
	"github.com/vkngwrapper/bufmgr/internal/fence"
	"github.com/vkngwrapper/core/v2/common"
)

// CreateFlags indicate specific manager behaviors to activate or deactivate
type CreateFlags int32

var createFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	createFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return createFlagsMapping.FlagsToString(f)
}

const (
	// CreateExternallySynchronized ensures that the manager and all objects created from it
	// are not synchronized internally. The consumer must guarantee they are used from only one
	// goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateDeferredCreation postpones creating a buffer object's kernel resource until the
	// object is first mapped, added to an exec list, exported, or has its address queried
	CreateDeferredCreation
	// CreateDeferredBinding postpones reserving and binding a buffer object's virtual address
	// until its first real use
	CreateDeferredBinding
)

func init() {
	CreateExternallySynchronized.Register("CreateExternallySynchronized")
	CreateDeferredCreation.Register("CreateDeferredCreation")
	CreateDeferredBinding.Register("CreateDeferredBinding")
}

// Access is the intent declared for a buffer object on an exec list or a CPU mapping
type Access = deps.Access

const (
	AccessRead  = deps.AccessRead
	AccessWrite = deps.AccessWrite
)

// SyncMode selects how submissions are ordered against each other
type SyncMode int

const (
	// SyncModeTimeline gives each context one timeline synchronization object
	SyncModeTimeline SyncMode = iota
	// SyncModeBinary gives each submission a recycled one-shot synchronization object
	SyncModeBinary
	// SyncModeDisabled submits without any synchronization and sleeps a fixed delay in place of
	// CPU waits. It is a debugging aid and does not guarantee correct ordering.
	SyncModeDisabled
)

var syncModeNames = map[SyncMode]string{
	SyncModeTimeline: "timeline",
	SyncModeBinary:   "binary",
	SyncModeDisabled: "disabled",
}

func (m SyncMode) String() string {
	name, ok := syncModeNames[m]
	if !ok {
		return fmt.Sprintf("SyncMode(%d)", int(m))
	}
	return name
}

// ParseSyncMode converts a mode name as printed by SyncMode.String back to a SyncMode
func ParseSyncMode(name string) (SyncMode, error) {
	for mode, modeName := range syncModeNames {
		if strings.EqualFold(name, modeName) {
			return mode, nil
		}
	}

	return 0, errors.Wrapf(ErrInvalidArgument, "unknown sync mode %q", name)
}

func (m SyncMode) fenceMode() fence.Mode {
	if m == SyncModeBinary {
		return fence.ModeBinary
	}
	return fence.ModeTimeline
}
