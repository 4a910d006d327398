package deps

import "github.com/vkngwrapper/core/v2/common"

// Access is the intent a submission or CPU mapping declares for a buffer object
type Access uint32

var accessMapping = common.NewFlagStringMapping[Access]()

func (a Access) Register(str string) {
	accessMapping.Register(a, str)
}
func (a Access) String() string {
	return accessMapping.FlagsToString(a)
}

const (
	// AccessRead declares the object is only read
	AccessRead Access = 1 << iota
	// AccessWrite declares the object may be written
	AccessWrite
)

func init() {
	AccessRead.Register("AccessRead")
	AccessWrite.Register("AccessWrite")
}

// Reads reports whether the access includes reading
func (a Access) Reads() bool {
	return a&AccessRead != 0
}

// Writes reports whether the access includes writing
func (a Access) Writes() bool {
	return a&AccessWrite != 0
}

// Merge combines two intents declared for the same object in one submission. Any write
// makes the combined intent a plain write.
func (a Access) Merge(other Access) Access {
	if a.Writes() || other.Writes() {
		return AccessWrite
	}
	return a | other
}
