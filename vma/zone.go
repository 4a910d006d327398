package vma

import (
	"fmt"

	"github.com/vkngwrapper/bufmgr/kmd"
)

// Zone is one of the disjoint virtual address regions managed by an Arena
type Zone int

const (
	// ZoneSystem holds buffer objects backed by system memory
	ZoneSystem Zone = iota
	// ZoneDevice holds buffer objects backed by device-local memory
	ZoneDevice
	// ZoneImported holds buffer objects imported from another process or driver
	ZoneImported

	zoneCount
)

var zoneNames = map[Zone]string{
	ZoneSystem:   "System",
	ZoneDevice:   "Device",
	ZoneImported: "Imported",
}

func (z Zone) String() string {
	name, ok := zoneNames[z]
	if !ok {
		return fmt.Sprintf("Zone(%d)", int(z))
	}
	return name
}

// Valid reports whether z names a zone an Arena manages
func (z Zone) Valid() bool {
	return z >= ZoneSystem && z < zoneCount
}

// Zones lists every zone in address order
func Zones() []Zone {
	return []Zone{ZoneSystem, ZoneDevice, ZoneImported}
}

const (
	// AddressLimit is one past the highest virtual address the GPU can reach
	AddressLimit = kmd.AddressLimit

	// DefaultAlignment is the smallest alignment any allocation receives
	DefaultAlignment uint64 = 4 << 10
	// LocalAlignment is the minimum alignment within the system and device zones
	LocalAlignment uint64 = 64 << 10
	// ImportedAlignment is the minimum alignment within the imported zone
	ImportedAlignment uint64 = 2 << 20
)

// ZoneLayout describes the bounds and minimum alignment of a single zone
type ZoneLayout struct {
	Start     uint64
	Size      uint64
	Alignment uint64
}

// End returns one past the last address in the zone
func (l ZoneLayout) End() uint64 {
	return l.Start + l.Size
}

// Contains reports whether address lies in the zone
func (l ZoneLayout) Contains(address uint64) bool {
	return address >= l.Start && address < l.End()
}

// Layout assigns a ZoneLayout to every zone
type Layout [zoneCount]ZoneLayout

// DefaultLayout places the system zone below 1TB, the device zone in the
// second terabyte and the imported zone in the two terabytes above that.
// The first 64KB are never handed out so that address 0 stays invalid.
var DefaultLayout = Layout{
	ZoneSystem: {
		Start:     1 << 16,
		Size:      (1 << 40) - (1 << 16),
		Alignment: LocalAlignment,
	},
	ZoneDevice: {
		Start:     1 << 40,
		Size:      1 << 40,
		Alignment: LocalAlignment,
	},
	ZoneImported: {
		Start:     1 << 41,
		Size:      1 << 41,
		Alignment: ImportedAlignment,
	},
}
