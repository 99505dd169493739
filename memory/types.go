package memory

import (
	"fmt"
	"math"
)

// Address is a raw location in the address space of a Target.
// It is an integer, never a Go pointer; only a Space turns it into bytes.
type Address uint64

func (a Address) String() string {
	return fmt.Sprintf("0x%X", uint64(a))
}

// Offset returns a+off with two's complement wrap around.
func (a Address) Offset(off int64) Address {
	return a + Address(off)
}

// Size is a length in bytes.
type Size uint64

// ReservedMax is the highest address of the low band that is never user data.
const ReservedMax Address = 0x10000

// IsReserved reports whether addr is in [0, 0x10000] or above math.MaxInt64.
// It is a heuristic fast path that runs before any OS query, never a validity check.
func IsReserved(addr Address) bool {
	return addr <= ReservedMax || uint64(addr) > math.MaxInt64
}

// Module describes a loaded image: its base address and image size.
type Module struct {
	Base Address
	Size Size
	Path string
}

// End returns the first address after the module image.
func (m Module) End() Address {
	return m.Base + Address(m.Size)
}

// IsZero reports whether no module was enumerated.
func (m Module) IsZero() bool {
	return m.Base == 0 && m.Size == 0
}

// Region is a mapped range of pages that share one PageState.
type Region struct {
	Base  Address
	Size  Size
	State PageState
}

// End returns the first address after the region.
func (r Region) End() Address {
	return r.Base + Address(r.Size)
}

// Contains reports whether addr lies inside the region.
func (r Region) Contains(addr Address) bool {
	return addr >= r.Base && addr < r.End()
}

func (r Region) String() string {
	return fmt.Sprintf("%s-%s %s", r.Base, r.End(), r.State)
}
