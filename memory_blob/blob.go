package memory_blob

import (
	"fmt"
	"sort"
	"sync/atomic"

	"memcore/memory"
)

// Blob is a simulated address space made of regions held in Go memory.
// It implements memory.Target for offline images, saved dumps and tests.
//
// Protection is tracked per region. Protect changes every region the range
// touches and Access faults on unmapped, uncommitted and no access regions.
type Blob struct {
	module  memory.Module
	regions []*region

	pageQueries   atomic.Int64
	protectCalls  atomic.Int64
	regionQueries atomic.Int64
	accesses      atomic.Int64

	// FailProtect is returned by Protect when widening protection.
	FailProtect error
	// FailRestore is returned by Protect when restoring a recorded protection.
	FailRestore error
}

type region struct {
	base      memory.Address
	data      []byte
	access    memory.PageState
	committed bool
}

func (r *region) end() memory.Address {
	return r.base + memory.Address(len(r.data))
}

func (r *region) state() memory.PageState {
	if !r.committed {
		return 0
	}
	return r.access | memory.PageCommit
}

// Calls counts the target operations a Blob has served.
type Calls struct {
	PageQueries   int64
	ProtectCalls  int64
	RegionQueries int64
	Accesses      int64
}

// OS returns the number of calls standing in for operating system queries.
func (c Calls) OS() int64 {
	return c.PageQueries + c.ProtectCalls + c.RegionQueries
}

var _ memory.Target = (*Blob)(nil)

func New() *Blob {
	return &Blob{}
}

// Map adds a committed region at base backed by data. The Blob takes
// ownership of data; writes through the Target are visible in it.
func (b *Blob) Map(base memory.Address, data []byte, access memory.PageState) error {
	return b.insert(&region{base: base, data: data, access: access & memory.PageAccess, committed: true})
}

// Reserve adds an uncommitted region of size bytes.
func (b *Blob) Reserve(base memory.Address, size memory.Size) error {
	return b.insert(&region{base: base, data: make([]byte, size)})
}

func (b *Blob) insert(r *region) error {
	if len(r.data) == 0 {
		return fmt.Errorf("empty region at %s", r.base)
	}
	if r.end() < r.base {
		return fmt.Errorf("region at %s wraps the address space", r.base)
	}
	for _, other := range b.regions {
		if r.base < other.end() && other.base < r.end() {
			return fmt.Errorf("region %s-%s overlaps %s-%s", r.base, r.end(), other.base, other.end())
		}
	}

	b.regions = append(b.regions, r)
	sort.Slice(b.regions, func(i, j int) bool {
		return b.regions[i].base < b.regions[j].base
	})
	return nil
}

// SetModule sets what PrimaryModule reports.
func (b *Blob) SetModule(base memory.Address, size memory.Size, path string) {
	b.module = memory.Module{Base: base, Size: size, Path: path}
}

// Module returns the configured primary module without counting a call.
func (b *Blob) Module() memory.Module {
	return b.module
}

// Calls returns a snapshot of the call counters.
func (b *Blob) Calls() Calls {
	return Calls{
		PageQueries:   b.pageQueries.Load(),
		ProtectCalls:  b.protectCalls.Load(),
		RegionQueries: b.regionQueries.Load(),
		Accesses:      b.accesses.Load(),
	}
}

func (b *Blob) find(addr memory.Address) *region {
	i := sort.Search(len(b.regions), func(i int) bool {
		return b.regions[i].end() > addr
	})
	if i < len(b.regions) && b.regions[i].base <= addr {
		return b.regions[i]
	}
	return nil
}

// span returns the regions covering [addr, addr+size) without gaps.
func (b *Blob) span(addr memory.Address, size memory.Size) ([]*region, error) {
	end := addr + memory.Address(size)
	var out []*region
	for cur := addr; cur < end; {
		r := b.find(cur)
		if r == nil {
			return nil, fmt.Errorf("%w: %s", memory.ErrAddressNotMapped, cur)
		}
		out = append(out, r)
		cur = r.end()
	}
	return out, nil
}

func (b *Blob) PageState(addr memory.Address) (memory.PageState, error) {
	b.pageQueries.Add(1)

	r := b.find(addr)
	if r == nil {
		return 0, fmt.Errorf("%w: %s", memory.ErrAddressNotMapped, addr)
	}
	return r.state(), nil
}

// Protect sets the access of every region touched by the range. The regions
// must share one access. The returned protection carries a Native marker so a
// restore can be told apart from a request.
func (b *Blob) Protect(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	b.protectCalls.Add(1)

	restore := prot.Native != 0
	if restore && b.FailRestore != nil {
		return memory.Protection{}, b.FailRestore
	}
	if !restore && b.FailProtect != nil {
		return memory.Protection{}, b.FailProtect
	}

	regions, err := b.span(addr, max(size, 1))
	if err != nil {
		return memory.Protection{}, err
	}
	for _, r := range regions {
		if !r.committed {
			return memory.Protection{}, fmt.Errorf("%w: %s", memory.ErrPageNotCommit, r.base)
		}
		if r.access != regions[0].access {
			return memory.Protection{}, fmt.Errorf("%w: %s-%s", memory.ErrMixedProtection, addr, addr+memory.Address(size))
		}
	}

	old := memory.Protection{Access: regions[0].access, Native: nativeMarker | uint32(regions[0].access)}
	for _, r := range regions {
		r.access = prot.Access & memory.PageAccess
	}
	return old, nil
}

const nativeMarker = 0x100

func (b *Blob) Regions(addr memory.Address, size memory.Size) ([]memory.Region, error) {
	b.regionQueries.Add(1)

	end := addr + memory.Address(size)
	var out []memory.Region
	for _, r := range b.regions {
		if r.base < end && addr < r.end() {
			out = append(out, memory.Region{Base: r.base, Size: memory.Size(len(r.data)), State: r.state()})
		}
	}
	return out, nil
}

func (b *Blob) PrimaryModule() (memory.Module, error) {
	return b.module, nil
}

// Access aliases region memory when the range lies in one region and
// stages a copy when it spans neighbours.
func (b *Blob) Access(addr memory.Address, size memory.Size, fn func(mem []byte)) error {
	b.accesses.Add(1)

	if size == 0 {
		fn(nil)
		return nil
	}

	regions, err := b.span(addr, size)
	if err != nil {
		return &memory.FaultError{Address: addr}
	}
	for _, r := range regions {
		if !r.committed || r.access == 0 {
			return &memory.FaultError{Address: max(addr, r.base)}
		}
	}

	if len(regions) == 1 {
		r := regions[0]
		off := addr - r.base
		fn(r.data[off : off+memory.Address(size)])
		return nil
	}

	staged := make([]byte, size)
	b.copySpan(regions, addr, staged, false)
	fn(staged)
	b.copySpan(regions, addr, staged, true)
	return nil
}

func (b *Blob) copySpan(regions []*region, addr memory.Address, buf []byte, store bool) {
	end := addr + memory.Address(len(buf))
	for _, r := range regions {
		lo, hi := max(addr, r.base), min(end, r.end())
		mem := r.data[lo-r.base : hi-r.base]
		out := buf[lo-addr : hi-addr]
		if store {
			copy(mem, out)
		} else {
			copy(out, mem)
		}
	}
}
