//go:build linux

package process_linux

import (
	"fmt"
	"os"
	"unsafe"

	"memcore/memory"
	"memcore/memory_map"

	"golang.org/x/sys/unix"
)

// Self is the calling process as a memory.Target.
//
// Page state and regions come from /proc/self/maps on every call; nothing
// is cached, since the process can remap itself at any time.
type Self struct {
	memory.NativeSpace

	log      memory.Logger
	pageSize uintptr
}

var _ memory.Target = (*Self)(nil)

type Option func(*Self)

func WithLogger(log memory.Logger) Option {
	return func(s *Self) {
		s.log = log
	}
}

func New(options ...Option) *Self {
	s := &Self{
		pageSize: uintptr(os.Getpagesize()),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.log == nil {
		s.log = memory.NewLogger(fmt.Sprintf("process-%d", os.Getpid()))
	}
	return s
}

func (s *Self) find(addr memory.Address) (memory_map.MemoryMapItem, error) {
	mm, err := memory_map.ReadSelf()
	if err != nil {
		return memory_map.MemoryMapItem{}, fmt.Errorf("failed to read memory map: %w", err)
	}

	item := memory_map.Find(uint64(addr), mm)
	if item == nil {
		return memory_map.MemoryMapItem{}, fmt.Errorf("%w: %s", memory.ErrAddressNotMapped, addr)
	}
	return *item, nil
}

func (s *Self) PageState(addr memory.Address) (memory.PageState, error) {
	item, err := s.find(addr)
	if err != nil {
		return 0, err
	}
	return item.State(), nil
}

// Protect page aligns [addr, addr+size) and calls mprotect. The previous
// protection is taken from the mapping containing addr; a range over mappings
// with different protections is refused.
func (s *Self) Protect(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	mm, err := memory_map.ReadSelf()
	if err != nil {
		return memory.Protection{}, fmt.Errorf("failed to read memory map: %w", err)
	}
	item := memory_map.Find(uint64(addr), mm)
	if item == nil {
		return memory.Protection{}, fmt.Errorf("%w: %s", memory.ErrAddressNotMapped, addr)
	}
	oldAccess := item.State() & memory.PageAccess
	old := memory.Protection{Access: oldAccess, Native: uint32(toProt(oldAccess))}

	native := int(prot.Native)
	if native == 0 {
		native = toProt(prot.Access)
	}

	start := uintptr(addr) &^ (s.pageSize - 1)
	end := (uintptr(addr) + uintptr(max(size, 1)) + s.pageSize - 1) &^ (s.pageSize - 1)

	for _, other := range memory_map.Overlapping(uint64(start), uint64(end-start), mm) {
		if other.State()&memory.PageAccess != oldAccess {
			return memory.Protection{}, fmt.Errorf("%w: %#x-%#x", memory.ErrMixedProtection, start, end)
		}
	}
	pages := unsafe.Slice((*byte)(unsafe.Pointer(start)), end-start)

	if err := unix.Mprotect(pages, native); err != nil {
		return memory.Protection{}, fmt.Errorf("mprotect %#x-%#x: %w", start, end, err)
	}
	s.log.Debugln("mprotect", memory.Address(start), "size", end-start, "prot", native)
	return old, nil
}

func toProt(access memory.PageState) int {
	prot := unix.PROT_NONE
	if access.Has(memory.PageRead) {
		prot |= unix.PROT_READ
	}
	if access.Has(memory.PageWrite) {
		prot |= unix.PROT_WRITE
	}
	if access.Has(memory.PageExecute) {
		prot |= unix.PROT_EXEC
	}
	return prot
}

func (s *Self) Regions(addr memory.Address, size memory.Size) ([]memory.Region, error) {
	mm, err := memory_map.ReadSelf()
	if err != nil {
		return nil, fmt.Errorf("failed to read memory map: %w", err)
	}

	items := memory_map.Overlapping(uint64(addr), uint64(size), mm)
	regions := make([]memory.Region, 0, len(items))
	for _, item := range items {
		regions = append(regions, item.Region())
	}
	return regions, nil
}

// PrimaryModule returns the extent of the mappings of /proc/self/exe.
func (s *Self) PrimaryModule() (memory.Module, error) {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return memory.Module{}, err
	}
	mm, err := memory_map.ReadSelf()
	if err != nil {
		return memory.Module{}, fmt.Errorf("failed to read memory map: %w", err)
	}

	module, ok := memory_map.Module(exe, mm)
	if !ok {
		s.log.Warn("no mapping found for ", exe)
		return memory.Module{}, nil
	}
	return module, nil
}
