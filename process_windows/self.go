//go:build windows

package process_windows

import (
	"fmt"
	"os"
	"unsafe"

	"memcore/memory"

	"golang.org/x/sys/windows"
)

// Self is the calling process as a memory.Target, backed by VirtualQuery,
// VirtualProtect and the psapi module list.
type Self struct {
	memory.NativeSpace

	log memory.Logger
}

var _ memory.Target = (*Self)(nil)

type Option func(*Self)

func WithLogger(log memory.Logger) Option {
	return func(s *Self) {
		s.log = log
	}
}

func New(options ...Option) *Self {
	s := &Self{}
	for _, opt := range options {
		opt(s)
	}
	if s.log == nil {
		s.log = memory.NewLogger(fmt.Sprintf("process-%d", os.Getpid()))
	}
	return s
}

const (
	protModifiers = windows.PAGE_GUARD | windows.PAGE_NOCACHE | windows.PAGE_WRITECOMBINE

	memFree = 0x10000
)

// stateFromProtect translates a PAGE_* constant, ignoring modifier bits.
func stateFromProtect(protect uint32) memory.PageState {
	switch protect &^ protModifiers {
	case windows.PAGE_EXECUTE:
		return memory.PageExecute
	case windows.PAGE_EXECUTE_READ:
		return memory.PageExecute | memory.PageRead
	case windows.PAGE_EXECUTE_READWRITE, windows.PAGE_EXECUTE_WRITECOPY:
		return memory.PageExecute | memory.PageRead | memory.PageWrite
	case windows.PAGE_READONLY:
		return memory.PageRead
	case windows.PAGE_READWRITE, windows.PAGE_WRITECOPY:
		return memory.PageRead | memory.PageWrite
	default:
		return 0
	}
}

func protectFromAccess(access memory.PageState) uint32 {
	switch access & memory.PageAccess {
	case memory.PageExecute:
		return windows.PAGE_EXECUTE
	case memory.PageExecute | memory.PageRead:
		return windows.PAGE_EXECUTE_READ
	case memory.PageRead:
		return windows.PAGE_READONLY
	case memory.PageRead | memory.PageWrite, memory.PageWrite:
		return windows.PAGE_READWRITE
	case memory.PageExecute | memory.PageWrite, memory.PageAccess:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func stateFromInfo(mbi *windows.MemoryBasicInformation) memory.PageState {
	if mbi.State != windows.MEM_COMMIT {
		return 0
	}
	return stateFromProtect(mbi.Protect) | memory.PageCommit
}

func query(addr uintptr) (windows.MemoryBasicInformation, error) {
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQuery(addr, &mbi, unsafe.Sizeof(mbi)); err != nil {
		return mbi, err
	}
	return mbi, nil
}

func (s *Self) PageState(addr memory.Address) (memory.PageState, error) {
	mbi, err := query(uintptr(addr))
	if err != nil {
		return 0, err
	}
	if mbi.State == memFree {
		return 0, fmt.Errorf("%w: %s", memory.ErrAddressNotMapped, addr)
	}
	return stateFromInfo(&mbi), nil
}

// Protect calls VirtualProtect. The previous PAGE_* value, modifiers
// included, is returned as Native so restoring is exact.
func (s *Self) Protect(addr memory.Address, size memory.Size, prot memory.Protection) (memory.Protection, error) {
	native := prot.Native
	if native == 0 {
		native = protectFromAccess(prot.Access)
	}

	if err := sameProtect(uintptr(addr), uintptr(addr)+uintptr(max(size, 1))); err != nil {
		return memory.Protection{}, err
	}

	var old uint32
	if err := windows.VirtualProtect(uintptr(addr), uintptr(max(size, 1)), native, &old); err != nil {
		return memory.Protection{}, err
	}
	s.log.Debugln("VirtualProtect", addr, "size", size, fmt.Sprintf("%#x -> %#x", old, native))
	return memory.Protection{Access: stateFromProtect(old), Native: old}, nil
}

// sameProtect refuses a range whose regions carry different PAGE_* values,
// since VirtualProtect only reports the old protection of the first page.
func sameProtect(start, end uintptr) error {
	first, err := query(start)
	if err != nil {
		return err
	}
	for cur := first.BaseAddress + first.RegionSize; cur < end; {
		mbi, err := query(cur)
		if err != nil || mbi.RegionSize == 0 {
			return err
		}
		if mbi.Protect != first.Protect {
			return fmt.Errorf("%w: %#x-%#x", memory.ErrMixedProtection, start, end)
		}
		cur = mbi.BaseAddress + mbi.RegionSize
	}
	return nil
}

// Regions walks VirtualQuery from addr until the end of the range. Free
// ranges are skipped.
func (s *Self) Regions(addr memory.Address, size memory.Size) ([]memory.Region, error) {
	end := uintptr(addr) + uintptr(size)
	var regions []memory.Region

	for cur := uintptr(addr); cur < end; {
		mbi, err := query(cur)
		if err != nil {
			if len(regions) > 0 {
				break
			}
			return nil, err
		}
		if mbi.RegionSize == 0 {
			break
		}
		if mbi.State != memFree {
			regions = append(regions, memory.Region{
				Base:  memory.Address(mbi.BaseAddress),
				Size:  memory.Size(mbi.RegionSize),
				State: stateFromInfo(&mbi),
			})
		}
		cur = mbi.BaseAddress + mbi.RegionSize
	}
	return regions, nil
}

// PrimaryModule returns the first module of the process module list, the executable image.
func (s *Self) PrimaryModule() (memory.Module, error) {
	process := windows.CurrentProcess()

	var modules [1024]windows.Handle
	var needed uint32
	if err := windows.EnumProcessModules(process, &modules[0], uint32(unsafe.Sizeof(modules[0]))*uint32(len(modules)), &needed); err != nil {
		return memory.Module{}, err
	}
	if needed < uint32(unsafe.Sizeof(modules[0])) {
		return memory.Module{}, nil
	}

	var mi windows.ModuleInfo
	if err := windows.GetModuleInformation(process, modules[0], &mi, uint32(unsafe.Sizeof(mi))); err != nil {
		return memory.Module{}, err
	}

	var name [windows.MAX_PATH]uint16
	path := ""
	if err := windows.GetModuleFileNameEx(process, modules[0], &name[0], windows.MAX_PATH); err == nil {
		path = windows.UTF16ToString(name[:])
	}

	return memory.Module{
		Base: memory.Address(mi.BaseOfDll),
		Size: memory.Size(mi.SizeOfImage),
		Path: path,
	}, nil
}
