package memory

import (
	"runtime/debug"
	"unsafe"
)

// NativeSpace is the Space of the current process.
// Addresses are aliased directly; faults become errors instead of crashing the process.
type NativeSpace struct{}

func (NativeSpace) Access(addr Address, size Size, fn func(mem []byte)) (err error) {
	if size == 0 {
		fn(nil)
		return nil
	}

	defer debug.SetPanicOnFault(debug.SetPanicOnFault(true))
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if fault, ok := r.(interface{ Addr() uintptr }); ok {
			err = &FaultError{Address: Address(fault.Addr())}
			return
		}
		panic(r)
	}()

	mem := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), int(size))
	fn(mem)
	return nil
}
