package memory

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

// Accessor performs permission checked reads and writes against a Target.
//
// Every operation consults IsReserved first. In safe mode the page state is
// then queried; in unsafe mode the reserved filter is the only check. Once a
// check has passed the copy is raw: callers own address and size correctness.
//
// An Accessor is not synchronized, callers serialize access.
type Accessor struct {
	target  Target
	log     Logger
	order   binary.ByteOrder
	ptrSize int
	workers int
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithLogger replaces the default gologger logger.
func WithLogger(log Logger) Option {
	return func(a *Accessor) {
		a.log = log
	}
}

// WithPointerSize sets the width of a dereferenced pointer, 4 or 8 bytes.
func WithPointerSize(size int) Option {
	return func(a *Accessor) {
		a.ptrSize = size
	}
}

// WithByteOrder sets the byte order of pointers and typed values. Any order,
// binary.NativeEndian included, is reduced to binary.BigEndian or
// binary.LittleEndian by how it decodes a two byte value.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(a *Accessor) {
		a.order = binary.LittleEndian
		if order != nil && order.Uint16([]byte{0x00, 0x01}) == 1 {
			a.order = binary.BigEndian
		}
	}
}

// WithScanWorkers scans up to n readable spans concurrently. n <= 1 scans serially.
func WithScanWorkers(n int) Option {
	return func(a *Accessor) {
		a.workers = n
	}
}

// New creates an Accessor for target.
func New(target Target, options ...Option) *Accessor {
	a := &Accessor{
		target:  target,
		order:   binary.LittleEndian,
		ptrSize: int(unsafe.Sizeof(uintptr(0))),
		workers: 1,
	}

	for _, opt := range options {
		opt(a)
	}

	if a.log == nil {
		a.log = NewLogger("memory")
	}
	if a.ptrSize != 4 {
		a.ptrSize = 8
	}

	return a
}

// Target returns the target the accessor operates on.
func (a *Accessor) Target() Target {
	return a.target
}

// Logger returns the accessor's logger.
func (a *Accessor) Logger() Logger {
	return a.log
}

// PointerSize returns the width of a pointer in bytes.
func (a *Accessor) PointerSize() int {
	return a.ptrSize
}

// PageState queries the page containing addr.
func (a *Accessor) PageState(addr Address) (PageState, error) {
	state, err := a.target.PageState(addr)
	if err != nil {
		return 0, &QueryError{Op: "page query", Address: addr, Err: err}
	}
	return state, nil
}

// CheckRead fails with ErrPagePermNoRead unless the page is readable.
func (a *Accessor) CheckRead(addr Address) error {
	return a.require(addr, PageRead, ErrPagePermNoRead)
}

// CheckWrite fails with ErrPagePermNoWrite unless the page is writable.
func (a *Accessor) CheckWrite(addr Address) error {
	return a.require(addr, PageWrite, ErrPagePermNoWrite)
}

// CheckExecute fails with ErrPagePermNoExecute unless the page is executable.
func (a *Accessor) CheckExecute(addr Address) error {
	return a.require(addr, PageExecute, ErrPagePermNoExecute)
}

// CheckReadWrite fails with ErrPagePermNoRead unless the page is both readable and writable.
func (a *Accessor) CheckReadWrite(addr Address) error {
	return a.require(addr, PageRead|PageWrite, ErrPagePermNoRead)
}

// CheckCommit fails with ErrPageNotCommit unless the page is backed by committed memory.
// This is stronger than CheckRead and is what patching requires.
func (a *Accessor) CheckCommit(addr Address) error {
	return a.require(addr, PageCommit, ErrPageNotCommit)
}

func (a *Accessor) require(addr Address, want PageState, kind error) error {
	state, err := a.PageState(addr)
	if err != nil {
		return err
	}
	if !state.Has(want) {
		return pageError(kind, addr)
	}
	return nil
}

func (a *Accessor) checkRead(addr Address, safe bool) error {
	if IsReserved(addr) {
		return pageError(ErrPagePermNoRead, addr)
	}
	if safe {
		return a.CheckRead(addr)
	}
	return nil
}

func (a *Accessor) checkWrite(addr Address, safe bool) error {
	if IsReserved(addr) {
		return pageError(ErrPagePermNoWrite, addr)
	}
	if safe {
		return a.CheckWrite(addr)
	}
	return nil
}

// Read copies size bytes at addr. A zero size is an error.
// With safe unset only the reserved range is rejected.
func (a *Accessor) Read(addr Address, size Size, safe bool) ([]byte, error) {
	if size == 0 {
		return nil, &SizeError{Size: size}
	}
	if err := a.checkRead(addr, safe); err != nil {
		return nil, err
	}

	out := make([]byte, size)
	err := a.target.Access(addr, size, func(mem []byte) {
		copy(out, mem)
	})
	if err != nil {
		return nil, fmt.Errorf("read %d bytes at %s: %w", size, addr, err)
	}
	return out, nil
}

// QuickRead reads up to 8 bytes into a fixed buffer, zero filling the rest.
func (a *Accessor) QuickRead(addr Address, size Size, safe bool) ([8]byte, error) {
	var out [8]byte
	if size == 0 || size > 8 {
		return out, &SizeError{Size: size}
	}
	if err := a.checkRead(addr, safe); err != nil {
		return out, err
	}

	err := a.target.Access(addr, size, func(mem []byte) {
		copy(out[:], mem)
	})
	if err != nil {
		return [8]byte{}, fmt.Errorf("read %d bytes at %s: %w", size, addr, err)
	}
	return out, nil
}

// Write copies data to addr. Writing nothing succeeds without touching memory.
func (a *Accessor) Write(addr Address, data []byte, safe bool) error {
	if len(data) == 0 {
		return nil
	}
	if err := a.checkWrite(addr, safe); err != nil {
		return err
	}

	err := a.target.Access(addr, Size(len(data)), func(mem []byte) {
		copy(mem, data)
	})
	if err != nil {
		return fmt.Errorf("write %d bytes at %s: %w", len(data), addr, err)
	}
	return nil
}

// PrimaryModule asks the target for its primary module.
// A module locator returning (0, 0) is reported as ErrModuleNotFound.
func (a *Accessor) PrimaryModule() (Module, error) {
	module, err := a.target.PrimaryModule()
	if err != nil {
		return Module{}, &QueryError{Op: "module query", Err: err}
	}
	if module.IsZero() {
		return Module{}, ErrModuleNotFound
	}
	return module, nil
}
