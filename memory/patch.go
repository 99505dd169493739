package memory

import (
	"bytes"
	"fmt"
)

// Patch overwrites [addr, addr+len(data)) and returns the bytes it replaced.
//
// The page must be committed. Protection is widened to read, write and execute
// for the copy and restored before returning. No byte is touched when any
// check fails.
func (a *Accessor) Patch(addr Address, data []byte) ([]byte, error) {
	return a.patch(addr, Size(len(data)), func(mem []byte) {
		copy(mem, data)
	})
}

// PatchRepeat fills count bytes at addr with b and returns the bytes it replaced.
func (a *Accessor) PatchRepeat(addr Address, b byte, count Size) ([]byte, error) {
	return a.patch(addr, count, func(mem []byte) {
		copy(mem, bytes.Repeat([]byte{b}, len(mem)))
	})
}

func (a *Accessor) patch(addr Address, size Size, fill func(mem []byte)) (backup []byte, err error) {
	if size == 0 {
		return nil, &SizeError{Size: size}
	}
	if IsReserved(addr) {
		return nil, pageError(ErrPagePermNoWrite, addr)
	}
	if err := a.CheckCommit(addr); err != nil {
		return nil, err
	}

	guard, err := a.AcquireProtection(addr, size, ReadWriteExecute)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	backup = make([]byte, size)
	err = a.target.Access(addr, size, func(mem []byte) {
		copy(backup, mem)
		fill(mem)
	})
	if err != nil {
		return nil, fmt.Errorf("patch %d bytes at %s: %w", size, addr, err)
	}

	a.log.Debugln("patched", size, "bytes at", addr)
	return backup, nil
}
