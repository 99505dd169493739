package memory

// OffsetPtr resolves a chain in offset-then-dereference order.
//
// Every offset is added to the current address; all levels but the last are
// then dereferenced. The final address is returned, not the value behind it.
// A reserved address at a dereferenced level, or a failed read, yields false.
//
//	// base -> [+0x10]p1 -> [+0x28]p2, result p2+0x8
//	addr, ok := mem.OffsetPtr(base, 0x10, 0x28, 0x8)
func (a *Accessor) OffsetPtr(base Address, offsets ...int64) (Address, bool) {
	addr := base
	for i, off := range offsets {
		addr = addr.Offset(off)
		if i == len(offsets)-1 {
			break
		}
		next, ok := a.deref(addr)
		if !ok {
			return 0, false
		}
		addr = next
	}
	return addr, true
}

// OffsetPtrCE resolves a chain in dereference-then-offset order, the
// convention of Cheat Engine pointer tables. Each level dereferences the
// current address and adds its offset to the loaded value, base included.
func (a *Accessor) OffsetPtrCE(base Address, offsets ...int64) (Address, bool) {
	if base == 0 {
		return 0, false
	}
	addr := base
	for _, off := range offsets {
		value, ok := a.deref(addr)
		if !ok {
			return 0, false
		}
		addr = value.Offset(off)
	}
	return addr, true
}

func (a *Accessor) deref(addr Address) (Address, bool) {
	if IsReserved(addr) {
		a.log.Debugln("pointer chain stopped at reserved address", addr)
		return 0, false
	}
	raw, err := a.Read(addr, Size(a.ptrSize), false)
	if err != nil {
		a.log.Debugln("pointer chain read failed:", err)
		return 0, false
	}
	return Address(a.decode(raw)), true
}
