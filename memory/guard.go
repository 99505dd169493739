package memory

// ProtectionGuard holds a temporarily widened page protection.
// Release restores the protection recorded at acquisition.
//
// A range crossing several regions is protected region by region, and each
// piece keeps its own old protection.
type ProtectionGuard struct {
	oracle   Oracle
	log      Logger
	pieces   []guardedPiece
	released bool
}

type guardedPiece struct {
	address Address
	size    Size
	old     Protection
}

// AcquireProtection installs prot over [addr, addr+size) and returns a guard
// holding the previous protection. Callers must defer Release.
func (a *Accessor) AcquireProtection(addr Address, size Size, prot Protection) (*ProtectionGuard, error) {
	g := &ProtectionGuard{
		oracle: a.target,
		log:    a.log,
	}

	for _, p := range a.protectionPieces(addr, size) {
		old, err := a.target.Protect(p.address, p.size, prot)
		if err != nil {
			g.Release()
			return nil, &ProtectionError{Address: addr, Size: size, Err: err}
		}
		p.old = old
		g.pieces = append(g.pieces, p)
	}
	return g, nil
}

// protectionPieces splits the range at region boundaries. When regions
// cannot be listed the range is protected as one piece.
func (a *Accessor) protectionPieces(addr Address, size Size) []guardedPiece {
	whole := []guardedPiece{{address: addr, size: size}}

	end := addr + Address(max(size, 1))
	regions, err := a.target.Regions(addr, max(size, 1))
	if err != nil || len(regions) <= 1 {
		return whole
	}

	var pieces []guardedPiece
	for _, r := range regions {
		lo, hi := max(addr, r.Base), min(end, r.End())
		if lo >= hi {
			continue
		}
		pieces = append(pieces, guardedPiece{address: lo, size: Size(hi - lo)})
	}
	if len(pieces) == 0 || pieces[0].address != addr {
		return whole
	}
	return pieces
}

// Old returns the protection that Release will restore at the start of the range.
func (g *ProtectionGuard) Old() Protection {
	if len(g.pieces) == 0 {
		return Protection{}
	}
	return g.pieces[0].old
}

// Release restores the old protection of every piece, last piece first.
// Only the first call has an effect. A restore failure is logged; nothing can
// be done about it at this point.
func (g *ProtectionGuard) Release() {
	if g == nil || g.released {
		return
	}
	g.released = true

	for i := len(g.pieces) - 1; i >= 0; i-- {
		p := g.pieces[i]
		if _, err := g.oracle.Protect(p.address, p.size, p.old); err != nil {
			g.log.Warn("failed to restore protection at ", p.address, " size ", p.size, ": ", err)
		}
	}
}
