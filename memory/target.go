package memory

// Oracle answers questions about pages and modules of a Target.
type Oracle interface {
	// PageState returns the state of the page containing addr.
	PageState(addr Address) (PageState, error)

	// Protect installs prot over [addr, addr+size) and returns the protection that was in place.
	// The returned value restores the previous protection exactly when passed back to Protect.
	Protect(addr Address, size Size, prot Protection) (Protection, error)

	// Regions lists mapped regions overlapping [addr, addr+size), sorted by address.
	Regions(addr Address, size Size) ([]Region, error)

	// PrimaryModule locates the first module of the process. A zero Module means none was found.
	PrimaryModule() (Module, error)
}

// Space gives raw access to the bytes of a Target.
type Space interface {
	// Access runs fn over the live bytes [addr, addr+size).
	// mem must not be retained after fn returns. A fault raised while fn
	// runs is returned as a *FaultError.
	Access(addr Address, size Size, fn func(mem []byte)) error
}

// Target is an address space the engine can inspect and modify.
type Target interface {
	Oracle
	Space
}
