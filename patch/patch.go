// Package patch keeps the registry of live byte patches and reverts them.
package patch

import (
	"errors"
	"fmt"
	"sort"

	"memcore/memory"
)

// ErrPatchAlreadyExists is wrapped by ExistsError.
var ErrPatchAlreadyExists = errors.New("patch already exists")

// ExistsError reports a patch request overlapping a live patch.
type ExistsError struct {
	Address  memory.Address // requested address
	Existing memory.Address // address of the live patch it overlaps
}

func (e *ExistsError) Error() string {
	return fmt.Sprintf("patch already exists at %s (overlaps patch at %s)", e.Address, e.Existing)
}

func (e *ExistsError) Unwrap() error {
	return ErrPatchAlreadyExists
}

// Patch is a live modification and the bytes it replaced.
type Patch struct {
	Address memory.Address
	Size    memory.Size
	Backup  []byte
}

// End returns the first address after the patched range.
func (p Patch) End() memory.Address {
	return p.Address + memory.Address(p.Size)
}

func (p Patch) overlaps(addr memory.Address, size memory.Size) bool {
	return p.Address < addr+memory.Address(size) && addr < p.End()
}

// Manager tracks live patches keyed by their apply address. No two live
// patches overlap, so every backup restores exactly the bytes seen before
// its own patch and revert order does not matter.
//
// A Manager is not synchronized; callers serialize access.
type Manager struct {
	mem     *memory.Accessor
	log     memory.Logger
	patches map[memory.Address]*Patch
}

type Option func(*Manager)

func WithLogger(log memory.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func NewManager(mem *memory.Accessor, options ...Option) *Manager {
	m := &Manager{
		mem:     mem,
		log:     mem.Logger(),
		patches: make(map[memory.Address]*Patch),
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Apply writes data at addr and records the patch. It returns a copy of the
// replaced bytes.
func (m *Manager) Apply(addr memory.Address, data []byte) ([]byte, error) {
	if err := m.admit(addr, memory.Size(len(data))); err != nil {
		return nil, err
	}

	backup, err := m.mem.Patch(addr, data)
	if err != nil {
		return nil, err
	}
	return m.record(addr, backup), nil
}

// ApplyRepeat fills count bytes at addr with b and records the patch.
func (m *Manager) ApplyRepeat(addr memory.Address, b byte, count memory.Size) ([]byte, error) {
	if err := m.admit(addr, count); err != nil {
		return nil, err
	}

	backup, err := m.mem.PatchRepeat(addr, b, count)
	if err != nil {
		return nil, err
	}
	return m.record(addr, backup), nil
}

func (m *Manager) admit(addr memory.Address, size memory.Size) error {
	if size == 0 {
		return &memory.SizeError{Size: size}
	}
	if existing, ok := m.Overlaps(addr, size); ok {
		return &ExistsError{Address: addr, Existing: existing.Address}
	}
	return nil
}

func (m *Manager) record(addr memory.Address, backup []byte) []byte {
	m.patches[addr] = &Patch{
		Address: addr,
		Size:    memory.Size(len(backup)),
		Backup:  backup,
	}
	m.log.Debugln("patch applied at", addr, "size", len(backup))
	return append([]byte(nil), backup...)
}

// Revert restores the patch applied at exactly addr and forgets it.
// It reports whether such a patch existed. A patch whose restore fails stays
// registered so the revert can be retried.
func (m *Manager) Revert(addr memory.Address) (bool, error) {
	p, ok := m.patches[addr]
	if !ok {
		return false, nil
	}

	if _, err := m.mem.Patch(p.Address, p.Backup); err != nil {
		return true, fmt.Errorf("revert patch at %s: %w", addr, err)
	}
	delete(m.patches, addr)
	m.log.Debugln("patch reverted at", addr)
	return true, nil
}

// RevertAll reverts every live patch in ascending address order. A failure
// is logged and does not stop the remaining reverts; all failures are returned joined.
func (m *Manager) RevertAll() error {
	var errs []error
	for _, p := range m.Patches() {
		if _, err := m.Revert(p.Address); err != nil {
			m.log.Warn("failed to revert patch: ", err)
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 && len(m.patches) == 0 {
		m.log.Debugln("all patches reverted")
	}
	return errors.Join(errs...)
}

// Get returns the patch applied at exactly addr.
func (m *Manager) Get(addr memory.Address) (Patch, bool) {
	p, ok := m.patches[addr]
	if !ok {
		return Patch{}, false
	}
	return *p, true
}

// Overlaps returns a live patch intersecting [addr, addr+size).
func (m *Manager) Overlaps(addr memory.Address, size memory.Size) (Patch, bool) {
	for _, p := range m.patches {
		if p.overlaps(addr, size) {
			return *p, true
		}
	}
	return Patch{}, false
}

// Patches returns the live patches sorted by address.
func (m *Manager) Patches() []Patch {
	out := make([]Patch, 0, len(m.patches))
	for _, p := range m.patches {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out
}

func (m *Manager) Len() int {
	return len(m.patches)
}
