package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is wrapped by NotFoundError when a scan yields zero matches.
	ErrNotFound = errors.New("pattern not found")

	// ErrMultipleMatchesFound is returned where exactly one match is required.
	ErrMultipleMatchesFound = errors.New("more than one pattern found, expected exactly one")

	// ErrInvalidSize is wrapped by SizeError.
	ErrInvalidSize = errors.New("invalid size")

	ErrPagePermNoRead    = errors.New("no permission to read")
	ErrPagePermNoWrite   = errors.New("no permission to write")
	ErrPagePermNoExecute = errors.New("no permission to execute")

	// ErrPageNotCommit means the page is not backed by memory, as opposed to merely protected.
	ErrPageNotCommit = errors.New("page not committed")

	// ErrProtectionChangeFailed is wrapped by ProtectionError.
	ErrProtectionChangeFailed = errors.New("protection change failed")

	// ErrMixedProtection is returned by targets asked to change a range whose
	// regions carry different protections; the old protection would not be exact.
	ErrMixedProtection = errors.New("range crosses regions with different protection")

	// ErrOsQueryFailed is wrapped by QueryError.
	ErrOsQueryFailed = errors.New("os query failed")

	// ErrAddressNotMapped is returned by targets for an address outside every mapped region.
	ErrAddressNotMapped = errors.New("address not mapped")

	// ErrModuleNotFound is returned when the module locator enumerated no module.
	ErrModuleNotFound = errors.New("primary module not found")

	// ErrFault is wrapped by FaultError.
	ErrFault = errors.New("memory fault")
)

// NotFoundError reports a signature with zero matches.
type NotFoundError struct {
	Pattern string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("pattern not found: %s", e.Pattern)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// SizeError reports a read or write size outside its valid range.
type SizeError struct {
	Size Size
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("invalid size: %d", e.Size)
}

func (e *SizeError) Unwrap() error {
	return ErrInvalidSize
}

// PageError reports a failed permission or commit check at an address.
// Kind is one of the ErrPagePerm* sentinels or ErrPageNotCommit.
type PageError struct {
	Kind    error
	Address Address
}

func (e *PageError) Error() string {
	if e.Kind == ErrPageNotCommit {
		return fmt.Sprintf("page not committed at %s. You're trying to access memory that hasn't been allocated or initialized", e.Address)
	}
	return fmt.Sprintf("%s at %s", e.Kind, e.Address)
}

func (e *PageError) Unwrap() error {
	return e.Kind
}

// ProtectionError reports that the OS refused to change page protection.
type ProtectionError struct {
	Address Address
	Size    Size
	Err     error
}

func (e *ProtectionError) Error() string {
	return fmt.Sprintf("protection change failed at %s (size %d): %v", e.Address, e.Size, e.Err)
}

func (e *ProtectionError) Unwrap() []error {
	return []error{ErrProtectionChangeFailed, e.Err}
}

// QueryError wraps an OS-specific failure of a page or module query.
type QueryError struct {
	Op      string
	Address Address
	Err     error
}

func (e *QueryError) Error() string {
	if e.Address == 0 {
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Op, e.Address, e.Err)
}

func (e *QueryError) Unwrap() []error {
	return []error{ErrOsQueryFailed, e.Err}
}

// FaultError reports a hardware fault raised while a Space accessed memory.
type FaultError struct {
	Address Address
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("memory fault at %s", e.Address)
}

func (e *FaultError) Unwrap() error {
	return ErrFault
}

func pageError(kind error, addr Address) error {
	return &PageError{Kind: kind, Address: addr}
}
