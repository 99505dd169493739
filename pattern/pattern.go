// Package pattern parses byte signatures ("48 8B ?? ?? 05") and finds them in buffers.
package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSyntax is wrapped by every error returned from Parse.
	ErrSyntax = errors.New("invalid pattern")

	// ErrMaskLength is returned by New when the pattern and mask disagree in length.
	ErrMaskLength = errors.New("pattern and mask must be of the same length")
)

// SyntaxError reports the first token of a signature that could not be parsed.
type SyntaxError struct {
	Index int    // Token index, -1 when the pattern has no tokens at all
	Token string // Offending token
}

func (e *SyntaxError) Error() string {
	if e.Index < 0 {
		return "invalid pattern: no bytes"
	}
	return fmt.Sprintf("invalid pattern: token %d %q is neither a hex byte nor a wildcard", e.Index, e.Token)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

// Pattern is an immutable sequence of byte matchers.
// A position with mask 0x00 is a wildcard, 0xFF is an exact byte.
type Pattern struct {
	bytes  []byte
	mask   []byte
	anchor int // first exact position, -1 when every position is a wildcard
}

// Parse reads a signature made of whitespace or comma separated tokens.
// A token is two hex digits or one of the wildcards "??" and "?".
func Parse(text string) (Pattern, error) {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(parts) == 0 {
		return Pattern{}, &SyntaxError{Index: -1}
	}

	value := make([]byte, len(parts))
	mask := make([]byte, len(parts))
	for i, part := range parts {
		if part == "??" || part == "?" {
			continue
		}

		if len(part) != 2 {
			return Pattern{}, &SyntaxError{Index: i, Token: part}
		}
		b, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return Pattern{}, &SyntaxError{Index: i, Token: part}
		}
		value[i] = byte(b)
		mask[i] = 0xFF
	}

	return build(value, mask), nil
}

// MustParse is like Parse but panics on error. Intended for package-level signatures.
func MustParse(text string) Pattern {
	p, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a pattern from an array of bytes and its mask.
// Mask bytes other than 0x00 are treated as exact matches.
func New(value, mask []byte) (Pattern, error) {
	if len(value) == 0 {
		return Pattern{}, &SyntaxError{Index: -1}
	}
	if len(mask) != len(value) {
		return Pattern{}, ErrMaskLength
	}

	v := make([]byte, len(value))
	m := make([]byte, len(mask))
	for i := range value {
		if mask[i] != 0 {
			v[i] = value[i]
			m[i] = 0xFF
		}
	}
	return build(v, m), nil
}

// Exact builds a pattern without wildcards.
func Exact(value []byte) (Pattern, error) {
	mask := make([]byte, len(value))
	for i := range mask {
		mask[i] = 0xFF
	}
	return New(value, mask)
}

func build(value, mask []byte) Pattern {
	p := Pattern{bytes: value, mask: mask, anchor: -1}
	for i, m := range mask {
		if m != 0 {
			p.anchor = i
			break
		}
	}
	return p
}

// Len returns the number of matchers.
func (p Pattern) Len() int {
	return len(p.bytes)
}

// IsWildcard reports whether position i matches any byte.
func (p Pattern) IsWildcard(i int) bool {
	return p.mask[i] == 0
}

// Byte returns the exact byte expected at position i, zero for a wildcard.
func (p Pattern) Byte(i int) byte {
	return p.bytes[i]
}

// String renders the pattern in canonical form, e.g. "4D 5A ?? ?? 00".
func (p Pattern) String() string {
	var sb strings.Builder
	for i := range p.bytes {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.mask[i] == 0 {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", p.bytes[i])
	}
	return sb.String()
}
