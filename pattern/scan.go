package pattern

import (
	"bytes"
	"iter"
)

// Fits reports whether buf is long enough to hold a single match.
// A buffer that does not fit has no matches, which callers may want to report differently.
func (p Pattern) Fits(buf []byte) bool {
	return len(p.bytes) > 0 && len(buf) >= len(p.bytes)
}

// Matches lazily yields every offset of buf where p matches, in increasing order.
func (p Pattern) Matches(buf []byte) iter.Seq[int] {
	return func(yield func(int) bool) {
		if !p.Fits(buf) {
			return
		}

		last := len(buf) - len(p.bytes)
		for o := 0; o <= last; o++ {
			if p.anchor >= 0 {
				// Skip straight to the next candidate for the first exact byte
				j := bytes.IndexByte(buf[o+p.anchor:last+p.anchor+1], p.bytes[p.anchor])
				if j < 0 {
					return
				}
				o += j
			}

			if p.matchAt(buf, o) && !yield(o) {
				return
			}
		}
	}
}

// First returns the lowest matching offset.
func (p Pattern) First(buf []byte) (int, bool) {
	for o := range p.Matches(buf) {
		return o, true
	}
	return 0, false
}

// All returns every matching offset in increasing order.
func (p Pattern) All(buf []byte) []int {
	var matches []int
	for o := range p.Matches(buf) {
		matches = append(matches, o)
	}
	return matches
}

func (p Pattern) matchAt(buf []byte, o int) bool {
	for i, m := range p.mask {
		if m != 0 && buf[o+i] != p.bytes[i] {
			return false
		}
	}
	return true
}
