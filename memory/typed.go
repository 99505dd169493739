package memory

import (
	"bytes"
	"encoding/binary"
	"math"
)

// ReadInteger reads a size byte unsigned integer at addr and zero extends it.
// size must be in (0, 8].
func (a *Accessor) ReadInteger(addr Address, size Size) (uint64, error) {
	raw, err := a.QuickRead(addr, size, true)
	if err != nil {
		return 0, err
	}
	return a.decode(raw[:size]), nil
}

func (a *Accessor) decode(b []byte) uint64 {
	var v uint64
	if a.order == binary.BigEndian {
		for _, c := range b {
			v = v<<8 | uint64(c)
		}
		return v
	}
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (a *Accessor) encode(v uint64, size Size) []byte {
	out := make([]byte, size)
	for i := range out {
		shift := 8 * uint(i)
		if a.order == binary.BigEndian {
			shift = 8 * uint(len(out)-1-i)
		}
		out[i] = byte(v >> shift)
	}
	return out
}

func (a *Accessor) ReadUint8(addr Address) (uint8, error) {
	v, err := a.ReadInteger(addr, 1)
	return uint8(v), err
}

func (a *Accessor) ReadUint16(addr Address) (uint16, error) {
	v, err := a.ReadInteger(addr, 2)
	return uint16(v), err
}

func (a *Accessor) ReadUint32(addr Address) (uint32, error) {
	v, err := a.ReadInteger(addr, 4)
	return uint32(v), err
}

func (a *Accessor) ReadUint64(addr Address) (uint64, error) {
	return a.ReadInteger(addr, 8)
}

func (a *Accessor) ReadInt8(addr Address) (int8, error) {
	v, err := a.ReadInteger(addr, 1)
	return int8(v), err
}

func (a *Accessor) ReadInt16(addr Address) (int16, error) {
	v, err := a.ReadInteger(addr, 2)
	return int16(v), err
}

func (a *Accessor) ReadInt32(addr Address) (int32, error) {
	v, err := a.ReadInteger(addr, 4)
	return int32(v), err
}

func (a *Accessor) ReadInt64(addr Address) (int64, error) {
	v, err := a.ReadInteger(addr, 8)
	return int64(v), err
}

func (a *Accessor) ReadFloat32(addr Address) (float32, error) {
	v, err := a.ReadInteger(addr, 4)
	return math.Float32frombits(uint32(v)), err
}

func (a *Accessor) ReadFloat64(addr Address) (float64, error) {
	v, err := a.ReadInteger(addr, 8)
	return math.Float64frombits(v), err
}

// ReadPointer reads a pointer sized value at addr.
func (a *Accessor) ReadPointer(addr Address) (Address, error) {
	v, err := a.ReadInteger(addr, Size(a.ptrSize))
	return Address(v), err
}

// ReadString reads a NUL terminated string of at most limit bytes.
// A string without terminator is truncated at limit.
func (a *Accessor) ReadString(addr Address, limit Size) (string, error) {
	raw, err := a.Read(addr, limit, true)
	if err != nil {
		return "", err
	}
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

// WriteInteger writes the low size bytes of v at addr.
func (a *Accessor) WriteInteger(addr Address, v uint64, size Size) error {
	if size == 0 || size > 8 {
		return &SizeError{Size: size}
	}
	return a.Write(addr, a.encode(v, size), true)
}

func (a *Accessor) WriteFloat32(addr Address, v float32) error {
	return a.WriteInteger(addr, uint64(math.Float32bits(v)), 4)
}

func (a *Accessor) WriteFloat64(addr Address, v float64) error {
	return a.WriteInteger(addr, math.Float64bits(v), 8)
}
