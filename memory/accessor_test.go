package memory_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"

	"memcore/memory"
	"memcore/memory_blob"
)

type testLogger struct {
	warns []string
}

func (l *testLogger) Infoln(v ...interface{})  {}
func (l *testLogger) Debugln(v ...interface{}) {}
func (l *testLogger) Warn(v ...interface{})    { l.warns = append(l.warns, fmt.Sprint(v...)) }

const (
	dataBase memory.Address = 0x100000
	roBase   memory.Address = 0x200000
	noneBase memory.Address = 0x300000
	rsvBase  memory.Address = 0x400000
)

// newTarget maps a writable page, a read-only page, a committed no access
// page and an uncommitted reservation.
func newTarget(t *testing.T) (*memory_blob.Blob, *memory.Accessor, *testLogger, []byte) {
	t.Helper()

	blob := memory_blob.New()
	data := make([]byte, 0x1000)
	for i := range data {
		data[i] = byte(i)
	}
	for _, err := range []error{
		blob.Map(dataBase, data, memory.PageRead|memory.PageWrite),
		blob.Map(roBase, make([]byte, 0x1000), memory.PageRead|memory.PageExecute),
		blob.Map(noneBase, make([]byte, 0x1000), 0),
		blob.Reserve(rsvBase, 0x1000),
	} {
		if err != nil {
			t.Fatalf("building target: %v", err)
		}
	}

	log := &testLogger{}
	return blob, memory.New(blob, memory.WithLogger(log), memory.WithPointerSize(8)), log, data
}

func TestIsReserved(t *testing.T) {
	tests := []struct {
		addr memory.Address
		want bool
	}{
		{0, true},
		{0x1000, true},
		{0x10000, true},
		{0x10001, false},
		{0x7FFFFFFFFFFFFFFF, false},
		{0x8000000000000000, true},
		{math.MaxUint64, true},
	}

	for _, tt := range tests {
		if got := memory.IsReserved(tt.addr); got != tt.want {
			t.Fatalf("IsReserved(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestReservedRange_NoOSCall(t *testing.T) {
	blob, mem, _, _ := newTarget(t)

	for _, addr := range []memory.Address{0, 0x10, 0x10000, 0x8000000000000000, math.MaxUint64} {
		for _, safe := range []bool{true, false} {
			if _, err := mem.Read(addr, 4, safe); !errors.Is(err, memory.ErrPagePermNoRead) {
				t.Fatalf("Read(%s, safe=%v) err = %v", addr, safe, err)
			}
			if _, err := mem.QuickRead(addr, 4, safe); !errors.Is(err, memory.ErrPagePermNoRead) {
				t.Fatalf("QuickRead(%s, safe=%v) err = %v", addr, safe, err)
			}
			if err := mem.Write(addr, []byte{1}, safe); !errors.Is(err, memory.ErrPagePermNoWrite) {
				t.Fatalf("Write(%s, safe=%v) err = %v", addr, safe, err)
			}
		}
		if _, err := mem.Patch(addr, []byte{0x90}); !errors.Is(err, memory.ErrPagePermNoWrite) {
			t.Fatalf("Patch(%s) err = %v", addr, err)
		}
		if _, err := mem.PatchRepeat(addr, 0x90, 2); !errors.Is(err, memory.ErrPagePermNoWrite) {
			t.Fatalf("PatchRepeat(%s) err = %v", addr, err)
		}
		if _, err := mem.ScanFirst(addr, 0x100, "90"); !errors.Is(err, memory.ErrPagePermNoRead) {
			t.Fatalf("ScanFirst(%s) err = %v", addr, err)
		}
		if _, ok := mem.OffsetPtr(addr, 0, 0); ok {
			t.Fatalf("OffsetPtr(%s) resolved", addr)
		}
		if _, ok := mem.OffsetPtrCE(addr, 0); ok {
			t.Fatalf("OffsetPtrCE(%s) resolved", addr)
		}
	}

	if calls := blob.Calls(); calls.OS() != 0 || calls.Accesses != 0 {
		t.Fatalf("reserved addresses reached the target: %+v", calls)
	}
}

func TestZeroSize(t *testing.T) {
	blob, mem, _, _ := newTarget(t)

	if err := mem.Write(dataBase, nil, true); err != nil {
		t.Fatalf("empty Write: %v", err)
	}
	if err := mem.Write(0, []byte{}, true); err != nil {
		t.Fatalf("empty Write to reserved address: %v", err)
	}
	if calls := blob.Calls(); calls.OS() != 0 || calls.Accesses != 0 {
		t.Fatalf("empty write touched the target: %+v", calls)
	}

	var sizeErr *memory.SizeError
	if _, err := mem.Read(dataBase, 0, true); !errors.As(err, &sizeErr) || sizeErr.Size != 0 {
		t.Fatalf("Read size 0 err = %v", err)
	}
	for _, size := range []memory.Size{0, 9} {
		if _, err := mem.QuickRead(dataBase, size, false); !errors.Is(err, memory.ErrInvalidSize) {
			t.Fatalf("QuickRead size %d err = %v", size, err)
		}
	}
}

func TestRead(t *testing.T) {
	_, mem, _, data := newTarget(t)

	got, err := mem.Read(dataBase+0x10, 4, true)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(data[0x10:0x14]) {
		t.Fatalf("Read = % X, want % X", got, data[0x10:0x14])
	}

	// The result is a copy.
	got[0] = 0xFF
	if data[0x10] == 0xFF {
		t.Fatalf("Read aliased target memory")
	}

	if _, err := mem.Read(noneBase, 4, true); !errors.Is(err, memory.ErrPagePermNoRead) {
		t.Fatalf("safe Read of no access page err = %v", err)
	}
	if _, err := mem.Read(noneBase, 4, false); !errors.Is(err, memory.ErrFault) {
		t.Fatalf("unsafe Read of no access page err = %v", err)
	}

	_, err = mem.Read(0x900000, 4, true)
	if !errors.Is(err, memory.ErrOsQueryFailed) || !errors.Is(err, memory.ErrAddressNotMapped) {
		t.Fatalf("Read of unmapped page err = %v", err)
	}
}

func TestQuickRead(t *testing.T) {
	_, mem, _, _ := newTarget(t)

	got, err := mem.QuickRead(dataBase+4, 3, true)
	if err != nil {
		t.Fatalf("QuickRead: %v", err)
	}
	want := [8]byte{4, 5, 6}
	if got != want {
		t.Fatalf("QuickRead = % X, want % X", got, want)
	}
}

func TestWrite(t *testing.T) {
	_, mem, _, data := newTarget(t)

	if err := mem.Write(dataBase+8, []byte{0xDE, 0xAD}, true); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if data[8] != 0xDE || data[9] != 0xAD {
		t.Fatalf("Write not visible: % X", data[8:10])
	}

	var pageErr *memory.PageError
	err := mem.Write(roBase, []byte{1}, true)
	if !errors.As(err, &pageErr) || pageErr.Kind != memory.ErrPagePermNoWrite || pageErr.Address != roBase {
		t.Fatalf("safe Write to read-only page err = %v", err)
	}
}

func TestChecks(t *testing.T) {
	_, mem, _, _ := newTarget(t)

	if err := mem.CheckReadWrite(dataBase); err != nil {
		t.Fatalf("CheckReadWrite rw page: %v", err)
	}
	if err := mem.CheckReadWrite(roBase); !errors.Is(err, memory.ErrPagePermNoRead) {
		t.Fatalf("CheckReadWrite ro page err = %v", err)
	}
	if err := mem.CheckExecute(roBase); err != nil {
		t.Fatalf("CheckExecute r-x page: %v", err)
	}
	if err := mem.CheckExecute(dataBase); !errors.Is(err, memory.ErrPagePermNoExecute) {
		t.Fatalf("CheckExecute rw page err = %v", err)
	}
	if err := mem.CheckCommit(noneBase); err != nil {
		t.Fatalf("CheckCommit no access page: %v", err)
	}
	if err := mem.CheckCommit(rsvBase); !errors.Is(err, memory.ErrPageNotCommit) {
		t.Fatalf("CheckCommit reserved page err = %v", err)
	}

	state, err := mem.PageState(roBase)
	if err != nil {
		t.Fatalf("PageState: %v", err)
	}
	if state.String() != "r-x+" {
		t.Fatalf("PageState = %s, want r-x+", state)
	}
}

func TestTyped(t *testing.T) {
	_, mem, _, data := newTarget(t)

	binary.LittleEndian.PutUint32(data[0x100:], 0xCAFEBABE)
	binary.LittleEndian.PutUint16(data[0x104:], uint16(0xFFFE))
	binary.LittleEndian.PutUint64(data[0x108:], math.Float64bits(2.5))
	copy(data[0x110:], "hello\x00world")

	if v, err := mem.ReadUint32(dataBase + 0x100); err != nil || v != 0xCAFEBABE {
		t.Fatalf("ReadUint32 = %#x, %v", v, err)
	}
	if v, err := mem.ReadInt16(dataBase + 0x104); err != nil || v != -2 {
		t.Fatalf("ReadInt16 = %d, %v", v, err)
	}
	if v, err := mem.ReadInteger(dataBase+0x100, 3); err != nil || v != 0xFEBABE {
		t.Fatalf("ReadInteger size 3 = %#x, %v", v, err)
	}
	if v, err := mem.ReadFloat64(dataBase + 0x108); err != nil || v != 2.5 {
		t.Fatalf("ReadFloat64 = %v, %v", v, err)
	}
	if s, err := mem.ReadString(dataBase+0x110, 32); err != nil || s != "hello" {
		t.Fatalf("ReadString = %q, %v", s, err)
	}
	if s, err := mem.ReadString(dataBase+0x110, 3); err != nil || s != "hel" {
		t.Fatalf("ReadString truncated = %q, %v", s, err)
	}

	if err := mem.WriteInteger(dataBase+0x200, 0x11223344, 4); err != nil {
		t.Fatalf("WriteInteger: %v", err)
	}
	if got := binary.LittleEndian.Uint32(data[0x200:]); got != 0x11223344 {
		t.Fatalf("WriteInteger wrote %#x", got)
	}
	if err := mem.WriteFloat32(dataBase+0x210, 1.5); err != nil {
		t.Fatalf("WriteFloat32: %v", err)
	}
	if v, err := mem.ReadFloat32(dataBase + 0x210); err != nil || v != 1.5 {
		t.Fatalf("ReadFloat32 = %v, %v", v, err)
	}
	if err := mem.WriteInteger(dataBase, 1, 9); !errors.Is(err, memory.ErrInvalidSize) {
		t.Fatalf("WriteInteger size 9 err = %v", err)
	}
}

func TestTyped_BigEndian(t *testing.T) {
	blob, _, _, data := newTarget(t)
	mem := memory.New(blob, memory.WithLogger(&testLogger{}), memory.WithByteOrder(binary.BigEndian))

	binary.BigEndian.PutUint32(data[0x40:], 0x01020304)
	if v, err := mem.ReadUint32(dataBase + 0x40); err != nil || v != 0x01020304 {
		t.Fatalf("ReadUint32 = %#x, %v", v, err)
	}
	if err := mem.WriteInteger(dataBase+0x50, 0xAABB, 2); err != nil {
		t.Fatalf("WriteInteger: %v", err)
	}
	if data[0x50] != 0xAA || data[0x51] != 0xBB {
		t.Fatalf("WriteInteger wrote % X", data[0x50:0x52])
	}
}

func TestTyped_NativeEndian(t *testing.T) {
	blob, _, _, data := newTarget(t)
	mem := memory.New(blob, memory.WithLogger(&testLogger{}), memory.WithByteOrder(binary.NativeEndian))

	binary.NativeEndian.PutUint32(data[0x40:], 0x01020304)
	if v, err := mem.ReadUint32(dataBase + 0x40); err != nil || v != 0x01020304 {
		t.Fatalf("ReadUint32 = %#x, %v", v, err)
	}
	if err := mem.WriteInteger(dataBase+0x50, 0xAABB, 2); err != nil {
		t.Fatalf("WriteInteger: %v", err)
	}
	if got := binary.NativeEndian.Uint16(data[0x50:]); got != 0xAABB {
		t.Fatalf("WriteInteger wrote % X", data[0x50:0x52])
	}
}

func TestPrimaryModule(t *testing.T) {
	blob, mem, _, _ := newTarget(t)

	if _, err := mem.PrimaryModule(); !errors.Is(err, memory.ErrModuleNotFound) {
		t.Fatalf("PrimaryModule with none err = %v", err)
	}

	blob.SetModule(roBase, 0x1000, "image")
	module, err := mem.PrimaryModule()
	if err != nil {
		t.Fatalf("PrimaryModule: %v", err)
	}
	if module.Base != roBase || module.Size != 0x1000 || module.End() != roBase+0x1000 {
		t.Fatalf("PrimaryModule = %+v", module)
	}
}
