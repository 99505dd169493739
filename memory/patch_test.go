package memory_test

import (
	"bytes"
	"errors"
	"testing"

	"memcore/memory"
)

func TestProtectionGuard(t *testing.T) {
	blob, mem, log, _ := newTarget(t)

	guard, err := mem.AcquireProtection(roBase, 0x10, memory.ReadWriteExecute)
	if err != nil {
		t.Fatalf("AcquireProtection: %v", err)
	}
	if state, _ := mem.PageState(roBase); state.String() != "rwx+" {
		t.Fatalf("state under guard = %s, want rwx+", state)
	}
	if guard.Old().Access != memory.PageRead|memory.PageExecute {
		t.Fatalf("recorded protection = %+v", guard.Old())
	}

	guard.Release()
	if state, _ := mem.PageState(roBase); state.String() != "r-x+" {
		t.Fatalf("state after release = %s, want r-x+", state)
	}

	protects := blob.Calls().ProtectCalls
	guard.Release()
	if got := blob.Calls().ProtectCalls; got != protects {
		t.Fatalf("second Release called Protect again")
	}
	if len(log.warns) != 0 {
		t.Fatalf("unexpected warnings: %v", log.warns)
	}
}

func TestProtectionGuard_AcquireFails(t *testing.T) {
	blob, mem, _, _ := newTarget(t)
	denied := errors.New("access denied")
	blob.FailProtect = denied

	_, err := mem.AcquireProtection(roBase, 0x10, memory.ReadWriteExecute)
	if !errors.Is(err, memory.ErrProtectionChangeFailed) || !errors.Is(err, denied) {
		t.Fatalf("AcquireProtection err = %v", err)
	}
	var protErr *memory.ProtectionError
	if !errors.As(err, &protErr) || protErr.Address != roBase || protErr.Size != 0x10 {
		t.Fatalf("ProtectionError = %+v", protErr)
	}
}

func TestProtectionGuard_RestoreFailsIsLogged(t *testing.T) {
	blob, mem, log, _ := newTarget(t)
	blob.FailRestore = errors.New("restore refused")

	guard, err := mem.AcquireProtection(roBase, 0x10, memory.ReadWriteExecute)
	if err != nil {
		t.Fatalf("AcquireProtection: %v", err)
	}
	guard.Release()

	if len(log.warns) != 1 {
		t.Fatalf("warnings = %v, want one", log.warns)
	}
}

func TestPatch_RoundTrip(t *testing.T) {
	blob, mem, _, _ := newTarget(t)
	code := []byte{0x55, 0x48, 0x89, 0xE5, 0xC3}
	if err := blob.Map(0x500000, append([]byte(nil), code...), memory.PageRead|memory.PageExecute); err != nil {
		t.Fatalf("Map: %v", err)
	}

	backup, err := mem.Patch(0x500001, []byte{0x90, 0x90})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Equal(backup, code[1:3]) {
		t.Fatalf("backup = % X, want % X", backup, code[1:3])
	}

	got, _ := mem.Read(0x500000, 5, true)
	if !bytes.Equal(got, []byte{0x55, 0x90, 0x90, 0xE5, 0xC3}) {
		t.Fatalf("patched bytes = % X", got)
	}
	if state, _ := mem.PageState(0x500000); state.String() != "r-x+" {
		t.Fatalf("protection not restored: %s", state)
	}

	if _, err := mem.Patch(0x500001, backup); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, _ = mem.Read(0x500000, 5, true)
	if !bytes.Equal(got, code) {
		t.Fatalf("restored bytes = % X, want % X", got, code)
	}
}

func TestPatchRepeat(t *testing.T) {
	_, mem, _, data := newTarget(t)
	want := append([]byte(nil), data[0x20:0x24]...)

	backup, err := mem.PatchRepeat(dataBase+0x20, 0xCC, 4)
	if err != nil {
		t.Fatalf("PatchRepeat: %v", err)
	}
	if !bytes.Equal(backup, want) {
		t.Fatalf("backup = % X, want % X", backup, want)
	}
	if !bytes.Equal(data[0x20:0x24], []byte{0xCC, 0xCC, 0xCC, 0xCC}) {
		t.Fatalf("filled bytes = % X", data[0x20:0x24])
	}
	if data[0x24] != 0x24 {
		t.Fatalf("PatchRepeat wrote past count")
	}
}

func TestPatch_Preconditions(t *testing.T) {
	blob, mem, _, data := newTarget(t)
	before := append([]byte(nil), data...)

	if _, err := mem.Patch(rsvBase, []byte{0x90}); !errors.Is(err, memory.ErrPageNotCommit) {
		t.Fatalf("Patch of reservation err = %v", err)
	}
	if _, err := mem.Patch(dataBase, nil); !errors.Is(err, memory.ErrInvalidSize) {
		t.Fatalf("empty Patch err = %v", err)
	}
	if calls := blob.Calls(); calls.ProtectCalls != 0 {
		t.Fatalf("failed precondition changed protection: %+v", calls)
	}

	blob.FailProtect = errors.New("denied")
	if _, err := mem.Patch(dataBase, []byte{0xFF, 0xFF}); !errors.Is(err, memory.ErrProtectionChangeFailed) {
		t.Fatalf("Patch with protect failure err = %v", err)
	}
	if !bytes.Equal(data, before) {
		t.Fatalf("failed Patch modified memory")
	}
}

func TestPatch_AcrossRegions(t *testing.T) {
	blob, mem, log, _ := newTarget(t)
	code := bytes.Repeat([]byte{0xC3}, 0x10)
	heap := bytes.Repeat([]byte{0x11}, 0x10)
	if err := blob.Map(0x600000, code, memory.PageRead|memory.PageExecute); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := blob.Map(0x600010, heap, memory.PageRead|memory.PageWrite); err != nil {
		t.Fatalf("Map: %v", err)
	}

	backup, err := mem.Patch(0x60000E, []byte{0x90, 0x90, 0x90, 0x90})
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if !bytes.Equal(backup, []byte{0xC3, 0xC3, 0x11, 0x11}) {
		t.Fatalf("backup = % X", backup)
	}
	if !bytes.Equal(code[0xE:], []byte{0x90, 0x90}) || !bytes.Equal(heap[:2], []byte{0x90, 0x90}) {
		t.Fatalf("patched bytes = % X | % X", code[0xE:], heap[:2])
	}

	if state, _ := mem.PageState(0x600000); state.String() != "r-x+" {
		t.Fatalf("first region after patch = %s, want r-x+", state)
	}
	if state, _ := mem.PageState(0x600010); state.String() != "rw-+" {
		t.Fatalf("second region after patch = %s, want rw-+", state)
	}
	if err := mem.Write(0x600010, []byte{0x22}, true); err != nil {
		t.Fatalf("safe Write to second region: %v", err)
	}
	if len(log.warns) != 0 {
		t.Fatalf("unexpected warnings: %v", log.warns)
	}
}

func TestProtectionGuard_PartialAcquireRestores(t *testing.T) {
	blob, mem, _, _ := newTarget(t)
	if err := blob.Map(0x700000, make([]byte, 0x10), memory.PageRead|memory.PageExecute); err != nil {
		t.Fatalf("Map: %v", err)
	}
	if err := blob.Reserve(0x700010, 0x10); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	if _, err := mem.AcquireProtection(0x70000E, 4, memory.ReadWriteExecute); !errors.Is(err, memory.ErrProtectionChangeFailed) {
		t.Fatalf("AcquireProtection err = %v", err)
	}
	if state, _ := mem.PageState(0x700000); state.String() != "r-x+" {
		t.Fatalf("first region after failed acquire = %s, want r-x+", state)
	}
}
