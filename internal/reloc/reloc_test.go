package reloc

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/symresolve"
)

func uintptrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

// TestDecodeRela verifies the three little-endian fields of an Elf64_Rela
// entry decode in the right order.
func TestDecodeRela(t *testing.T) {
	buf := make([]byte, relaEntrySize)
	binary.LittleEndian.PutUint64(buf[0:8], 0x1000)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(5)<<32|uint64(R_X86_64_RELATIVE))
	binary.LittleEndian.PutUint64(buf[16:24], uint64(^uint64(0x10)+1)) // -0x10

	recs := Decode(buf)
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	r := recs[0]
	if r.Offset != 0x1000 || r.Type != R_X86_64_RELATIVE || r.Sym != 5 || r.Addend != -0x10 {
		t.Errorf("decoded %+v, want offset=0x1000 type=RELATIVE sym=5 addend=-0x10", r)
	}
}

// backingPage allocates a page-sized Go byte slice and returns its base
// address as a uintptr, standing in for a mapped segment: applyOne writes
// through raw pointer arithmetic, so the target memory must actually be
// addressable, not just a slice header.
func backingPage(t *testing.T) (uintptr, []byte) {
	t.Helper()
	buf := make([]byte, 4096)
	return uintptrOf(buf), buf
}

// TestApplyRelaRelative verifies R_X86_64_RELATIVE writes base+addend with
// no symbol lookup involved.
func TestApplyRelaRelative(t *testing.T) {
	base, buf := backingPage(t)
	obj := &object.LoadedObject{Base: base, MappedRegions: []object.MappedRegion{{Addr: base, Size: uintptr(len(buf))}}}

	relaBuf := make([]byte, relaEntrySize)
	binary.LittleEndian.PutUint64(relaBuf[0:8], 8) // write target at base+8
	binary.LittleEndian.PutUint64(relaBuf[8:16], uint64(R_X86_64_RELATIVE))
	binary.LittleEndian.PutUint64(relaBuf[16:24], 0x55)
	obj.Rela = relaBuf

	sink := diag.NewSink(false)
	ApplyRela(obj, Resolver{Registry: object.NewRegistry(1)}, sink)

	got := binary.LittleEndian.Uint64(buf[8:16])
	want := uint64(base) + 0x55
	if got != want {
		t.Errorf("RELATIVE wrote %#x, want %#x", got, want)
	}
}

// TestApplyRelaUndefinedWeakIsSilent verifies an undefined weak reference
// writes zero (§7). The absence of a diagnostic is not checked here.
func TestApplyRelaUndefinedWeakIsSilent(t *testing.T) {
	base, buf := backingPage(t)
	strtab, nameOff := []byte("\x00missing\x00"), uint32(1)

	symtab := make([]byte, 24*2)
	binary.LittleEndian.PutUint32(symtab[24:28], nameOff)
	symtab[24+4] = uint8(symresolve.STB_WEAK) << 4

	obj := &object.LoadedObject{
		Base: base, Strtab: strtab, Symtab: symtab, SymtabCount: 2,
		MappedRegions: []object.MappedRegion{{Addr: base, Size: uintptr(len(buf))}},
	}

	relaBuf := make([]byte, relaEntrySize)
	binary.LittleEndian.PutUint64(relaBuf[0:8], 0)
	binary.LittleEndian.PutUint64(relaBuf[8:16], uint64(1)<<32|uint64(R_X86_64_64))
	obj.Rela = relaBuf

	ApplyRela(obj, Resolver{Registry: object.NewRegistry(1)}, diag.NewSink(false))

	if got := binary.LittleEndian.Uint64(buf[0:8]); got != 0 {
		t.Errorf("undefined weak relocation wrote %#x, want 0", got)
	}
}
