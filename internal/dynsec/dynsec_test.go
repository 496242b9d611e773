package dynsec

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/xyproto/rtld/internal/object"
)

func putEntry(buf []byte, i int, tag, val uint64) {
	off := i * entrySize
	binary.LittleEndian.PutUint64(buf[off:off+8], tag)
	binary.LittleEndian.PutUint64(buf[off+8:off+16], val)
}

func addrOf(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(&buf[0]))
}

// TestParseIgnoresTagOrder verifies DT_STRSZ appearing before DT_STRTAB
// (or any other ordering) still produces a correct Strtab view — §4.C
// makes no ordering guarantee and Parse must not assume one.
func TestParseIgnoresTagOrder(t *testing.T) {
	strtab := []byte("\x00libneeded.so\x00")
	dyn := make([]byte, entrySize*4)
	putEntry(dyn, 0, DT_STRSZ, uint64(len(strtab)))
	putEntry(dyn, 1, DT_NEEDED, 1)
	putEntry(dyn, 2, DT_STRTAB, uint64(addrOf(strtab)))
	putEntry(dyn, 3, DT_NULL, 0)

	obj := &object.LoadedObject{Dynamic: addrOf(dyn)}
	if err := Parse(obj, false); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(obj.Needed) != 1 || obj.Needed[0] != "libneeded.so" {
		t.Errorf("Needed = %v, want [libneeded.so]", obj.Needed)
	}
}

// TestParseBindNowFromForceFlag verifies LD_BIND_NOW (forceBindNow) wins
// even when the object itself sets no DF_BIND_NOW flag.
func TestParseBindNowFromForceFlag(t *testing.T) {
	dyn := make([]byte, entrySize*1)
	putEntry(dyn, 0, DT_NULL, 0)
	obj := &object.LoadedObject{Dynamic: addrOf(dyn)}
	if err := Parse(obj, true); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !obj.BindNow {
		t.Error("expected BindNow=true when forceBindNow is set")
	}
}

// TestParseBindNowFromFlags1 verifies DF_1_NOW in DT_FLAGS_1 sets BindNow
// without any environment override.
func TestParseBindNowFromFlags1(t *testing.T) {
	dyn := make([]byte, entrySize*2)
	putEntry(dyn, 0, DT_FLAGS_1, DF_1_NOW)
	putEntry(dyn, 1, DT_NULL, 0)
	obj := &object.LoadedObject{Dynamic: addrOf(dyn)}
	if err := Parse(obj, false); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !obj.BindNow {
		t.Error("expected BindNow=true from DF_1_NOW")
	}
}

// TestParseRunpathSplitsOnColon verifies DT_RUNPATH's colon-separated
// string becomes a slice of directories.
func TestParseRunpathSplitsOnColon(t *testing.T) {
	strtab := []byte("\x00/opt/lib:/opt/lib64\x00")
	dyn := make([]byte, entrySize*4)
	putEntry(dyn, 0, DT_STRTAB, uint64(addrOf(strtab)))
	putEntry(dyn, 1, DT_STRSZ, uint64(len(strtab)))
	putEntry(dyn, 2, DT_RUNPATH, 1)
	putEntry(dyn, 3, DT_NULL, 0)
	obj := &object.LoadedObject{Dynamic: addrOf(dyn)}
	if err := Parse(obj, false); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"/opt/lib", "/opt/lib64"}
	if len(obj.Runpath) != len(want) || obj.Runpath[0] != want[0] || obj.Runpath[1] != want[1] {
		t.Errorf("Runpath = %v, want %v", obj.Runpath, want)
	}
}

// TestReadEntriesStopsAtNull verifies the walk terminates at DT_NULL and
// never reads past it, even when the backing buffer is larger.
func TestReadEntriesStopsAtNull(t *testing.T) {
	dyn := make([]byte, entrySize*4)
	putEntry(dyn, 0, DT_NEEDED, 7)
	putEntry(dyn, 1, DT_NULL, 0)
	putEntry(dyn, 2, DT_NEEDED, 99) // must never be observed
	entries := readEntries(addrOf(dyn))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (stop at DT_NULL)", len(entries))
	}
}
