package reloc

import (
	"unsafe"

	"github.com/xyproto/rtld/internal/object"
)

// writeU64 stores v at the 8-byte-aligned runtime address target. The
// invariant that keeps this inside a known mapping: target was derived as
// obj.Base + r_offset, and r_offset is required by the ELF producer to
// land inside a writable segment of obj — violating that is a malformed
// object, which the spec treats as undefined behavior, not a case this
// loader recovers from.
func writeU64(target uintptr, v uint64) {
	*(*uint64)(unsafe.Pointer(target)) = v
}

// copyBytes implements the COPY relocation's data movement: n bytes from
// src into dst, both runtime addresses.
func copyBytes(dst, src uintptr, n uintptr) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(unsafe.Pointer(dst)), int(n))
	s := unsafe.Slice((*byte)(unsafe.Pointer(src)), int(n))
	copy(d, s)
}

// callIFunc invokes an IRELATIVE resolver function with no arguments and
// returns its result, per §4.E: "the addend is a function pointer... call
// it with no arguments." This is the one place relocation processing
// executes code from the loaded image rather than just patching data.
func callIFunc(fn uintptr) uintptr {
	f := *(*func() uintptr)(unsafe.Pointer(&fn))
	return f()
}

// tlsOffsetFor computes the thread-pointer-relative offset for a TLS
// symbol whose ELF value (offset within the PT_TLS template) is symValue,
// given the owning object's installed TLSOffset (§4.E TPOFF64/DTPOFF64).
func tlsOffsetFor(owner *object.LoadedObject, symValue uint64) int64 {
	return owner.TLSOffset + int64(symValue)
}
