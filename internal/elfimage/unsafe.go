package elfimage

import "unsafe"

// unsafeByteView turns a raw mapped address into a []byte of the given
// length. Every call site is required by Design Notes to carry a comment
// stating the invariant that keeps it inside a known mapping; here that
// invariant is "addr was just returned by MmapAnon/MmapFile for at least
// length bytes, and nothing has unmapped it since."
func unsafeByteView(addr uintptr, length uintptr) []byte {
	return ByteView(addr, length)
}

// ByteView is the exported form other packages (dynsec, symresolve, reloc)
// use to turn a bias-adjusted virtual address into a bounded []byte. The
// same invariant applies: addr must point inside a mapping the caller
// knows is still live.
func ByteView(addr uintptr, length uintptr) []byte {
	if length == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(length))
}
