// Package tlsinit implements §4.F's Variant II thread-local-storage setup:
// allocate the main thread's TLS block, copy the template, write the
// self-pointer, and install the thread pointer via arch_prctl.
package tlsinit

import (
	"unsafe"

	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/sysraw"
)

// alignUp rounds v up to a multiple of align (align must be a power of
// two); any align below 16, including zero, is raised to 16.
func alignUp(v, align uint64) uint64 {
	if align < 16 {
		align = 16 // §4.F step 1: "at least 16 bytes"
	}
	return (v + align - 1) &^ (align - 1)
}

// Install implements §4.F's six-step algorithm for the main thread. It
// must run before any DT_INIT/DT_INIT_ARRAY call (§3 invariant 4).
//
// Returns the thread-pointer value it prepared, for diagnostics. Install
// always issues the real arch_prctl; tests use prepareBlock instead.
func Install(obj *object.LoadedObject) (uintptr, error) {
	tp, err := prepareBlock(obj.TLS)
	if err != nil {
		return 0, err
	}
	obj.TLSOffset = -int64(obj.TLS.MemSize)

	// Step 6: install the thread pointer. Non-fatal per §7: "the
	// application may still run if it does not touch TLS."
	if err := sysraw.ArchPrctlSetFS(tp); err != nil {
		return tp, err
	}
	return tp, nil
}

// prepareBlock implements steps 1-5 of §4.F: allocate the block, copy the
// template, and write the self-pointer, stopping short of the
// register-changing arch_prctl call so tests can exercise the memory
// layout without touching the calling thread's real thread pointer (which
// the Go runtime itself depends on via FS on amd64/linux).
func prepareBlock(tls *object.TLSImage) (uintptr, error) {
	alignedMemsz := alignUp(tls.MemSize, tls.Align)

	// Step 2: allocate aligned_memsz + 8 (self-pointer word) + 16
	// (headroom for TCB-adjacent padding some ABIs expect), zeroed.
	blockSize := alignedMemsz + 8 + 16
	blockAddr, err := sysraw.MmapAnon(0, uintptr(blockSize), sysraw.ProtRead|sysraw.ProtWrite, false)
	if err != nil {
		return 0, err
	}

	// Step 3.
	tp := blockAddr + uintptr(alignedMemsz)

	// Step 4: copy the template into [TP - memsz, TP - memsz + filesz).
	if len(tls.Data) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(tp-uintptr(tls.MemSize))), len(tls.Data))
		copy(dst, tls.Data)
	}

	// Step 5: self-pointer.
	*(*uintptr)(unsafe.Pointer(tp)) = tp

	return tp, nil
}

// SelfPointerOK reports whether the self-pointer invariant (§8.5, §3
// invariant 6) holds for an installed thread pointer, for use in tests
// that don't want to call the real arch_prctl.
func SelfPointerOK(tp uintptr) bool {
	return *(*uintptr)(unsafe.Pointer(tp)) == tp
}
