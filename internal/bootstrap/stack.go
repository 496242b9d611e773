// Package bootstrap builds the initial stack image the kernel would have
// handed a freshly exec'd process — argc, argv, envp, and an auxiliary
// vector — for the one case this loader cannot get from the kernel
// directly: when rtld is invoked the way ld-linux.so is invoked manually
// ("rtld ./program arg1 arg2"), rather than as the PT_INTERP the kernel
// itself maps and jumps to with the real stack already built (§4.H,
// §6 "Initial stack layout from the kernel").
package bootstrap

import (
	"fmt"
	"unsafe"

	"github.com/xyproto/rtld/internal/auxv"
	"github.com/xyproto/rtld/internal/sysraw"
)

// stackSize is generous for argv/envp/auxv bookkeeping plus the strings
// themselves; real stacks are typically a few KB of this data.
const stackSize = 1 << 20 // 1 MiB, matching a conservative default RLIMIT_STACK slice

// Build lays out a stack image at a fresh anonymous mapping and returns the
// stack pointer the transferred program should start with: the same shape
// Parse in internal/auxv expects to read back.
func Build(argv []string, envp []string, aux map[uint64]uint64) (uintptr, error) {
	base, err := sysraw.MmapAnon(0, stackSize, sysraw.ProtRead|sysraw.ProtWrite, false)
	if err != nil {
		return 0, err
	}

	// Strings grow down from the top of the region; the pointer/word array
	// grows up from the bottom. They are sized generously enough never to
	// collide for any realistic argv/envp.
	top := base + stackSize
	writeString := func(s string) uint64 {
		n := len(s) + 1
		top -= uintptr(n)
		top &^= 0x7 // keep 8-byte alignment for the words that follow
		dst := unsafe.Slice((*byte)(unsafe.Pointer(top)), n)
		copy(dst, s)
		dst[len(s)] = 0
		return uint64(top)
	}

	argvPtrs := make([]uint64, len(argv))
	for i, a := range argv {
		argvPtrs[i] = writeString(a)
	}
	envpPtrs := make([]uint64, len(envp))
	for i, e := range envp {
		envpPtrs[i] = writeString(e)
	}

	words := []uint64{uint64(len(argv))}
	words = append(words, argvPtrs...)
	words = append(words, 0)
	words = append(words, envpPtrs...)
	words = append(words, 0)
	for _, tag := range []uint64{auxv.AT_PHDR, auxv.AT_PHENT, auxv.AT_PHNUM, auxv.AT_BASE, auxv.AT_ENTRY} {
		if v, ok := aux[tag]; ok {
			words = append(words, tag, v)
		}
	}
	words = append(words, auxv.AT_NULL, 0)

	// The word array sits directly below the strings it points into, with
	// sp set there — everything below sp down to base is left untouched as
	// genuine stack space for the transferred program to grow into, the
	// same direction a kernel-built stack grows.
	top -= uintptr(len(words) * 8)
	top &^= 0xf // 16-byte stack alignment at the point argc sits, per the x86_64 ABI
	if top <= base {
		return 0, fmt.Errorf("bootstrap: initial stack image too large for %d-byte reservation", stackSize)
	}
	sp := top
	dst := unsafe.Slice((*uint64)(unsafe.Pointer(sp)), len(words))
	copy(dst, words)

	return sp, nil
}
