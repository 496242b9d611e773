package reloc

import (
	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/object"
)

// GOT slot reservation, mirroring the teacher's write-side GenerateGOT
// layout in plt_got.go: GOT[0] is the object's own _DYNAMIC pointer
// (already written by the static linker at build time, so this loader
// never touches it), GOT[1]/GOT[2] are reserved for the resolver's own
// bookkeeping when lazy binding is active.
const (
	gotSlotLinkMap       = 1 // holds the LoadedObject handle, as a pointer-sized value
	gotSlotRuntimeResolve = 2 // holds the address of PLTResolve
)

// PLTResolveFunc is the trampoline target a compiler-emitted PLT stub
// jumps to through GOT[2]: given the object and a relocation index into
// JMPREL, resolve the symbol, patch the GOT slot, and return the address
// so the stub can tail-call it (§4.E "PLT lazy binding").
//
// No assembly trampoline ships with this loader (Design Notes open
// question: "permit implementations to skip the trampoline and bind
// eagerly"), so PLTResolveFunc exists for completeness and for objects
// loaded via dlopen that a future trampoline could call into, but the
// bootstrap path in ApplyPLT always takes the eager branch instead.
type PLTResolveFunc func(obj *object.LoadedObject, relocIndex int) uintptr

// ApplyPLT implements §4.D step 10's JMPREL handling and §4.E's lazy vs.
// eager PLT policy. When obj.BindNow is false and the object has a
// PLTGOT, GOT[1]/GOT[2] are filled in, but since this loader ships no
// trampoline, every JUMP_SLOT relocation is still resolved eagerly here
// and obj.LazyPLT stays false.
func ApplyPLT(obj *object.LoadedObject, r Resolver, sink *diag.Sink, resolveFn PLTResolveFunc) {
	if len(obj.Jmprel) == 0 {
		return
	}

	if !obj.BindNow && obj.PLTGot != 0 {
		writeGOTSlot(obj.PLTGot, gotSlotLinkMap, uintptr(obj.Handle))
		writeGOTSlot(obj.PLTGot, gotSlotRuntimeResolve, resolverAddr(resolveFn))
	}

	// No trampoline ships with this loader, so every entry is resolved now
	// rather than on first call — see PLTResolveFunc's doc comment.
	for _, rec := range Decode(obj.Jmprel) {
		applyOne(obj, rec, r, sink)
	}
}

func writeGOTSlot(pltgot uintptr, slot int, value uintptr) {
	writeU64(pltgot+uintptr(slot*8), uint64(value))
}

// resolverAddr returns the value stored in GOT[2]: 0 when resolveFn is nil
// (the loader always passes nil), otherwise the placeholder 1. No code
// address is ever stored, and nothing jumps through this slot.
func resolverAddr(resolveFn PLTResolveFunc) uintptr {
	if resolveFn == nil {
		return 0
	}
	return uintptr(1) // sentinel: a real trampoline's code address would replace this
}
