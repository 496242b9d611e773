// Package relro implements the second half of §4.F: applying PT_GNU_RELRO
// protection, then running constructors in the order the spec requires,
// and (SPEC_FULL.md §3 item 2) the symmetric destructor path on dlclose
// and process exit.
package relro

import (
	"unsafe"

	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/sysraw"
)

// Apply re-protects every PT_GNU_RELRO region of obj to read-only. Must be
// called after every relocation targeting that region has completed and
// before any user code runs (§3 invariant 5).
func Apply(obj *object.LoadedObject) error {
	for _, region := range obj.RelroRegions {
		if err := sysraw.Mprotect(region.Addr, region.Size, sysraw.ProtRead); err != nil {
			return err
		}
	}
	return nil
}

// RunInitializers calls DT_INIT (legacy single constructor) first, then
// each DT_INIT_ARRAY entry in array order (§4.F "Initializers").
func RunInitializers(obj *object.LoadedObject) {
	if obj.InitFunc != 0 {
		callVoidFunc(obj.InitFunc)
	}
	for _, fn := range obj.InitArray {
		if fn != 0 {
			callVoidFunc(fn)
		}
	}
}

// RunFinalizers calls DT_FINI_ARRAY in reverse order, then DT_FINI,
// symmetric to RunInitializers (SPEC_FULL.md §3 item 2). Its only caller
// is dlclose (internal/dlapi); nothing in this loader runs destructors at
// process exit. It only ever runs destructors, never frees memory.
func RunFinalizers(obj *object.LoadedObject) {
	for i := len(obj.FiniArray) - 1; i >= 0; i-- {
		if obj.FiniArray[i] != 0 {
			callVoidFunc(obj.FiniArray[i])
		}
	}
	if obj.FiniFunc != 0 {
		callVoidFunc(obj.FiniFunc)
	}
}

func callVoidFunc(addr uintptr) {
	f := *(*func())(unsafe.Pointer(&addr))
	f()
}
