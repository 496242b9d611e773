// Package dlapi implements §4.G: the dlopen/dlsym/dlclose/dlerror surface
// a loaded program can call into at runtime, built directly on loader,
// symresolve, and relro.
package dlapi

import (
	"fmt"

	"github.com/xyproto/rtld/internal/loader"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/relro"
	"github.com/xyproto/rtld/internal/state"
	"github.com/xyproto/rtld/internal/symresolve"
)

// API holds the per-thread-equivalent error string dlerror returns, mirroring
// the C convention of "the last error, cleared by a successful call or by
// dlerror itself" (§4.G). This rewrite has no threads calling concurrently
// into the same API value, so a single field suffices.
type API struct {
	ls       *state.Linker
	lastErr  string
}

func New(ls *state.Linker) *API {
	return &API{ls: ls}
}

// Open implements dlopen(name) -> handle (§4.G). A name already present in
// the registry is returned without re-loading, same as load_library's own
// idempotence.
func (a *API) Open(name string) (object.Handle, bool) {
	h, err := loader.Load(a.ls, name, nil)
	if err != nil {
		a.lastErr = err.Error()
		return object.NoHandle, false
	}
	a.lastErr = ""
	return h, true
}

// Sym implements dlsym(handle, name) -> address (§4.G). Passing
// object.NoHandle searches every loaded object in load order, the same
// global search relocation processing uses.
func (a *API) Sym(handle object.Handle, name string) (uintptr, bool) {
	if handle == object.NoHandle {
		found, ok := symresolve.GlobalLookup(a.ls.Registry, name, nil, 0, false)
		if !ok {
			a.lastErr = fmt.Sprintf("undefined symbol: %s", name)
			return 0, false
		}
		a.lastErr = ""
		return symresolve.RuntimeValue(found.Object, found.Sym), true
	}

	obj := a.ls.Registry.Get(handle)
	if obj == nil {
		a.lastErr = "invalid handle"
		return 0, false
	}
	found, ok := symresolve.LookupInObject(obj, name, "", false)
	if !ok {
		a.lastErr = fmt.Sprintf("undefined symbol: %s", name)
		return 0, false
	}
	a.lastErr = ""
	return symresolve.RuntimeValue(found.Object, found.Sym), true
}

// Close implements dlclose(handle) (§4.G). Per the Design Notes' resolved
// open question, this never unmaps or removes the object from the
// registry — doing so safely would require reference counting and
// use-after-close detection this loader does not implement. It does run
// the object's destructors (SPEC_FULL.md §3 item 2), which is observable
// behavior a caller can actually rely on even though the memory stays
// resident.
func (a *API) Close(handle object.Handle) bool {
	obj := a.ls.Registry.Get(handle)
	if obj == nil {
		a.lastErr = "invalid handle"
		return false
	}
	relro.RunFinalizers(obj)
	a.lastErr = ""
	return true
}

// Error implements dlerror(): return and clear the last error message, or
// "" if the previous call succeeded (§4.G).
func (a *API) Error() string {
	e := a.lastErr
	a.lastErr = ""
	return e
}
