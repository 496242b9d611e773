package dlapi

import (
	"encoding/binary"
	"testing"

	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/state"
)

// withSymbol registers an object exporting one global symbol named "answer"
// at Base+0x40, returning the handle.
func withSymbol(t *testing.T, reg *object.Registry, name string) object.Handle {
	t.Helper()
	strtab := []byte("\x00answer\x00")
	symtab := make([]byte, 24)
	binary.LittleEndian.PutUint32(symtab[0:4], 1) // name offset of "answer"
	symtab[4] = uint8(1) << 4                     // STB_GLOBAL
	binary.LittleEndian.PutUint16(symtab[6:8], 1) // non-SHN_UNDEF
	binary.LittleEndian.PutUint64(symtab[8:16], 0x40)

	h, err := reg.Register(object.LoadedObject{
		Name: name, Base: 0x1000, Strtab: strtab, Symtab: symtab, SymtabCount: 1,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return h
}

// TestSymWithExplicitHandleFindsSymbol verifies Sym looks only inside the
// named object when given a concrete handle.
func TestSymWithExplicitHandleFindsSymbol(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	h := withSymbol(t, ls.Registry, "libfoo.so")

	api := New(ls)
	addr, ok := api.Sym(h, "answer")
	if !ok {
		t.Fatalf("Sym: not found, dlerror=%q", api.Error())
	}
	if want := uintptr(0x1000 + 0x40); addr != want {
		t.Errorf("Sym address = %#x, want %#x", addr, want)
	}
}

// TestSymWithNoHandleSearchesGlobally verifies object.NoHandle triggers the
// registry-wide GlobalLookup path instead of a single-object lookup.
func TestSymWithNoHandleSearchesGlobally(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	withSymbol(t, ls.Registry, "libfoo.so")

	api := New(ls)
	addr, ok := api.Sym(object.NoHandle, "answer")
	if !ok {
		t.Fatalf("Sym(NoHandle): not found, dlerror=%q", api.Error())
	}
	if addr == 0 {
		t.Error("Sym(NoHandle) returned a zero address for a defined symbol")
	}
}

// TestSymMissingSetsDlerror verifies an unresolved symbol both fails and
// leaves a human-readable message behind for Error to return.
func TestSymMissingSetsDlerror(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	api := New(ls)

	if _, ok := api.Sym(object.NoHandle, "nope"); ok {
		t.Fatal("expected Sym to fail for an undefined symbol")
	}
	if api.Error() == "" {
		t.Error("expected a non-empty dlerror message after a failed Sym")
	}
	if api.Error() != "" {
		t.Error("Error() must clear the message after it's read once")
	}
}

// TestCloseInvalidHandleFails verifies Close rejects a handle never
// registered, without touching the finalizer path.
func TestCloseInvalidHandleFails(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	api := New(ls)

	if api.Close(object.Handle(7)) {
		t.Fatal("expected Close to fail for an unregistered handle")
	}
	if api.Error() == "" {
		t.Error("expected a dlerror message after closing an invalid handle")
	}
}

// TestCloseWithNoFinalizersSucceeds verifies Close on a valid handle with no
// DT_FINI/DT_FINI_ARRAY entries is a successful no-op (SPEC_FULL.md §3 item 2).
func TestCloseWithNoFinalizersSucceeds(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	h, err := ls.Registry.Register(object.LoadedObject{Name: "libbar.so"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	api := New(ls)
	if !api.Close(h) {
		t.Fatalf("Close: unexpected failure, dlerror=%q", api.Error())
	}
}

// TestOpenReusesAlreadyLoadedName verifies Open is idempotent for a name
// already present in the registry, matching load_library's own behavior.
func TestOpenReusesAlreadyLoadedName(t *testing.T) {
	ls := state.New(state.Config{}, 4)
	want, err := ls.Registry.Register(object.LoadedObject{Name: "libpreloaded.so"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	api := New(ls)
	got, ok := api.Open("libpreloaded.so")
	if !ok {
		t.Fatalf("Open: unexpected failure, dlerror=%q", api.Error())
	}
	if got != want {
		t.Errorf("Open returned handle %d, want %d", got, want)
	}
}
