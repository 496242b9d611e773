// Command rtld is the ELF interpreter binary described by §1-§7: given a
// dynamically linked executable, it resolves and maps every DT_NEEDED
// dependency, applies relocations, sets up thread-local storage, and
// transfers control to the program's own entry point.
//
// Invoked the way ld-linux.so.2 can be invoked directly — "rtld
// ./program arg1 arg2" — rather than as a kernel-installed PT_INTERP, so
// that the Go runtime is free to finish its own startup (goroutine
// scheduler, GC) before this program ever touches raw memory on the
// target's behalf. See DESIGN.md for why the literal "kernel hands the
// loader a raw stack pointer at its own _start" model doesn't transfer
// to a language with a managed runtime underneath it.
package main

import (
	"fmt"
	"os"

	"github.com/xyproto/rtld/internal/auxv"
	"github.com/xyproto/rtld/internal/bootstrap"
	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/dlapi"
	"github.com/xyproto/rtld/internal/engine"
	"github.com/xyproto/rtld/internal/entrystub"
	"github.com/xyproto/rtld/internal/loader"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/state"
	"github.com/xyproto/rtld/internal/sysraw"
)

// maxLoadedObjects bounds the Registry arena (§7 "too many loaded
// objects"). 256 comfortably covers any realistic dependency closure.
const maxLoadedObjects = 256

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: rtld <executable> [args...]")
		os.Exit(127)
	}

	cfg := state.NewConfig()
	ls := state.New(cfg, maxLoadedObjects)

	target := os.Args[1]
	targetArgv := os.Args[1:]

	if err := loader.LoadPreloads(ls); err != nil {
		fail(ls, target, err)
	}

	handle, err := loader.LoadMain(ls, target)
	if err != nil {
		fail(ls, target, err)
	}
	mainObj := ls.Registry.Get(handle)
	if mainObj == nil || mainObj.Entry == 0 {
		fail(ls, target, fmt.Errorf("executable has no entry point"))
	}

	_ = dlapi.New(ls) // wired for a future dlopen-from-the-target bridge; see DESIGN.md

	sp, err := bootstrap.Build(targetArgv, os.Environ(), auxvFor(mainObj))
	if err != nil {
		fail(ls, target, err)
	}

	ls.Diag.Debugf(diag.CategoryInternal, target, "transferring control to entry %s", sysraw.FormatHex(uint64(mainObj.Entry)))
	entrystub.Transfer(engine.ArchX86_64, mainObj.Entry, sp)
}

// auxvFor builds the auxiliary-vector entries a freshly exec'd process of
// this executable would have received, using values this loader itself
// computed while mapping it (§6).
func auxvFor(obj *object.LoadedObject) map[uint64]uint64 {
	return map[uint64]uint64{
		auxv.AT_BASE:  uint64(obj.Base),
		auxv.AT_ENTRY: uint64(obj.Entry),
	}
}

// fail reports a fatal diagnostic and exits 127, the code §6 reserves for
// "the interpreter itself could not complete loading."
func fail(ls *state.Linker, target string, err error) {
	ls.Diag.Fatalf(diag.CategoryInternal, target, "%v", err)
	sysraw.Exit(127)
}
