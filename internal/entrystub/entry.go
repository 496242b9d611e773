// Package entrystub implements §4.H: the final handoff from the loader to
// the loaded program's own entry point. On amd64 this is genuinely a
// hand-written assembly trampoline (entry_amd64.s) because the handoff
// must zero the general-purpose registers and jump without ever
// returning — there is no Go-level call that can express "do not return
// to this stack frame."
package entrystub

import "github.com/xyproto/rtld/internal/engine"

// Transfer hands control to entry with the stack pointer set to sp, which
// must point at argc/argv/envp/auxv in the kernel's initial-stack layout
// (cmd/rtld builds that image with internal/bootstrap). It does not
// return.
//
// Per spec Non-goals, only amd64 is a real transfer; other architectures
// panic rather than silently misbehave by jumping through an un-zeroed
// register file built for the wrong calling convention.
func Transfer(arch engine.Arch, entry uintptr, sp uintptr) {
	if arch != engine.ArchX86_64 {
		panic("entrystub: no entry transfer implemented for " + arch.String())
	}
	transferAMD64(entry, sp)
}
