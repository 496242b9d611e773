// Package loader implements §4.D: load_library and the recursive DT_NEEDED
// closure, plus the PLT/RELRO/init sequence each newly loaded object goes
// through before load_library returns.
package loader

import (
	"fmt"

	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/dynsec"
	"github.com/xyproto/rtld/internal/elfimage"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/reloc"
	"github.com/xyproto/rtld/internal/relro"
	"github.com/xyproto/rtld/internal/search"
	"github.com/xyproto/rtld/internal/state"
	"github.com/xyproto/rtld/internal/symresolve"
	"github.com/xyproto/rtld/internal/sysraw"
	"github.com/xyproto/rtld/internal/tlsinit"
)

// phdrScratchCap bounds the temporary read used to pull in the program
// header table before the object's own mapping exists (§5 "a per-library
// scratch mapping for program headers (freed before return)"). In this Go
// implementation the "mapping" is a plain byte slice read via Pread — it
// is never given a virtual address of its own, so there is nothing to
// Munmap; it is simply dropped once ParseProgramHeaders has copied what it
// needs into obj.
const phdrScratchCap = 64 * 1024

// Load implements load_library(name) -> handle (§4.D), idempotent in name.
// runpath is the DT_RUNPATH of the *requesting* object, consulted only
// after LD_LIBRARY_PATH and before the default directories. Use this for
// LD_PRELOAD entries and DT_NEEDED dependencies; use LoadMain for the
// executable itself.
func Load(ls *state.Linker, name string, runpath []string) (object.Handle, error) {
	return load(ls, name, runpath, false)
}

// LoadMain implements load_library(name) -> handle for the main executable
// specifically (§4.D): the one object in the whole dependency closure whose
// PT_TLS, if it carries one, becomes the process's static TLS block
// (spec.md §3 "the main thread's block is installed once and never freed";
// DESIGN.md Open Question 3). Preloaded libraries and DT_NEEDED
// dependencies are never the main object even though they are also loaded
// by a top-level call from cmd/rtld, which is why this is a separate entry
// point rather than inferred from recursion depth or registry position.
func LoadMain(ls *state.Linker, name string) (object.Handle, error) {
	return load(ls, name, nil, true)
}

func load(ls *state.Linker, name string, runpath []string, isMain bool) (object.Handle, error) {
	if h, ok := ls.Registry.Lookup(name); ok {
		ls.Diag.Debugf(diag.CategoryDependency, name, "already loaded, reusing handle "+sysraw.FormatDecimal(int64(h)))
		return h, nil
	}

	candidates := search.Candidates(name, ls.Config.LibraryPath, runpath, state.DefaultSearchDirs)
	fd, path, err := search.Open(candidates)
	if err != nil {
		return object.NoHandle, fmt.Errorf("load %s: %w", name, err)
	}
	defer sysraw.Close(fd)

	obj, err := mapAndParse(ls, fd, name, path)
	if err != nil {
		return object.NoHandle, err
	}

	h, err := ls.Registry.Register(obj)
	if err != nil {
		return object.NoHandle, err
	}
	registered := ls.Registry.Get(h)

	// Step 8: recurse into DT_NEEDED before relocating, so dependency
	// symbols are resolvable (§4.D). A dependency is never the main
	// object, regardless of what isMain was for this call.
	for _, dep := range registered.Needed {
		if _, err := load(ls, dep, registered.Runpath, false); err != nil {
			return object.NoHandle, fmt.Errorf("dependency %s of %s: %w", dep, name, err)
		}
	}

	if err := finishLoad(ls, registered, isMain); err != nil {
		return object.NoHandle, err
	}

	return h, nil
}

// mapAndParse implements §4.D steps 3-7 on an fd the caller already
// opened: validate, map, scan for PT_TLS, register (deferred to caller),
// parse the dynamic section.
func mapAndParse(ls *state.Linker, fd int, name, path string) (object.LoadedObject, error) {
	var obj object.LoadedObject
	obj.Name = name

	headerBuf := make([]byte, elfimage.EHeaderSize)
	if n, err := sysraw.Pread(fd, headerBuf, 0); err != nil || n != len(headerBuf) {
		return obj, fmt.Errorf("read ELF header %s: %w", path, err)
	}
	hdr, err := elfimage.ParseHeader(headerBuf)
	if err != nil {
		return obj, fmt.Errorf("%s: %w", path, err)
	}

	phdrBuf := make([]byte, int(hdr.PHNum)*elfimage.PHeaderSize)
	if len(phdrBuf) > phdrScratchCap {
		return obj, fmt.Errorf("%s: program header table implausibly large", path)
	}
	if n, err := sysraw.Pread(fd, phdrBuf, int64(hdr.PHOff)); err != nil || n != len(phdrBuf) {
		return obj, fmt.Errorf("read program headers %s: %w", path, err)
	}
	phdrs, err := elfimage.ParseProgramHeaders(phdrBuf, hdr)
	if err != nil {
		return obj, fmt.Errorf("%s: %w", path, err)
	}

	mapped, err := elfimage.MapSegments(fd, hdr, phdrs, false)
	if err != nil {
		return obj, fmt.Errorf("map %s: %w", path, err)
	}

	obj.Base = mapped.Bias
	obj.Entry = mapped.Bias + uintptr(hdr.Entry)
	obj.MappedRegions = mapped.Regions
	obj.RelroRegions = mapped.RelroRegions
	if mapped.TLSPhdr != nil {
		ph := mapped.TLSPhdr
		obj.TLS = &object.TLSImage{
			Data:    elfimage.ByteView(obj.Base+uintptr(ph.Vaddr), uintptr(ph.Filesz)),
			MemSize: ph.Memsz,
			Align:   ph.Align,
		}
	}

	if mapped.HasDynamic {
		obj.Dynamic = mapped.DynamicAddr
		if err := dynsec.Parse(&obj, ls.Config.BindNow); err != nil {
			return obj, fmt.Errorf("parse dynamic section %s: %w", path, err)
		}
	}

	return obj, nil
}

// finishLoad implements §4.D steps 9-12: PLT setup, RELA/JMPREL
// relocation, RELRO, and DT_INIT/DT_INIT_ARRAY — everything that must
// happen only after the dependency closure (and hence the global symbol
// table) is complete.
func finishLoad(ls *state.Linker, obj *object.LoadedObject, isMain bool) error {
	resolver := reloc.Resolver{
		Registry:       ls.Registry,
		FindOtherOwner: makeFindOtherOwner(ls),
	}

	if obj.TLS != nil {
		if isMain {
			if _, err := tlsinit.Install(obj); err != nil {
				ls.Diag.Warnf(diag.CategoryTLS, obj.Name, "thread-pointer install failed: %v", err)
			}
		} else {
			// Only the main executable's static TLS block is installed
			// (spec.md §3: "the main thread's block is installed once
			// and never freed"; DESIGN.md Open Question 3). A dependency
			// carrying its own PT_TLS would need a real dynamic TLS
			// model (DTV, per-module IDs) to participate safely — out
			// of scope per spec.md's TLS non-goals — so re-pointing FS
			// here would just clobber whichever object installed last.
			ls.Diag.Debugf(diag.CategoryTLS, obj.Name, "PT_TLS present on a non-main object, skipping thread-pointer install")
		}
	}

	reloc.ApplyRela(obj, resolver, ls.Diag)
	reloc.ApplyPLT(obj, resolver, ls.Diag, nil)

	if err := relro.Apply(obj); err != nil {
		return fmt.Errorf("relro %s: %w", obj.Name, err)
	}

	relro.RunInitializers(obj)
	return nil
}

// makeFindOtherOwner returns the COPY-relocation lookup callback: the
// first definition of name in any object other than requester (§4.E
// "COPY: copy sym_size bytes from the first definition of the symbol in
// an object other than the requester").
func makeFindOtherOwner(ls *state.Linker) func(*object.LoadedObject, string) (symresolve.Found, bool) {
	return func(requester *object.LoadedObject, name string) (symresolve.Found, bool) {
		var result symresolve.Found
		var found bool
		ls.Registry.InOrder(func(obj *object.LoadedObject) bool {
			if obj == requester {
				return true
			}
			f, ok := symresolve.LookupInObject(obj, name, "", false)
			if ok {
				result, found = f, true
				return false
			}
			return true
		})
		return result, found
	}
}

// LoadPreloads loads every entry in ls.Config.Preload, in listed order,
// before the main program's own DT_NEEDED closure (SPEC_FULL.md §3 item 1,
// spec.md Scenario 3). Preloaded objects' global symbols therefore sort
// ahead of everything loaded afterward, by construction of the registry's
// load-order search (§3 Relationships).
func LoadPreloads(ls *state.Linker) error {
	for _, name := range ls.Config.Preload {
		if _, err := Load(ls, name, nil); err != nil {
			return fmt.Errorf("preload %s: %w", name, err)
		}
	}
	return nil
}
