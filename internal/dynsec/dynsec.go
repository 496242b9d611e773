// Package dynsec walks PT_DYNAMIC (§4.C) and fills in the corresponding
// fields of a LoadedObject. Tag constants are the System V generic ABI
// values; the structure of "walk until DT_NULL, switch on tag" mirrors the
// GOT/PLT bookkeeping the teacher already does for the write side in
// plt_got.go, inverted to a read.
package dynsec

import (
	"encoding/binary"

	"github.com/xyproto/rtld/internal/elfimage"
	"github.com/xyproto/rtld/internal/object"
)

// Recognized DT_* tags (§4.C).
const (
	DT_NULL         = 0
	DT_NEEDED       = 1
	DT_PLTRELSZ     = 2
	DT_PLTGOT       = 3
	DT_HASH         = 4
	DT_STRTAB       = 5
	DT_SYMTAB       = 6
	DT_RELA         = 7
	DT_RELASZ       = 8
	DT_RELAENT      = 9
	DT_STRSZ        = 10
	DT_INIT         = 12
	DT_FINI         = 13
	DT_SONAME       = 14
	DT_JMPREL       = 23
	DT_BIND_NOW     = 24
	DT_INIT_ARRAY   = 25
	DT_FINI_ARRAY   = 26
	DT_INIT_ARRAYSZ = 27
	DT_FINI_ARRAYSZ = 28
	DT_FLAGS        = 30
	DT_RUNPATH      = 29
	DT_FLAGS_1      = 0x6ffffffb
	DT_VERSYM       = 0x6ffffff0
	DT_VERDEF       = 0x6ffffffc
	DT_VERDEFNUM    = 0x6ffffffd
	DT_VERNEED      = 0x6ffffffe
	DT_VERNEEDNUM   = 0x6fffffff
)

// DF_BIND_NOW (in DT_FLAGS) and DF_1_NOW (in DT_FLAGS_1).
const (
	DF_BIND_NOW = 0x8
	DF_1_NOW    = 0x1
)

// entrySize is a raw Elf64_Dyn entry: two 8-byte fields, (d_tag, d_val).
const entrySize = 16

type rawEntry struct {
	tag uint64
	val uint64
}

func readEntries(dynAddr uintptr) []rawEntry {
	var entries []rawEntry
	// Upper bound generous enough for any real object; DT_NULL terminates
	// the walk long before this, matching §4.C "walk the array until a
	// terminating tag."
	const maxEntries = 4096
	view := elfimage.ByteView(dynAddr, entrySize*maxEntries)
	for i := 0; i < maxEntries; i++ {
		off := i * entrySize
		tag := binary.LittleEndian.Uint64(view[off : off+8])
		val := binary.LittleEndian.Uint64(view[off+8 : off+16])
		entries = append(entries, rawEntry{tag, val})
		if tag == DT_NULL {
			break
		}
	}
	return entries
}

// Parse walks obj.Dynamic and fills the dynamic-section-derived fields of
// obj (§4.C). forceBindNow is the process-wide environment override
// (LD_BIND_NOW) that forces eager PLT resolution regardless of the
// object's own flags.
func Parse(obj *object.LoadedObject, forceBindNow bool) error {
	entries := readEntries(obj.Dynamic)

	var (
		strtabAddr, symtabAddr, relaAddr, jmprelAddr       uintptr
		hashAddr, versymAddr, verdefAddr, verneedAddr      uintptr
		initArrayAddr, finiArrayAddr                       uintptr
		strsz, relasz, pltrelsz, initArraySz, finiArraySz  uint64
		flags, flags1                                      uint64
		hasHash, bindNowFlag                                bool
		runpathOff, sonameOff                               uint64
		hasRunpath, hasSoname                               bool
		neededOffs                                          []uint64
	)

	for _, e := range entries {
		v := uintptr(e.val)
		switch e.tag {
		case DT_NEEDED:
			neededOffs = append(neededOffs, e.val)
		case DT_PLTGOT:
			obj.PLTGot = obj.Base + v
		case DT_HASH:
			hashAddr, hasHash = obj.Base+v, true
		case DT_STRTAB:
			strtabAddr = obj.Base + v
		case DT_STRSZ:
			strsz = e.val
		case DT_SYMTAB:
			symtabAddr = obj.Base + v
		case DT_RELA:
			relaAddr = obj.Base + v
		case DT_RELASZ:
			relasz = e.val
		case DT_JMPREL:
			jmprelAddr = obj.Base + v
		case DT_PLTRELSZ:
			pltrelsz = e.val
		case DT_INIT:
			obj.InitFunc = obj.Base + v
		case DT_FINI:
			obj.FiniFunc = obj.Base + v
		case DT_INIT_ARRAY:
			initArrayAddr = obj.Base + v
		case DT_FINI_ARRAY:
			finiArrayAddr = obj.Base + v
		case DT_INIT_ARRAYSZ:
			initArraySz = e.val
		case DT_FINI_ARRAYSZ:
			finiArraySz = e.val
		case DT_VERSYM:
			versymAddr = obj.Base + v
		case DT_VERDEF:
			verdefAddr = obj.Base + v
		case DT_VERDEFNUM:
			obj.Versions.VerdefNum = e.val
		case DT_VERNEED:
			verneedAddr = obj.Base + v
		case DT_VERNEEDNUM:
			obj.Versions.VerneedNum = e.val
		case DT_RUNPATH:
			runpathOff, hasRunpath = e.val, true
		case DT_SONAME:
			sonameOff, hasSoname = e.val, true
		case DT_BIND_NOW:
			bindNowFlag = true
		case DT_FLAGS:
			flags = e.val
		case DT_FLAGS_1:
			flags1 = e.val
		}
	}

	if strtabAddr != 0 && strsz > 0 {
		obj.Strtab = elfimage.ByteView(strtabAddr, uintptr(strsz))
	}
	if relaAddr != 0 && relasz > 0 {
		obj.Rela = elfimage.ByteView(relaAddr, uintptr(relasz))
	}
	if jmprelAddr != 0 && pltrelsz > 0 {
		obj.Jmprel = elfimage.ByteView(jmprelAddr, uintptr(pltrelsz))
	}
	if initArrayAddr != 0 && initArraySz > 0 {
		obj.InitArray = readPtrArray(initArrayAddr, initArraySz)
	}
	if finiArrayAddr != 0 && finiArraySz > 0 {
		obj.FiniArray = readPtrArray(finiArrayAddr, finiArraySz)
	}
	if verdefAddr != 0 {
		obj.Versions.Verdef = elfimage.ByteView(verdefAddr, 1<<16)
	}
	if verneedAddr != 0 {
		obj.Versions.Verneed = elfimage.ByteView(verneedAddr, 1<<16)
	}

	// Symbol count: derive from HASH's nchain (§3), falling back to a
	// linear scan stopping at the first all-zero entry.
	if symtabAddr != 0 {
		count := 0
		if hasHash {
			count = int(binary.LittleEndian.Uint32(elfimage.ByteView(hashAddr, 8)[4:8]))
		}
		const symEntrySize = 24
		if count == 0 {
			count = scanSymtabCount(symtabAddr)
		}
		obj.Symtab = elfimage.ByteView(symtabAddr, uintptr(count*symEntrySize))
		obj.SymtabCount = count
		if versymAddr != 0 {
			obj.Versions.Versym = elfimage.ByteView(versymAddr, uintptr(count*2))
		}
	}

	obj.BindNow = forceBindNow || bindNowFlag ||
		flags&DF_BIND_NOW != 0 || flags1&DF_1_NOW != 0

	// Second pass: resolve strtab-relative strings now that strtab exists,
	// matching §4.C's note that "DT_RUNPATH resolution requires a second
	// pass because it needs the string table from the first."
	if obj.Strtab != nil {
		if hasRunpath {
			obj.Runpath = splitPathList(obj.SymbolName(uint32(runpathOff)))
		}
		if hasSoname {
			obj.SOName = obj.SymbolName(uint32(sonameOff))
		}
		for _, off := range neededOffs {
			obj.Needed = append(obj.Needed, obj.SymbolName(uint32(off)))
		}
	}

	return nil
}

func readPtrArray(addr uintptr, size uint64) []uintptr {
	view := elfimage.ByteView(addr, uintptr(size))
	out := make([]uintptr, size/8)
	for i := range out {
		out[i] = uintptr(binary.LittleEndian.Uint64(view[i*8 : i*8+8]))
	}
	return out
}

func scanSymtabCount(addr uintptr) int {
	const symEntrySize = 24
	const maxScan = 1 << 16
	view := elfimage.ByteView(addr, symEntrySize*maxScan)
	for i := 0; i < maxScan; i++ {
		off := i * symEntrySize
		allZero := true
		for _, b := range view[off : off+symEntrySize] {
			if b != 0 {
				allZero = false
				break
			}
		}
		if allZero && i > 0 {
			return i
		}
	}
	return maxScan
}

func splitPathList(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ':' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
