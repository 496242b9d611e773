// Package symresolve implements §4.E's symbol lookup: per-object lookup,
// global lookup across the registry in load order, and the symbol
// versioning rules. Relocation application itself lives in internal/reloc,
// which calls back into this package for every symbol it needs resolved.
package symresolve

import (
	"encoding/binary"

	"github.com/xyproto/rtld/internal/object"
)

// Elf64_Sym layout (24 bytes): name, info, other, shndx, value, size.
const symEntrySize = 24

// Special section indices (§3 SymbolEntry).
const (
	SHN_UNDEF  = 0
	SHN_ABS    = 0xfff1
)

// Binding values from st_info >> 4.
const (
	STB_LOCAL  = 0
	STB_GLOBAL = 1
	STB_WEAK   = 2
)

// Symbol is a decoded Elf64_Sym entry, still un-bias-adjusted in Value
// (the caller decides whether to add Base, since SHN_ABS symbols must not
// be bias-adjusted — §4.E).
type Symbol struct {
	NameOff uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

func (s Symbol) Binding() uint8 { return s.Info >> 4 }
func (s Symbol) IsUndefined() bool { return s.Shndx == SHN_UNDEF }
func (s Symbol) IsAbs() bool       { return s.Shndx == SHN_ABS }
func (s Symbol) IsGlobal() bool    { return s.Binding() == STB_GLOBAL }
func (s Symbol) IsWeak() bool      { return s.Binding() == STB_WEAK }
func (s Symbol) IsLocal() bool     { return s.Binding() == STB_LOCAL }

// decodeSymbol reads the idx'th Elf64_Sym out of obj.Symtab.
func decodeSymbol(obj *object.LoadedObject, idx int) Symbol {
	off := idx * symEntrySize
	b := obj.Symtab[off : off+symEntrySize]
	return Symbol{
		NameOff: binary.LittleEndian.Uint32(b[0:4]),
		Info:    b[4],
		Other:   b[5],
		Shndx:   binary.LittleEndian.Uint16(b[6:8]),
		Value:   binary.LittleEndian.Uint64(b[8:16]),
		Size:    binary.LittleEndian.Uint64(b[16:24]),
	}
}

// RuntimeValue returns the runtime address of a symbol in obj: absolute
// symbols are returned as-is, everything else is base-adjusted (§4.E).
func RuntimeValue(obj *object.LoadedObject, sym Symbol) uintptr {
	if sym.IsAbs() {
		return uintptr(sym.Value)
	}
	return obj.Base + uintptr(sym.Value)
}

// Found is the result of a lookup: the object the symbol was found in,
// its decoded entry, and its index within that object's symtab (needed
// for versym lookups).
type Found struct {
	Object *object.LoadedObject
	Sym    Symbol
	Index  int
}

// LookupInObject implements §4.E "Symbol lookup in one object": skip
// undefined and local entries, match by name (and version, if enabled),
// prefer a global hit over a weak one.
func LookupInObject(obj *object.LoadedObject, name string, wantVersion string, versioned bool) (Found, bool) {
	var weakMatch *Found
	for i := 0; i < obj.SymtabCount; i++ {
		sym := decodeSymbol(obj, i)
		if sym.IsUndefined() || sym.IsLocal() {
			continue
		}
		if obj.SymbolName(sym.NameOff) != name {
			continue
		}
		if versioned && !versionMatches(obj, i, wantVersion) {
			continue
		}
		f := Found{Object: obj, Sym: sym, Index: i}
		if sym.IsGlobal() {
			return f, true
		}
		if sym.IsWeak() && weakMatch == nil {
			weakMatch = &f
		}
	}
	if weakMatch != nil {
		return *weakMatch, true
	}
	return Found{}, false
}

// GlobalLookup implements §4.E "Global lookup": search every registered
// object in load order, preferring the first global hit, falling back to
// the first weak hit, else "not found" (caller writes zero).
func GlobalLookup(reg *object.Registry, name string, requester *object.LoadedObject, reqVersionIdx uint16, versioned bool) (Found, bool) {
	wantVersion := ""
	checkVersion := versioned && reqVersionIdx > 1
	if checkVersion {
		wantVersion = versionNameForRequester(requester, reqVersionIdx)
	}

	var globalHit, weakHit *Found
	reg.InOrder(func(obj *object.LoadedObject) bool {
		f, ok := LookupInObject(obj, name, wantVersion, checkVersion)
		if !ok {
			return true
		}
		if f.Sym.IsGlobal() {
			globalHit = &f
			return false // stop: first global hit wins
		}
		if weakHit == nil {
			weakHit = &f
		}
		return true
	})
	if globalHit != nil {
		return *globalHit, true
	}
	if weakHit != nil {
		return *weakHit, true
	}
	return Found{}, false
}
