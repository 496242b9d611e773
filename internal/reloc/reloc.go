// Package reloc implements §4.E's relocation processing: decoding RELA
// records, the per-type dispatch table, and PLT/GOT setup for lazy or
// eager binding. The GOT slot layout (GOT[0]=_DYNAMIC, GOT[1]/GOT[2]
// reserved for the resolver, functions from GOT[3]) mirrors exactly what
// the teacher's write-side GenerateGOT (plt_got.go) lays down — this
// package is that same layout, consumed instead of produced.
package reloc

import (
	"encoding/binary"

	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/symresolve"
	"github.com/xyproto/rtld/internal/sysraw"
)

// Type is the tagged-variant enumeration Design Notes calls for in place
// of the source's relocation-type switch: the Go compiler cannot verify
// switch exhaustiveness over an int, but naming every case here keeps the
// mapping in applyOne honest and auditable.
type Type uint32

// x86_64 relocation types actually dispatched (§4.E table). Values match
// the System V x86_64 ABI supplement.
const (
	R_X86_64_NONE     Type = 0
	R_X86_64_64       Type = 1
	R_X86_64_COPY     Type = 5
	R_X86_64_GLOB_DAT Type = 6
	R_X86_64_JUMP_SLOT Type = 7
	R_X86_64_RELATIVE Type = 8
	R_X86_64_DTPMOD64 Type = 16
	R_X86_64_DTPOFF64 Type = 17
	R_X86_64_TPOFF64  Type = 18
	R_X86_64_IRELATIVE Type = 37
)

// Record is a decoded Elf64_Rela: (offset-from-base, type, symbol index,
// addend) (§3 RelocationRecord).
type Record struct {
	Offset uint64
	Type   Type
	Sym    uint32
	Addend int64
}

const relaEntrySize = 24 // r_offset, r_info, r_addend — three 8-byte fields

// Decode parses every Elf64_Rela entry out of a relocation table view
// (obj.Rela or obj.Jmprel).
func Decode(table []byte) []Record {
	n := len(table) / relaEntrySize
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		b := table[i*relaEntrySize:]
		rOffset := binary.LittleEndian.Uint64(b[0:8])
		rInfo := binary.LittleEndian.Uint64(b[8:16])
		rAddend := int64(binary.LittleEndian.Uint64(b[16:24]))
		out[i] = Record{
			Offset: rOffset,
			Type:   Type(rInfo & 0xffffffff),
			Sym:    uint32(rInfo >> 32),
			Addend: rAddend,
		}
	}
	return out
}

// Resolver is the callback set reloc needs from the loader to resolve a
// symbol: global lookup across the registry, and a same-name lookup in
// every object other than the requester (for COPY relocations).
type Resolver struct {
	Registry       *object.Registry
	FindOtherOwner func(requester *object.LoadedObject, name string) (symresolve.Found, bool)
}

// ApplyRela processes every record in obj.Rela against obj (§4.E
// "Relocation processing"). This never touches obj.Jmprel — that table is
// handled separately by ApplyPLT because of the lazy-binding exception.
func ApplyRela(obj *object.LoadedObject, r Resolver, sink *diag.Sink) {
	for _, rec := range Decode(obj.Rela) {
		applyOne(obj, rec, r, sink)
	}
}

func applyOne(obj *object.LoadedObject, rec Record, r Resolver, sink *diag.Sink) {
	target := obj.Base + uintptr(rec.Offset)

	switch rec.Type {
	case R_X86_64_NONE:
		// no-op

	case R_X86_64_64:
		val, ok := resolveSymbolValue(obj, rec, r, sink)
		if !ok {
			writeU64(target, 0)
			return
		}
		writeU64(target, uint64(int64(val)+rec.Addend))

	case R_X86_64_GLOB_DAT:
		val, ok := resolveSymbolValue(obj, rec, r, sink)
		if !ok {
			writeU64(target, 0)
			return
		}
		writeU64(target, uint64(val))

	case R_X86_64_RELATIVE:
		writeU64(target, uint64(int64(obj.Base)+rec.Addend))

	case R_X86_64_COPY:
		name := symbolNameFor(obj, rec)
		found, ok := r.FindOtherOwner(obj, name)
		if !ok {
			sink.Warnf(diag.CategorySymbol, obj.Name, "COPY relocation: no other definition of %q", name)
			return
		}
		src := symresolve.RuntimeValue(found.Object, found.Sym)
		copyBytes(target, src, uintptr(found.Sym.Size))

	case R_X86_64_TPOFF64:
		off, ok := resolveTLSOffset(obj, rec, r, sink)
		if !ok {
			writeU64(target, 0)
			return
		}
		writeU64(target, uint64(off+rec.Addend))

	case R_X86_64_DTPMOD64:
		// Static-TLS-only design: module id is always 1 (§4.E, Design
		// Notes open question on TLS module-id handling).
		writeU64(target, 1)

	case R_X86_64_DTPOFF64:
		off, ok := resolveTLSOffset(obj, rec, r, sink)
		if !ok {
			writeU64(target, 0)
			return
		}
		writeU64(target, uint64(off+rec.Addend))

	case R_X86_64_IRELATIVE:
		resolverFn := obj.Base + uintptr(rec.Addend)
		result := callIFunc(resolverFn)
		writeU64(target, uint64(result))

	case R_X86_64_JUMP_SLOT:
		val, ok := resolveSymbolValue(obj, rec, r, sink)
		if !ok {
			writeU64(target, 0)
			return
		}
		writeU64(target, uint64(val))

	default:
		sink.Warnf(diag.CategoryRelocation, obj.Name, "unknown relocation type "+sysraw.FormatDecimal(int64(rec.Type))+", skipping")
	}
}

func symbolNameFor(obj *object.LoadedObject, rec Record) string {
	off := int(rec.Sym) * 24
	if off+4 > len(obj.Symtab) {
		return ""
	}
	nameOff := binary.LittleEndian.Uint32(obj.Symtab[off : off+4])
	return obj.SymbolName(nameOff)
}

// resolveSymbolValue implements the "undefined non-weak -> diagnose, write
// zero" and "undefined weak -> silent, write zero" rules of §7.
func resolveSymbolValue(obj *object.LoadedObject, rec Record, r Resolver, sink *diag.Sink) (uintptr, bool) {
	name := symbolNameFor(obj, rec)
	if name == "" {
		return 0, false
	}
	reqVersionIdx := symresolve.VersionIndex(obj, int(rec.Sym))
	found, ok := symresolve.GlobalLookup(r.Registry, name, obj, reqVersionIdx, obj.Versions.Versym != nil)
	if !ok {
		// Was the reference itself weak? Look at the requester's own
		// symtab entry for binding info.
		if isWeakReference(obj, rec.Sym) {
			return 0, false
		}
		sink.Warnf(diag.CategorySymbol, obj.Name, "undefined symbol %q", name)
		return 0, false
	}
	return symresolve.RuntimeValue(found.Object, found.Sym), true
}

func isWeakReference(obj *object.LoadedObject, symIdx uint32) bool {
	off := int(symIdx) * 24
	if off+5 > len(obj.Symtab) {
		return false
	}
	info := obj.Symtab[off+4]
	return info>>4 == symresolve.STB_WEAK
}

// resolveTLSOffset resolves the static-TLS negative offset for a TLS
// symbol reference. The value returned is already the "offset from the
// thread pointer" the spec describes — negative for TPOFF64, relative to
// the module's TLS block start for DTPOFF64 (both computed identically
// under a static-TLS-only design, per the Design Notes open question).
func resolveTLSOffset(obj *object.LoadedObject, rec Record, r Resolver, sink *diag.Sink) (int64, bool) {
	name := symbolNameFor(obj, rec)
	if name == "" {
		return 0, false
	}
	found, ok := symresolve.GlobalLookup(r.Registry, name, obj, 0, false)
	if !ok {
		if isWeakReference(obj, rec.Sym) {
			return 0, false
		}
		sink.Warnf(diag.CategorySymbol, obj.Name, "undefined TLS symbol %q", name)
		return 0, false
	}
	if found.Object.TLS == nil {
		return 0, false
	}
	return tlsOffsetFor(found.Object, found.Sym.Value), true
}
