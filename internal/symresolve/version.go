package symresolve

import (
	"encoding/binary"

	"github.com/xyproto/rtld/internal/object"
)

// VersionIndex returns the masked version index for symbol idx in obj's
// VERSYM table (§4.E: "VERSYM[sym_idx] & 0x7FFF"), or 0 if obj carries no
// VERSYM table at all.
func VersionIndex(obj *object.LoadedObject, idx int) uint16 {
	if obj.Versions.Versym == nil {
		return 0
	}
	off := idx * 2
	if off+2 > len(obj.Versions.Versym) {
		return 0
	}
	return binary.LittleEndian.Uint16(obj.Versions.Versym[off:off+2]) & 0x7fff
}

// versionMatches implements the requester side of §4.E's versioning rule,
// called while scanning candidate symbols. §4.E only masks a candidate "if
// the providing object has a VERSYM table" — a provider with no VERSYM
// table at all (the common case: most dependencies carry no .gnu.version
// section) is unversioned, not explicitly local, and unconditionally
// satisfies a versioned reference. Only a provider that DOES carry a
// VERSYM table, with an entry explicitly masked to index 0 (local), fails
// to satisfy an external reference; indices <= 1 in a present table always
// match.
func versionMatches(provider *object.LoadedObject, providerSymIdx int, wantName string) bool {
	if wantName == "" {
		return true
	}
	if provider.Versions.Versym == nil {
		return true
	}
	providedIdx := VersionIndex(provider, providerSymIdx)
	if providedIdx == 0 {
		return false
	}
	if providedIdx <= 1 {
		return true
	}
	providedName, known := verdefName(provider, providedIdx)
	if !known {
		return true // permissive: unknown name, match succeeds
	}
	return providedName == wantName
}

// versionNameForRequester walks the requester's VERNEED chain to find the
// name associated with reqVersionIdx (§4.E: "the requester finds its name
// by walking VERNEED for entries whose auxiliary other equals the version
// index").
func versionNameForRequester(requester *object.LoadedObject, reqVersionIdx uint16) string {
	if requester == nil || requester.Versions.Verneed == nil {
		return ""
	}
	buf := requester.Versions.Verneed
	offset := 0
	for i := uint64(0); i < requester.Versions.VerneedNum; i++ {
		if offset+16 > len(buf) {
			break
		}
		vnCnt := binary.LittleEndian.Uint16(buf[offset+2 : offset+4])
		vnAux := binary.LittleEndian.Uint32(buf[offset+8 : offset+12])
		vnNext := binary.LittleEndian.Uint32(buf[offset+12 : offset+16])

		auxOff := offset + int(vnAux)
		for j := uint16(0); j < vnCnt; j++ {
			if auxOff+16 > len(buf) {
				break
			}
			vnaOther := binary.LittleEndian.Uint16(buf[auxOff+6 : auxOff+8])
			vnaName := binary.LittleEndian.Uint32(buf[auxOff+8 : auxOff+12])
			if vnaOther == reqVersionIdx {
				return requester.SymbolName(vnaName)
			}
			vnaNext := binary.LittleEndian.Uint32(buf[auxOff+12 : auxOff+16])
			if vnaNext == 0 {
				break
			}
			auxOff += int(vnaNext)
		}

		if vnNext == 0 {
			break
		}
		offset += int(vnNext)
	}
	return ""
}

// verdefName walks the provider's VERDEF chain looking for the entry whose
// vd_ndx equals idx (§4.E: "the provider walks VERDEF for the matching
// ndx"). Returns (name, true) on success, ("", false) if idx is unknown —
// the caller treats "unknown" as a permissive match.
func verdefName(provider *object.LoadedObject, idx uint16) (string, bool) {
	if provider.Versions.Verdef == nil {
		return "", false
	}
	buf := provider.Versions.Verdef
	offset := 0
	for i := uint64(0); i < provider.Versions.VerdefNum; i++ {
		if offset+20 > len(buf) {
			break
		}
		vdNdx := binary.LittleEndian.Uint16(buf[offset+4 : offset+6])
		vdAux := binary.LittleEndian.Uint32(buf[offset+12 : offset+16])
		vdNext := binary.LittleEndian.Uint32(buf[offset+16 : offset+20])

		if vdNdx == idx {
			auxOff := offset + int(vdAux)
			if auxOff+4 <= len(buf) {
				vdaName := binary.LittleEndian.Uint32(buf[auxOff : auxOff+4])
				return provider.SymbolName(vdaName), true
			}
		}
		if vdNext == 0 {
			break
		}
		offset += int(vdNext)
	}
	return "", false
}
