package elfimage

import (
	"fmt"

	"github.com/xyproto/rtld/internal/object"
	"github.com/xyproto/rtld/internal/sysraw"
)

// MapResult is what the mapper hands back to the loader: the bias applied
// to every subsequent virtual address in this object, the address of
// PT_DYNAMIC (if any), and the list of mapped regions for the containment
// checks in §8.
type MapResult struct {
	Bias         uintptr
	DynamicAddr  uintptr
	HasDynamic   bool
	Regions      []object.MappedRegion
	RelroRegions []object.RelroRegion
	TLSPhdr      *ProgramHeader // PT_TLS, if present; caller builds the template
}

// MapSegments implements §4.B's mapping algorithm for every PT_LOAD
// segment of an image, plus bookkeeping for PT_DYNAMIC, PT_TLS, and
// PT_GNU_RELRO encountered along the way.
//
// fd must be positioned such that Pread(fd, buf, p_offset) returns file
// bytes for that segment — i.e. fd is the object's own file descriptor.
//
// readOnly, when true, re-protects every PT_LOAD segment to PROT_READ
// regardless of its PF_X/PF_W flags, instead of the segment's real
// protection (step 5 of §4.B). This is for callers that only want to
// inspect an image's tables (cmd/rtld-tool) and must never map a
// segment executable or writable — the loader itself always passes
// false, since applying the real PF_X/PF_W flags is part of what
// load_library does.
func MapSegments(fd int, h Header, phdrs []ProgramHeader, readOnly bool) (MapResult, error) {
	var res MapResult
	biasKnown := false

	for idx := range phdrs {
		ph := &phdrs[idx]
		switch ph.Type {
		case PT_LOAD:
			if err := mapOneLoad(fd, h, ph, &res, &biasKnown, readOnly); err != nil {
				return res, err
			}
		case PT_DYNAMIC:
			res.HasDynamic = true
			// filled in after bias is known, see second pass below
		case PT_TLS:
			res.TLSPhdr = ph
		}
	}

	if !biasKnown {
		return res, fmt.Errorf("no PT_LOAD segments found")
	}

	for idx := range phdrs {
		ph := &phdrs[idx]
		switch ph.Type {
		case PT_DYNAMIC:
			res.DynamicAddr = res.Bias + uintptr(ph.Vaddr)
		case PT_GNU_RELRO:
			start := sysraw.PageFloor(res.Bias + uintptr(ph.Vaddr))
			end := sysraw.PageCeil(res.Bias + uintptr(ph.Vaddr) + uintptr(ph.Memsz))
			res.RelroRegions = append(res.RelroRegions, object.RelroRegion{Addr: start, Size: end - start})
		}
	}

	return res, nil
}

// mapOneLoad implements §4.B's five-step algorithm for a single PT_LOAD
// segment. biasKnown/res.Bias carry state across calls for segments after
// the first.
func mapOneLoad(fd int, h Header, ph *ProgramHeader, res *MapResult, biasKnown *bool, readOnly bool) error {
	if ph.Memsz == 0 && ph.Filesz == 0 {
		return nil // boundary case from §8: skipped entirely
	}

	segStart := sysraw.PageFloor(uintptr(ph.Vaddr))
	segEnd := sysraw.PageCeil(uintptr(ph.Vaddr) + uintptr(ph.Memsz))
	span := segEnd - segStart

	var mappedAt uintptr
	var err error

	switch {
	case !*biasKnown && h.IsPIE():
		// Step 2, first PT_LOAD of a PIE: let the kernel choose, derive bias.
		mappedAt, err = sysraw.MmapAnon(0, span, sysraw.ProtRead|sysraw.ProtWrite, false)
		if err != nil {
			return fmt.Errorf("mmap reservation failed: %w", err)
		}
		res.Bias = mappedAt - segStart
		*biasKnown = true
	case !*biasKnown:
		// Absolute executable: fixed at segStart, bias is zero.
		mappedAt, err = sysraw.MmapAnon(segStart, span, sysraw.ProtRead|sysraw.ProtWrite, true)
		if err != nil {
			return fmt.Errorf("mmap fixed failed: %w", err)
		}
		res.Bias = 0
		*biasKnown = true
	default:
		target := res.Bias + segStart
		mappedAt, err = sysraw.MmapAnon(target, span, sysraw.ProtRead|sysraw.ProtWrite, true)
		if err != nil {
			return fmt.Errorf("mmap fixed failed: %w", err)
		}
	}

	// Step 3: read the file-backed portion into the mapping.
	pageOffset := uintptr(ph.Vaddr) - segStart
	if ph.Filesz > 0 {
		buf := unsafeByteView(mappedAt+pageOffset, uintptr(ph.Filesz))
		n, err := sysraw.Pread(fd, buf, int64(ph.Offset))
		if err != nil {
			return fmt.Errorf("pread segment: %w", err)
		}
		if uint64(n) != ph.Filesz {
			return fmt.Errorf("short read mapping segment: got %d, want %d", n, ph.Filesz)
		}
	}

	// Step 4: the partial page at the tail of the file-backed region must
	// be explicitly zeroed; everything past it is already zero from the
	// anonymous mapping.
	fileEnd := pageOffset + uintptr(ph.Filesz)
	tailStart := fileEnd
	tailEndOfPage := sysraw.PageCeil(fileEnd)
	if tailEndOfPage > tailStart {
		zeroLen := tailEndOfPage - tailStart
		if tailStart+zeroLen > span {
			zeroLen = span - tailStart
		}
		buf := unsafeByteView(mappedAt+tailStart, zeroLen)
		for i := range buf {
			buf[i] = 0
		}
	}

	// Step 5: re-protect to the segment's real flags, unless the caller
	// only wants a read-only inspection mapping (never PROT_EXEC, never
	// PROT_WRITE, regardless of PF_X/PF_W).
	prot := ProtOf(ph.Flags)
	if readOnly {
		prot = int(sysraw.ProtRead)
	}
	if err := sysraw.Mprotect(mappedAt, span, sysraw.Prot(prot)); err != nil {
		return fmt.Errorf("mprotect segment: %w", err)
	}

	res.Regions = append(res.Regions, object.MappedRegion{Addr: mappedAt, Size: span, Prot: uint32(prot)})
	return nil
}
