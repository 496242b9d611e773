// Package elfimage implements §4.B: ELF64 header/program-header parsing
// and the PT_LOAD mapping algorithm. Struct layouts and size constants are
// grounded on the teacher's own ELF writer (elf.go, elf_complete.go,
// elf_sections.go) — the same bytes, read instead of written.
package elfimage

import (
	"encoding/binary"
	"fmt"

	"github.com/xyproto/rtld/internal/engine"
)

const (
	EHeaderSize  = 64 // ELF64 header size, matches teacher's elfHeaderSize
	PHeaderSize  = 56 // ELF64 program header entry size, matches teacher's progHeaderSize
	ELFMagic0    = 0x7f
	ELFClass64   = 2
	ELFDataLSB   = 1
	ELFVersion1  = 1
)

// Program header types the loader recognizes (§6).
const (
	PT_NULL         = 0
	PT_LOAD         = 1
	PT_DYNAMIC      = 2
	PT_INTERP       = 3
	PT_TLS          = 7
	PT_GNU_RELRO    = 0x6474e552
)

// Segment flags.
const (
	PF_X = 1
	PF_W = 2
	PF_R = 4
)

// Header is a parsed ELF64 header.
type Header struct {
	Machine      uint16
	Type         uint16 // ET_EXEC=2, ET_DYN=3
	Entry        uint64
	PHOff        uint64
	PHEntSize    uint16
	PHNum        uint16
}

// ParseHeader validates and decodes the ELF64 header out of raw (the first
// 64 bytes of the file). Rejects anything that isn't a little-endian
// 64-bit ELF for a recognized machine (§4.B Validation).
func ParseHeader(raw []byte) (Header, error) {
	var h Header
	if len(raw) < EHeaderSize {
		return h, fmt.Errorf("elf header truncated: got %d bytes", len(raw))
	}
	if raw[0] != ELFMagic0 || raw[1] != 'E' || raw[2] != 'L' || raw[3] != 'F' {
		return h, fmt.Errorf("bad ELF magic")
	}
	if raw[4] != ELFClass64 {
		return h, fmt.Errorf("not a 64-bit ELF (class=%d)", raw[4])
	}
	if raw[5] != ELFDataLSB {
		return h, fmt.Errorf("not little-endian (data=%d)", raw[5])
	}
	if raw[6] != ELFVersion1 {
		return h, fmt.Errorf("unrecognized ELF version %d", raw[6])
	}

	h.Type = binary.LittleEndian.Uint16(raw[16:18])
	h.Machine = binary.LittleEndian.Uint16(raw[18:20])
	if _, err := engine.FromELFMachine(h.Machine); err != nil {
		return h, err
	}
	h.Entry = binary.LittleEndian.Uint64(raw[24:32])
	h.PHOff = binary.LittleEndian.Uint64(raw[32:40])
	h.PHEntSize = binary.LittleEndian.Uint16(raw[54:56])
	h.PHNum = binary.LittleEndian.Uint16(raw[56:58])

	if h.PHEntSize != 0 && h.PHEntSize != PHeaderSize {
		return h, fmt.Errorf("unexpected program header entry size %d", h.PHEntSize)
	}
	return h, nil
}

// IsPIE reports whether the image is position independent (ET_DYN), which
// determines whether the kernel/loader chooses the load address (§4.B
// step 2).
func (h Header) IsPIE() bool {
	const ET_DYN = 3
	return h.Type == ET_DYN
}

// ProgramHeader is a single parsed Phdr entry.
type ProgramHeader struct {
	Type   uint32
	Flags  uint32
	Offset uint64
	Vaddr  uint64
	Paddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// ParseProgramHeaders decodes h.PHNum entries out of raw, which must start
// at the program header table (file offset h.PHOff).
func ParseProgramHeaders(raw []byte, h Header) ([]ProgramHeader, error) {
	need := int(h.PHNum) * PHeaderSize
	if len(raw) < need {
		return nil, fmt.Errorf("program header table truncated: need %d, got %d", need, len(raw))
	}
	phdrs := make([]ProgramHeader, h.PHNum)
	for i := range phdrs {
		b := raw[i*PHeaderSize:]
		phdrs[i] = ProgramHeader{
			Type:   binary.LittleEndian.Uint32(b[0:4]),
			Flags:  binary.LittleEndian.Uint32(b[4:8]),
			Offset: binary.LittleEndian.Uint64(b[8:16]),
			Vaddr:  binary.LittleEndian.Uint64(b[16:24]),
			Paddr:  binary.LittleEndian.Uint64(b[24:32]),
			Filesz: binary.LittleEndian.Uint64(b[32:40]),
			Memsz:  binary.LittleEndian.Uint64(b[40:48]),
			Align:  binary.LittleEndian.Uint64(b[48:56]),
		}
	}
	return phdrs, nil
}

// ProtOf translates PF_* flags to PROT_* flags (as ints, so this package
// doesn't need to import sysraw just for three constants).
func ProtOf(flags uint32) int {
	const (
		protRead  = 1
		protWrite = 2
		protExec  = 4
	)
	p := 0
	if flags&PF_R != 0 {
		p |= protRead
	}
	if flags&PF_W != 0 {
		p |= protWrite
	}
	if flags&PF_X != 0 {
		p |= protExec
	}
	return p
}
