// Package sysraw is the raw syscall + primitives layer (§4.A). Everything
// the linker needs before any C library exists in the address space: memory
// mapping, file I/O, process exit, and the architecture control call used to
// install the thread pointer. Built directly on golang.org/x/sys/unix rather
// than the Go runtime's own mmap path, so behavior matches what a
// freestanding loader sees: negative errno, no signal handling, no GC.
package sysraw

import (
	"golang.org/x/sys/unix"
)

// PageSize is the architecture page size assumed throughout the loader.
// x86_64 Linux never varies this at the ABI level the loader cares about.
const PageSize = 0x1000

// PageFloor rounds addr down to the start of its page.
func PageFloor(addr uintptr) uintptr {
	return addr &^ (PageSize - 1)
}

// PageCeil rounds addr up to the start of the next page (or itself, if
// already page-aligned).
func PageCeil(addr uintptr) uintptr {
	return (addr + PageSize - 1) &^ (PageSize - 1)
}

// Prot mirrors PROT_* for readability at call sites.
type Prot int

const (
	ProtNone  Prot = 0
	ProtRead  Prot = unix.PROT_READ
	ProtWrite Prot = unix.PROT_WRITE
	ProtExec  Prot = unix.PROT_EXEC
)

// Open opens path read-only. Returns a raw fd; caller must Close it.
func Open(path string) (int, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, err
	}
	return fd, nil
}

func Close(fd int) error {
	return unix.Close(fd)
}

// Pread reads up to len(buf) bytes at offset off with a single pread64
// syscall and returns the count read; a short read is not retried, so
// callers compare the count against len(buf).
func Pread(fd int, buf []byte, off int64) (int, error) {
	n, err := unix.Pread(fd, buf, off)
	if err != nil {
		return n, err
	}
	return n, nil
}

// MmapAnon reserves an anonymous, private mapping. addr == 0 lets the
// kernel choose; addr != 0 combined with fixed == true requests MAP_FIXED
// at exactly addr, per the mapping algorithm in §4.B step 2.
func MmapAnon(addr uintptr, length uintptr, prot Prot, fixed bool) (uintptr, error) {
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if fixed {
		flags |= unix.MAP_FIXED
	}
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), ^uintptr(0), 0)
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

// MmapFile maps length bytes of fd at file offset off into the address
// space, optionally fixed at addr. The PT_LOAD mapper does not use it; it
// always maps anonymously and fills segments with Pread.
func MmapFile(addr uintptr, length uintptr, prot Prot, fd int, off int64, fixed bool) (uintptr, error) {
	flags := unix.MAP_PRIVATE
	if fixed {
		flags |= unix.MAP_FIXED
	}
	ret, _, errno := unix.Syscall6(unix.SYS_MMAP, addr, length, uintptr(prot), uintptr(flags), uintptr(fd), uintptr(off))
	if errno != 0 {
		return 0, errno
	}
	return ret, nil
}

func Munmap(addr uintptr, length uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, addr, length, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func Mprotect(addr uintptr, length uintptr, prot Prot) error {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, addr, length, uintptr(prot))
	if errno != 0 {
		return errno
	}
	return nil
}

// Exit terminates the process immediately with code, matching §6's
// process_exit(code) — no return, no deferred cleanup.
func Exit(code int) {
	unix.Exit(code)
}

// WriteStderr writes buf to fd 2 directly, for diagnostics. Per §4.A,
// "writing diagnostics must never itself abort": a failed write is
// swallowed rather than propagated.
func WriteStderr(buf []byte) {
	_, _ = unix.Write(2, buf)
}

// ArchPrctlSetFS installs the thread pointer on x86_64 via arch_prctl(2)
// with ARCH_SET_FS, the architecture control call named abstractly in §6
// as arch_set_thread_pointer.
func ArchPrctlSetFS(addr uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_ARCH_PRCTL, unix.ARCH_SET_FS, addr, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

// --- freestanding string/number primitives (§4.A) ---
//
// These exist even though Go's standard library already has equivalents,
// because the specified contract is the primitive operations a loader with
// no libc needs, not "whatever os/strconv happens to export." Keeping them
// here, rather than reaching for strings/strconv, also keeps the one
// package that is conceptually "below libc" free of any dependency that
// could plausibly allocate through an allocator the loader does not control.

// Strlen returns the length of a NUL-terminated byte slice, stopping at the
// first zero byte or the slice's end, whichever comes first.
func Strlen(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return len(b)
}

// CString extracts the NUL-terminated string starting at offset off in b.
func CString(b []byte, off uint64) string {
	if off >= uint64(len(b)) {
		return ""
	}
	rest := b[off:]
	return string(rest[:Strlen(rest)])
}

// FormatHex renders v as a "0x"-prefixed lowercase hex string without
// using fmt, matching the freestanding hex-rendering primitive of §4.A.
func FormatHex(v uint64) string {
	if v == 0 {
		return "0x0"
	}
	const digits = "0123456789abcdef"
	var buf [18]byte // "0x" + 16 hex digits
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	i--
	buf[i] = 'x'
	i--
	buf[i] = '0'
	return string(buf[i:])
}

// FormatDecimal renders v as a decimal string without using fmt/strconv.
func FormatDecimal(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	u := uint64(v)
	if neg {
		u = uint64(-v)
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
