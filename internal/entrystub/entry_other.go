//go:build !amd64

package entrystub

// transferAMD64 only has a real implementation on amd64 (entry_amd64.s).
// Transfer already refuses to call this on any other GOARCH; this stub
// exists purely so the package still compiles when cross-built.
func transferAMD64(entry, sp uintptr) {
	panic("entrystub: transferAMD64 called on non-amd64 build")
}
