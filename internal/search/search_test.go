package search

import (
	"testing"

	"github.com/xyproto/rtld/internal/sysraw"
)

// TestCandidatesAbsolutePathShortCircuits verifies a name containing a
// slash is tried as-is, bypassing every search directory (§4.D).
func TestCandidatesAbsolutePathShortCircuits(t *testing.T) {
	got := Candidates("./libfoo.so", []string{"/opt/lib"}, []string{"/runpath"}, []string{"/lib"})
	if len(got) != 1 || got[0] != "./libfoo.so" {
		t.Fatalf("Candidates = %v, want [./libfoo.so]", got)
	}
}

// TestCandidatesOrder verifies LD_LIBRARY_PATH, then DT_RUNPATH, then the
// default directories, in that order (§4.D).
func TestCandidatesOrder(t *testing.T) {
	got := Candidates("libfoo.so", []string{"/opt/lib"}, []string{"/run/lib"}, []string{"/lib", "/usr/lib"})
	want := []string{
		"/opt/lib/libfoo.so",
		"/run/lib/libfoo.so",
		"/lib/libfoo.so",
		"/usr/lib/libfoo.so",
	}
	if len(got) != len(want) {
		t.Fatalf("Candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Candidates[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestJoinPathHandlesTrailingSlash verifies a directory already ending in
// '/' isn't doubled.
func TestJoinPathHandlesTrailingSlash(t *testing.T) {
	if got := joinPath("/lib/", "libc.so"); got != "/lib/libc.so" {
		t.Errorf("joinPath = %q, want /lib/libc.so", got)
	}
	if got := joinPath("/lib", "libc.so"); got != "/lib/libc.so" {
		t.Errorf("joinPath = %q, want /lib/libc.so", got)
	}
}

// TestOpenTriesEachCandidateInOrder verifies Open returns the first
// candidate that actually opens, skipping ones that don't exist.
func TestOpenTriesEachCandidateInOrder(t *testing.T) {
	candidates := []string{"/nonexistent/libfoo.so", "/dev/null", "/also/nonexistent"}
	fd, path, err := Open(candidates)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sysraw.Close(fd)
	if path != "/dev/null" {
		t.Errorf("path = %q, want /dev/null", path)
	}
}

// TestOpenAllFail verifies an all-missing candidate list surfaces the last
// error rather than silently returning a zero value.
func TestOpenAllFail(t *testing.T) {
	_, _, err := Open([]string{"/nonexistent/a", "/nonexistent/b"})
	if err == nil {
		t.Fatal("expected an error when every candidate is missing")
	}
}
