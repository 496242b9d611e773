package state

import "testing"

// TestSplitColonDropsEmptyFields verifies a leading/trailing/doubled colon
// doesn't produce empty directory entries.
func TestSplitColonDropsEmptyFields(t *testing.T) {
	got := splitColon(":/opt/lib::/usr/lib:")
	want := []string{"/opt/lib", "/usr/lib"}
	if len(got) != len(want) {
		t.Fatalf("splitColon = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitColon[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestSplitPreloadAcceptsColonOrWhitespace verifies LD_PRELOAD's mixed
// separator convention (SPEC_FULL.md §3 item 1).
func TestSplitPreloadAcceptsColonOrWhitespace(t *testing.T) {
	got := splitPreload("libfoo.so:libbar.so  libbaz.so\tlibqux.so")
	want := []string{"libfoo.so", "libbar.so", "libbaz.so", "libqux.so"}
	if len(got) != len(want) {
		t.Fatalf("splitPreload = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitPreload[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

// TestNewBuildsRegistryAtCapacity verifies New wires Config, a Registry
// sized to capacity, and a Diag sink in one call.
func TestNewBuildsRegistryAtCapacity(t *testing.T) {
	ls := New(Config{Debug: true}, 8)
	if ls.Registry == nil {
		t.Fatal("expected a non-nil Registry")
	}
	if ls.Diag == nil {
		t.Fatal("expected a non-nil Diag sink")
	}
	if ls.Registry.Len() != 0 {
		t.Errorf("Registry.Len() = %d, want 0 on a fresh Linker", ls.Registry.Len())
	}
}
