package auxv

import "testing"

// fakeStack builds a []uint64 shaped like a real kernel-provided initial
// stack for argv/envp/auxv, backed by a parallel string table resolved
// through a fake cstr function instead of real memory addresses.
func fakeStack(argv, envp []string, aux map[uint64]uint64) ([]uint64, func(uint64) string) {
	strings := map[uint64]string{}
	var nextAddr uint64 = 1000
	intern := func(s string) uint64 {
		addr := nextAddr
		nextAddr++
		strings[addr] = s
		return addr
	}

	var words []uint64
	words = append(words, uint64(len(argv)))
	for _, a := range argv {
		words = append(words, intern(a))
	}
	words = append(words, 0)
	for _, e := range envp {
		words = append(words, intern(e))
	}
	words = append(words, 0)
	for tag, val := range aux {
		words = append(words, tag, val)
	}
	words = append(words, AT_NULL, 0)

	cstr := func(addr uint64) string { return strings[addr] }
	return words, cstr
}

// TestParseSeparatesArgvEnvpAux verifies the three NUL/zero-delimited
// regions of the initial stack are split at the right boundaries.
func TestParseSeparatesArgvEnvpAux(t *testing.T) {
	stack, cstr := fakeStack(
		[]string{"/bin/prog", "-v"},
		[]string{"PATH=/bin", "HOME=/root"},
		map[uint64]uint64{AT_ENTRY: 0x401000, AT_PHNUM: 7},
	)
	info := Parse(stack, cstr)

	if len(info.Argv) != 2 || info.Argv[0] != "/bin/prog" || info.Argv[1] != "-v" {
		t.Fatalf("Argv = %v", info.Argv)
	}
	if len(info.Envp) != 2 {
		t.Fatalf("Envp = %v", info.Envp)
	}
	if v, ok := info.Lookup(AT_ENTRY); !ok || v != 0x401000 {
		t.Errorf("Lookup(AT_ENTRY) = (%#x, %v), want (0x401000, true)", v, ok)
	}
	if v, ok := info.Lookup(AT_PHNUM); !ok || v != 7 {
		t.Errorf("Lookup(AT_PHNUM) = (%d, %v), want (7, true)", v, ok)
	}
}

// TestParseIgnoresUnrecognizedAuxTags verifies tags this loader doesn't
// care about don't show up in Aux, and don't desynchronize the walk.
func TestParseIgnoresUnrecognizedAuxTags(t *testing.T) {
	stack, cstr := fakeStack(nil, nil, map[uint64]uint64{
		AT_ENTRY: 0x1000,
		0xff:     0xdead, // unrecognized tag
	})
	info := Parse(stack, cstr)
	if _, ok := info.Lookup(0xff); ok {
		t.Error("expected unrecognized tag to be absent from Aux")
	}
	if _, ok := info.Lookup(AT_ENTRY); !ok {
		t.Error("expected AT_ENTRY to still be found after an unrecognized tag")
	}
}

// TestGetenvFindsKey verifies Getenv's linear scan matches on the key
// prefix up to '='.
func TestGetenvFindsKey(t *testing.T) {
	info := Info{Envp: []string{"PATH=/bin:/usr/bin", "HOME=/root"}}
	if v, ok := info.Getenv("HOME"); !ok || v != "/root" {
		t.Errorf("Getenv(HOME) = (%q, %v), want (/root, true)", v, ok)
	}
	if _, ok := info.Getenv("MISSING"); ok {
		t.Error("expected Getenv(MISSING) to report not found")
	}
}
