package entrystub

// transferAMD64 is implemented in entry_amd64.s. It clears the
// general-purpose registers the System V ABI does not otherwise define at
// process entry and jumps to entry with SP already set to sp. It never
// returns.
func transferAMD64(entry, sp uintptr)
