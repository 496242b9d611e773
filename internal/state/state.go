// Package state owns the one mutable thing the linker has: a Linker
// value built once at entry and passed by reference to every component.
// This is the Design Notes fix for the teacher's pattern of global mutable
// tables (the loaded-object list, debug flag, bind-now override, search
// path) — here they are fields on a single struct instead of package-level
// vars.
package state

import (
	"strings"

	env "github.com/xyproto/env/v2"

	"github.com/xyproto/rtld/internal/diag"
	"github.com/xyproto/rtld/internal/object"
)

// Config is the process-wide configuration read once from the environment
// (§6 "Recognized environment variables").
type Config struct {
	LibraryPath []string // library-path: colon-separated search dirs
	Preload     []string // preload: colon- or space-separated libraries
	Debug       bool     // debug: any value enables stderr diagnostics
	BindNow     bool     // bind-now: force eager PLT resolution process-wide
}

// Default system library directories (§4.D step 4).
var DefaultSearchDirs = []string{"/lib", "/usr/lib", "/lib64", "/usr/lib64"}

// NewConfig reads the conventional glibc-style environment variable names
// using github.com/xyproto/env/v2's typed getters, matching how the
// teacher itself reads its own CLI environment knobs.
func NewConfig() Config {
	var cfg Config
	if raw := env.Str("LD_LIBRARY_PATH"); raw != "" {
		cfg.LibraryPath = splitColon(raw)
	}
	if raw := env.Str("LD_PRELOAD"); raw != "" {
		cfg.Preload = splitPreload(raw)
	}
	cfg.Debug = env.Bool("RTLD_DEBUG")
	cfg.BindNow = env.Bool("LD_BIND_NOW")
	return cfg
}

func splitColon(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ":") {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitPreload accepts both ":" and whitespace separators, per SPEC_FULL.md
// §3.1's supplemented LD_PRELOAD parsing rule.
func splitPreload(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ':' || r == ' ' || r == '\t'
	})
	return fields
}

// Linker is the single owning value threaded through loader, resolver, and
// relocator calls. No package outside this one holds process-wide state.
type Linker struct {
	Config   Config
	Registry *object.Registry
	Diag     *diag.Sink
}

func New(cfg Config, capacity int) *Linker {
	return &Linker{
		Config:   cfg,
		Registry: object.NewRegistry(capacity),
		Diag:     diag.NewSink(cfg.Debug),
	}
}
