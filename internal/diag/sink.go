package diag

import "github.com/xyproto/rtld/internal/sysraw"

// Sink is the single place diagnostics reach fd 2. It is constructed once
// by state.New from the "debug" environment variable and threaded through
// state.Linker, so no package holds a global verbosity flag.
type Sink struct {
	verbose bool
}

func NewSink(verbose bool) *Sink {
	return &Sink{verbose: verbose}
}

// Emit writes an Event to stderr. Debug-level events are suppressed unless
// verbose is set; warnings and above always print, matching §7's rule that
// diagnostics are not optional for real failures, only for debug traces.
func (s *Sink) Emit(e Event) {
	if e.Level == LevelDebug && !s.verbose {
		return
	}
	sysraw.WriteStderr([]byte(e.Error() + "\n"))
}

func (s *Sink) Debugf(cat Category, object, format string, args ...any) {
	s.Emit(New(LevelDebug, cat, object, format, args...))
}

func (s *Sink) Warnf(cat Category, object, format string, args ...any) {
	s.Emit(New(LevelWarning, cat, object, format, args...))
}

func (s *Sink) Errorf(cat Category, object, format string, args ...any) {
	s.Emit(New(LevelError, cat, object, format, args...))
}

func (s *Sink) Fatalf(cat Category, object, format string, args ...any) {
	s.Emit(New(LevelFatal, cat, object, format, args...))
}
