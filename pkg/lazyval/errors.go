package lazyval

import "github.com/pkg/errors"

// UnsupportedPattern is returned when detection evidence is inconsistent:
// a lazy val classified Unknown, or a companion pair's two halves
// classified into different families (spec.md §7). Diagnostic lists every
// field, every method name, and every detected lazy-val summary of every
// involved class, per spec.md §4.6's invariant validation.
type UnsupportedPattern struct {
	Diagnostic string
}

func (e *UnsupportedPattern) Error() string {
	return "unsupported lazy val pattern:\n" + e.Diagnostic
}

// RewriteError wraps an unexpected failure inside a rewrite routine
// (spec.md §7). Always fatal for the enclosing patch operation.
type RewriteError struct {
	cause error
}

// NewRewriteError wraps cause as a RewriteError.
func NewRewriteError(cause error) *RewriteError { return &RewriteError{cause: cause} }

func (e *RewriteError) Error() string { return "rewrite failed: " + e.cause.Error() }
func (e *RewriteError) Unwrap() error { return e.cause }

// ErrAnchorNotFound is returned when the companion-offset-stripping walk
// (spec.md §4.8) cannot find its GETSTATIC LazyVals$.MODULE$ anchor within
// the ten-instruction lookback bound. Per the Open Question in spec.md §9,
// this is a hard error rather than a silent no-op: a future compiler
// change emitting a longer sequence must not be silently under-stripped.
var ErrAnchorNotFound = errors.New("could not find GETSTATIC LazyVals$.MODULE$ anchor within lookback bound")
