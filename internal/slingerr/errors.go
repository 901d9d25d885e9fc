// Package slingerr carries the four error categories spec.md §7
// distinguishes, mirroring the teacher's ErrRetry custom error type in
// main.go but generalized to all four categories instead of just the
// retry-with-lower-amount case.
package slingerr

import "fmt"

// Kind is one of the error categories from spec.md §7.
type Kind int

const (
	// Validation errors are rejected RPCs: bad option, unknown scid,
	// duplicate job, candidate conflict, excepting own channel.
	Validation Kind = iota
	// Transient errors are host RPC failures, peer disconnects, pay
	// timeouts. Logged, never fatal, worker backs off and retries.
	Transient
	// LiquiditySignal errors are BOLT-4 forwarding failures, they update
	// the belief store and stats, then execution continues.
	LiquiditySignal
	// Internal errors are invariant violations; the controller restarts
	// the affected job, other jobs are unaffected.
	Internal
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Transient:
		return "transient"
	case LiquiditySignal:
		return "liquidity_signal"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error wraps a plain message with its Kind and, for Validation errors
// surfaced over the control RPC, the JSON-RPC error code spec.md §6/§7
// specifies (-32602).
type Error struct {
	Kind Kind
	Code int
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a Validation error with the -32602 RPC code, the
// code spec.md §6 and §7 fix for rejected control-RPC calls.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: Validation, Code: -32602, Msg: fmt.Sprintf(format, args...)}
}

// Transientf builds a Transient error.
func Transientf(err error, format string, args ...any) *Error {
	return &Error{Kind: Transient, Msg: fmt.Sprintf(format, args...), Err: err}
}

// LiquiditySignalf builds a LiquiditySignal error.
func LiquiditySignalf(format string, args ...any) *Error {
	return &Error{Kind: LiquiditySignal, Msg: fmt.Sprintf(format, args...)}
}

// Internalf builds an Internal error.
func Internalf(err error, format string, args ...any) *Error {
	return &Error{Kind: Internal, Msg: fmt.Sprintf(format, args...), Err: err}
}

// IsKind reports whether err is a *Error of the given Kind.
func IsKind(err error, k Kind) bool {
	se, ok := err.(*Error)
	return ok && se.Kind == k
}
