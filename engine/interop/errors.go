package interop

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure the interop layer can report.
type ErrorKind int

const (
	// KindAllocation covers host array or GPU allocation failures, including invalid counts.
	KindAllocation ErrorKind = iota + 1
	// KindReinitialization is returned when Init is called on a set that is not Unbound.
	KindReinitialization
	// KindAcquire is an ownership transfer from render to compute that was illegal or rejected.
	KindAcquire
	// KindRelease is an ownership transfer from compute to render that was illegal or rejected.
	KindRelease
	// KindBinding is an attribute set that could not be registered as a kernel argument.
	KindBinding
	// KindArgument is a kernel argument rejected by validation or by the compute driver.
	KindArgument
	// KindTeardown is a native resource that failed to release during teardown.
	KindTeardown
)

// Sentinel errors matched by errors.Is against any *Error of the corresponding kind.
var (
	ErrAllocation       = errors.New("allocation error")
	ErrReinitialization = errors.New("reinitialization error")
	ErrAcquire          = errors.New("acquire error")
	ErrRelease          = errors.New("release error")
	ErrBinding          = errors.New("binding error")
	ErrArgument         = errors.New("argument error")
	ErrTeardown         = errors.New("teardown error")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindAllocation:
		return ErrAllocation
	case KindReinitialization:
		return ErrReinitialization
	case KindAcquire:
		return ErrAcquire
	case KindRelease:
		return ErrRelease
	case KindBinding:
		return ErrBinding
	case KindArgument:
		return ErrArgument
	case KindTeardown:
		return ErrTeardown
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error is the typed failure returned by every interop operation. It names the operation, the
// attribute set and layout involved and, when the driver rejected the call, wraps a *DriverError
// carrying the native error code.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// Op is the interop operation that failed ("construct", "init", "push", "pop", "bind", "set-argument", "teardown").
	Op string
	// Label is the debug label of the attribute set, empty for bare kernel arguments.
	Label string
	// Layout is the layout name of the attribute set, empty for bare kernel arguments.
	Layout string
	// Index is the kernel argument index for binding/argument failures, or -1.
	Index int
	// Reason is a human readable description of a protocol violation. Empty when Err says it all.
	Reason string
	// Err is the underlying cause, typically a *DriverError.
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("interop: ")
	b.WriteString(e.Op)
	if e.Label != "" {
		fmt.Fprintf(&b, " %q", e.Label)
	}
	if e.Layout != "" {
		fmt.Fprintf(&b, " (%s)", e.Layout)
	}
	if e.Index >= 0 {
		fmt.Fprintf(&b, " argument %d", e.Index)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind, so errors.Is(err, ErrAcquire) works on any
// wrapped *Error.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// DriverCode returns the native driver error code wrapped by this error, if any.
//
// Returns:
//   - int32: the driver code
//   - bool: true if a *DriverError is present in the chain
func (e *Error) DriverCode() (int32, bool) {
	var de *DriverError
	if errors.As(e.Err, &de) {
		return de.Code, true
	}
	return 0, false
}

// DriverError is returned by a RenderSubsystem or ComputeSubsystem when the native API rejects a
// call. For batched transfers Index identifies the first handle in the batch that failed; handles
// before it were transferred. Index is -1 when the failure is not attributable to one handle.
type DriverError struct {
	Op    string
	Code  int32
	Index int
	Msg   string
}

// NewDriverError creates a DriverError that is not attributed to a single handle.
//
// Parameters:
//   - op: the driver entry point that failed
//   - code: the native error code
//   - msg: an optional description
//
// Returns:
//   - *DriverError: the driver error
func NewDriverError(op string, code int32, msg string) *DriverError {
	return &DriverError{Op: op, Code: code, Index: -1, Msg: msg}
}

func (e *DriverError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("driver error %d in %s: %s", e.Code, e.Op, e.Msg)
	}
	return fmt.Sprintf("driver error %d in %s", e.Code, e.Op)
}

// BatchError is returned by PushAll and PopAll. Failures holds one *Error per attribute set that
// was not transferred, so the caller can report exactly which objects failed.
type BatchError struct {
	Op       string
	Failures []*Error
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("interop: batch %s failed for %d attribute set(s): %s", e.Op, len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// IsFatal reports whether err is a per-frame failure after which the shared allocation's
// ownership can no longer be trusted. The frame driver terminates the run on fatal errors.
//
// Parameters:
//   - err: the error to classify
//
// Returns:
//   - bool: true for acquire, release, binding and argument failures
func IsFatal(err error) bool {
	return errors.Is(err, ErrAcquire) ||
		errors.Is(err, ErrRelease) ||
		errors.Is(err, ErrBinding) ||
		errors.Is(err, ErrArgument)
}

func newError(kind ErrorKind, op, label, layout, reason string, err error) *Error {
	return &Error{Kind: kind, Op: op, Label: label, Layout: layout, Index: -1, Reason: reason, Err: err}
}
