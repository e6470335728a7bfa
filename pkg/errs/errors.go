// Package errs defines the structured error type used throughout the engine.
// Every error either becomes a verification Fault with location information
// or is surfaced to the caller as an *EngineError; nothing is silently
// swallowed.
package errs

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an error by its nature and the appropriate handling
// strategy.
type Kind int

const (
	// KindCorruptJournal covers invalid record lengths, types, checksums and
	// structural count mismatches. Non-recoverable for scanning.
	KindCorruptJournal Kind = iota

	// KindCorruptVolume covers page verification failures. The verifier
	// records these as Faults and continues.
	KindCorruptVolume

	// KindInUse is a page claim timeout, propagated to the caller of the
	// operation that triggered the claim.
	KindInUse

	// KindIO wraps errors from the underlying storage.
	KindIO

	// KindInvalidArgument covers CLI parse failures, bad ranges and invalid
	// page sizes.
	KindInvalidArgument

	// KindStateViolation is a failed precondition, such as pruneAndClear
	// without trees=*.
	KindStateViolation
)

func (k Kind) String() string {
	switch k {
	case KindCorruptJournal:
		return "CORRUPT_JOURNAL"
	case KindCorruptVolume:
		return "CORRUPT_VOLUME"
	case KindInUse:
		return "IN_USE"
	case KindIO:
		return "IO"
	case KindInvalidArgument:
		return "INVALID_ARGUMENT"
	case KindStateViolation:
		return "STATE_VIOLATION"
	default:
		return "UNKNOWN"
	}
}

// EngineError carries the kind, a human-readable message, the operation and
// component that produced it, the underlying cause, and the call stack at
// creation.
type EngineError struct {
	Kind      Kind
	Message   string
	Detail    string
	Operation string
	Component string
	Cause     error
	Stack     []uintptr
}

// New creates an EngineError of the given kind.
func New(kind Kind, message string) *EngineError {
	return &EngineError{
		Kind:    kind,
		Message: message,
		Stack:   captureStack(),
	}
}

// Newf creates an EngineError with a formatted message.
func Newf(kind Kind, format string, args ...any) *EngineError {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches engine context to an existing error. If err is already an
// *EngineError its operation and component are filled in only if empty.
func Wrap(err error, kind Kind, operation, component string) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		if ee.Operation == "" {
			ee.Operation = operation
		}
		if ee.Component == "" {
			ee.Component = component
		}
		return ee
	}
	return &EngineError{
		Kind:      kind,
		Message:   err.Error(),
		Operation: operation,
		Component: component,
		Cause:     err,
		Stack:     captureStack(),
	}
}

// Is reports whether err is an *EngineError of the given kind.
func Is(err error, kind Kind) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.Kind == kind
}

func captureStack() []uintptr {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}

// Error implements the standard error interface. The format is
// [KIND] Message: Detail (operation: Op, component: Comp) caused by: cause
func (e *EngineError) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("[%s] %s", e.Kind, e.Message))
	if e.Detail != "" {
		b.WriteString(fmt.Sprintf(": %s", e.Detail))
	}
	if e.Operation != "" {
		b.WriteString(fmt.Sprintf(" (operation: %s", e.Operation))
		if e.Component != "" {
			b.WriteString(fmt.Sprintf(", component: %s", e.Component))
		}
		b.WriteString(")")
	}
	if e.Cause != nil {
		b.WriteString(fmt.Sprintf(" caused by: %v", e.Cause))
	}
	return b.String()
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// FormatStack renders the captured call stack for debugging.
func (e *EngineError) FormatStack() string {
	if len(e.Stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.Stack)
	b.WriteString("Stack trace:\n")
	for {
		f, more := frames.Next()
		b.WriteString(fmt.Sprintf("  %s\n    %s:%d\n", f.Function, f.File, f.Line))
		if !more {
			break
		}
	}
	return b.String()
}
