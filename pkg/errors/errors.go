// Package errors defines the error taxonomy shared across the ProcTail
// event pipeline. Every kind maps to exactly one disposition described in
// the design: fatal to startup, recovered locally as a counter, or
// returned to an IPC client as a structured response.
package errors

import "github.com/pkg/errors"

// Kind classifies an error into one of the dispositions the pipeline
// knows how to handle. It never crosses an IPC boundary by itself; it is
// only used internally to decide how to react.
type Kind int

const (
	// KindUnknown is the zero value; treated as a generic runtime error.
	KindUnknown Kind = iota
	// KindPermissionDenied is raised when the caller does not hold the
	// local elevated-administrator capability required to open a trace
	// session. Fatal to startup.
	KindPermissionDenied
	// KindTraceSessionUnavailable covers session-in-use, too-many-sessions
	// and resource exhaustion failures from the kernel logger subsystem.
	// Fatal after one retry.
	KindTraceSessionUnavailable
	// KindEventDropped marks a raw event that could not be carried
	// forward (full queue, malformed payload, attribution miss). Recovered
	// locally: counted and logged at debug, never surfaced to clients.
	KindEventDropped
	// KindChildAttributionFailed marks a Process/Start event whose child
	// pid could not be parsed. The ProcessStart variant is not emitted.
	KindChildAttributionFailed
	// KindIPCFraming covers oversize messages, invalid length prefixes and
	// decode failures on the IPC connection. The connection is closed; the
	// server keeps running.
	KindIPCFraming
	// KindIPCHandler covers unknown RequestType values and missing JSON
	// fields. A Success=false response is returned on the same connection.
	KindIPCHandler
	// KindStoreOverflow is not actually an error disposition — oldest
	// events are evicted silently — but it shares the counter/log shape of
	// the other kinds, so it is represented the same way.
	KindStoreOverflow
)

func (k Kind) String() string {
	switch k {
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindTraceSessionUnavailable:
		return "TraceSessionUnavailable"
	case KindEventDropped:
		return "EventDropped"
	case KindChildAttributionFailed:
		return "ChildAttributionFailed"
	case KindIPCFraming:
		return "IpcFraming"
	case KindIPCHandler:
		return "IpcHandlerError"
	case KindStoreOverflow:
		return "StoreOverflow"
	default:
		return "Unknown"
	}
}

// kindError wraps an underlying cause with the Kind that determines how
// the pipeline should react to it.
type kindError struct {
	kind  Kind
	cause error
}

func (e *kindError) Error() string {
	if e.cause == nil {
		return e.kind.String()
	}
	return e.kind.String() + ": " + e.cause.Error()
}

func (e *kindError) Cause() error { return e.cause }
func (e *kindError) Unwrap() error { return e.cause }

// New wraps cause with kind. cause may be nil, in which case the error
// text is just the kind's name.
func New(kind Kind, cause error) error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &kindError{kind: kind, cause: cause}
}

// Newf builds a kind error from a formatted message.
func Newf(kind Kind, format string, args ...interface{}) error {
	return New(kind, errors.Errorf(format, args...))
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if ke, ok := err.(*kindError); ok {
			if ke.kind == kind {
				return true
			}
			err = ke.cause
			continue
		}
		cause, ok := err.(interface{ Cause() error })
		if !ok {
			return false
		}
		err = cause.Cause()
	}
	return false
}

// IsPermissionDenied reports whether err represents a PermissionDenied failure.
func IsPermissionDenied(err error) bool { return Is(err, KindPermissionDenied) }

// IsTraceSessionUnavailable reports whether err represents a failure to
// allocate or open the kernel trace session.
func IsTraceSessionUnavailable(err error) bool { return Is(err, KindTraceSessionUnavailable) }

// ErrCancelUpstreamEvent is a sentinel for a raw event that must not
// produce a normalized event (dropped by a gate) but should not be treated
// as a processing failure. The processor itself signals such drops by
// returning (nil, nil) rather than this error.
var ErrCancelUpstreamEvent = errors.New("event cancelled upstream")

// IsCancelUpstreamEvent reports whether err is, or wraps,
// ErrCancelUpstreamEvent.
func IsCancelUpstreamEvent(err error) bool {
	return errors.Cause(err) == ErrCancelUpstreamEvent
}
