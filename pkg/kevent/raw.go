// Package kevent defines the wire-free data model that flows through the
// event pipeline: the Raw event produced by the trace session, and the
// Normalized event produced by the processor and held by the store.
package kevent

import "time"

// Raw is a single kernel event as delivered by the trace session, before
// attribution or filtering. It is owned exclusively by the raw event
// channel between the trace consumer and the processor; nothing retains a
// reference to it once the processor has consumed it.
type Raw struct {
	// Timestamp is the wall-clock time the kernel stamped on the event,
	// truncated to the 100ns resolution ETW itself uses.
	Timestamp time.Time
	// Provider is the ETW provider identifier (e.g. "Microsoft-Windows-Kernel-File").
	Provider string
	// Name is the canonical "Category/Action" event name, already
	// normalized from the kernel's concatenated token form by the trace
	// session manager (see names.go).
	Name string
	// PID is the process id that produced the event.
	PID uint32
	// TID is the thread id that produced the event.
	TID uint32
	// ActivityID and RelatedActivityID correlate causally-linked events
	// the same way ETW activity ids do.
	ActivityID        string
	RelatedActivityID string
	// Payload carries the event's scalar fields (file paths, pids, exit
	// codes, ...) keyed by the name the provider assigns them.
	Payload map[string]any
}

// Category returns the part of Name before the slash, or "" if Name has
// not been canonicalized yet.
func (r *Raw) Category() string {
	for i, c := range r.Name {
		if c == '/' {
			return r.Name[:i]
		}
	}
	return ""
}

// PayloadString returns the first present string-typed value among keys,
// trying them in order. It returns "", false when none of the keys are
// present or the stored value isn't representable as a string.
func (r *Raw) PayloadString(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r.Payload[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			return s, true
		}
	}
	return "", false
}

// PayloadInt returns the first present integer-typed value among keys,
// trying them in order. Accepts both string-encoded and numeric payload
// values since kernel providers surface both depending on field type.
func (r *Raw) PayloadInt(keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := r.Payload[k]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case int64:
			return n, true
		case int:
			return int64(n), true
		case uint32:
			return int64(n), true
		case uint64:
			return int64(n), true
		case float64:
			return int64(n), true
		case string:
			if i, ok := parseInt(n); ok {
				return i, true
			}
		}
	}
	return 0, false
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	if i >= len(s) {
		return 0, false
	}
	var n int64
	for ; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int64(c-'0')
	}
	if neg {
		n = -n
	}
	return n, true
}
