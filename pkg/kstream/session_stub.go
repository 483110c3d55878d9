//go:build !windows
// +build !windows

package kstream

import (
	"context"

	"github.com/ryoha000/proctail/pkg/kevent"
)

// stubSession lets the rest of the daemon build and run its tests on a
// non-Windows host. ETW is a Windows-only facility, so off Windows the
// session simply never produces events.
type stubSession struct {
	events chan *kevent.Raw
	errs   chan error
}

// NewSession constructs the portable no-op session used in tests and on
// non-Windows build hosts.
func NewSession(cfg Config) Session {
	return &stubSession{
		events: make(chan *kevent.Raw),
		errs:   make(chan error),
	}
}

func (s *stubSession) Open(ctx context.Context) error { return nil }
func (s *stubSession) Events() <-chan *kevent.Raw     { return s.events }
func (s *stubSession) Errors() <-chan error           { return s.errs }
func (s *stubSession) Close() error {
	close(s.events)
	return nil
}
