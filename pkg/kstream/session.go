// Package kstream manages the ETW kernel trace session that feeds raw
// process/file events into the rest of ProcTail. It mirrors the shape of
// fibratus's own pkg/kstream consumer, collapsed to the handful of kernel
// providers SPEC_FULL.md names and generalized so trace-session creation
// is retried once after a stale-session cleanup instead of failing outright.
package kstream

import (
	"context"
	"expvar"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"github.com/ryoha000/proctail/pkg/kevent"
)

var (
	eventsEnqueued = expvar.NewInt("kstream.events.enqueued")
	eventsDropped  = expvar.NewInt("kstream.events.dropped")
	buffersRead    = expvar.NewInt("kstream.buffers.read")
)

// sessionName is the NT kernel logger session name ProcTail requests. A
// session by this name left running from a previous crashed instance is
// the one failure mode the retry policy exists to recover from.
const sessionName = "ProcTail-Trace"

// Session owns the lifecycle of the kernel trace consumer: start, drain
// raw events onto a bounded channel, and stop.
type Session interface {
	// Open starts the trace session and the background goroutine that
	// pumps events onto Events(). It retries once, after attempting to
	// close any stale session left over by a previous crash, before
	// giving up.
	Open(ctx context.Context) error
	// Events returns the channel raw kernel events are published to.
	// The channel is closed when Close is called.
	Events() <-chan *kevent.Raw
	// Errors returns a channel carrying non-fatal processing errors
	// (malformed buffers, provider enable failures for a disabled
	// provider, etc).
	Errors() <-chan error
	// Close stops the trace session and releases its handles.
	Close() error
}

// Config is the subset of the daemon configuration the session manager
// needs: which providers to open and which canonical event names to let
// through before they ever reach the processor.
type Config struct {
	Providers    []string
	EventNames   []string
	BufferSize   int
	ChannelDepth int
}

// DefaultChannelDepth bounds the raw event channel the same order of
// magnitude fibratus uses for its own kevts channel.
const DefaultChannelDepth = 500

// retryBackoff is a single bounded retry: open, and if it fails, give the
// OS a moment to tear down the stale session before trying exactly once
// more. Unlike fibratus (which never retries session creation), ProcTail
// runs unattended as a service and a crash-then-restart is the common case
// this guards against.
func retryBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 2 * time.Second
	return backoff.WithMaxRetries(b, 1)
}

func logOpenFailure(name string, err error, next time.Duration) {
	log.WithError(err).Warnf("trace session %q failed to open, retrying in %s", name, next)
}
