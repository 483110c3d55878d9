//go:build windows
// +build windows

package ipc

import (
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// securityDescriptor grants the current user and the local Administrators
// group full control over the pipe and nobody else, per SPEC_FULL.md's
// access-control requirement. SDDL groups: OW = owner, BA = built-in
// administrators; both get generic-all (GA).
const securityDescriptor = "D:P(A;;GA;;;OW)(A;;GA;;;BA)"

// DialPipe connects to an already-running daemon's named pipe.
func DialPipe(name string, timeout time.Duration) (net.Conn, error) {
	return winio.DialPipe(`\\.\pipe\`+name, &timeout)
}

// ListenPipe opens the named pipe endpoint clients connect to. The
// first-instance flag prevents a second ProcTail daemon from piggy-backing
// on an already-running instance's pipe name.
func ListenPipe(name string, bufferSize int) (net.Listener, error) {
	pipePath := `\\.\pipe\` + name
	cfg := &winio.PipeConfig{
		SecurityDescriptor: securityDescriptor,
		MessageMode:        false,
		InputBufferSize:    int32(bufferSize),
		OutputBufferSize:   int32(bufferSize),
	}
	l, err := winio.ListenPipe(pipePath, cfg)
	if err != nil {
		return nil, fmt.Errorf("listening on pipe %s: %w", pipePath, err)
	}
	return l, nil
}
