//go:build !windows
// +build !windows

package ipc

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/phayes/freeport"
)

// ListenPipe stands in for the named pipe on non-Windows build hosts: a
// loopback TCP listener on a free, OS-assigned port. The name parameter is
// accepted for interface parity but otherwise unused, since a TCP socket
// has no pipe namespace to collide within.
func ListenPipe(name string, bufferSize int) (net.Listener, error) {
	port, err := freeport.GetFreePort()
	if err != nil {
		return nil, fmt.Errorf("allocating loopback port for pipe %q: %w", name, err)
	}
	return net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
}

// DialPipe has no portable equivalent off Windows: the stub listener binds
// an ephemeral loopback port that isn't discoverable by name, unlike a
// real named pipe. Tests that need a client connection dial the listener's
// net.Addr directly instead of going through this function.
func DialPipe(name string, timeout time.Duration) (net.Conn, error) {
	return nil, errors.New("DialPipe is only supported on Windows")
}
