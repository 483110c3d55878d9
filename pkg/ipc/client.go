package ipc

import (
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a minimal synchronous IPC client used by the CLI's diagnostic
// commands. It opens one connection per call rather than pooling, since
// the CLI only ever issues a handful of requests per invocation.
type Client struct {
	dial    func() (net.Conn, error)
	timeout time.Duration
}

// NewClient builds a Client that dials the given pipe/loopback address
// using dial, the platform-specific connector (pipe_windows.go /
// pipe_stub.go supply one each via DialPipe).
func NewClient(dial func() (net.Conn, error), timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{dial: dial, timeout: timeout}
}

func (c *Client) roundtrip(req Request) (*Response, error) {
	conn, err := c.dial()
	if err != nil {
		return nil, fmt.Errorf("connecting to proctail: %w", err)
	}
	defer conn.Close()

	_ = conn.SetDeadline(timeNow().Add(c.timeout))

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	if err := writeFrame(conn, body); err != nil {
		return nil, err
	}

	raw, err := readFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status issues a GetStatus request.
func (c *Client) Status() (*Response, error) { return c.roundtrip(Request{RequestType: GetStatus}) }

// WatchTargets issues a GetWatchTargets request.
func (c *Client) WatchTargets() (*Response, error) {
	return c.roundtrip(Request{RequestType: GetWatchTargets})
}

// AddWatchTarget issues an AddWatchTarget request.
func (c *Client) AddWatchTarget(pid uint32, tag string) (*Response, error) {
	return c.roundtrip(Request{RequestType: AddWatchTarget, ProcessId: pid, TagName: tag})
}

// RecordedEvents issues a GetRecordedEvents request.
func (c *Client) RecordedEvents(tag string) (*Response, error) {
	return c.roundtrip(Request{RequestType: GetRecordedEvents, TagName: tag})
}

// Shutdown issues a Shutdown request.
func (c *Client) Shutdown() (*Response, error) { return c.roundtrip(Request{RequestType: Shutdown}) }
