package ipc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandlers struct {
	targets []WatchTarget
	events  map[string][]byte
	added   []Request
	cleared []string
	shutdownCalled bool
}

func (f *fakeHandlers) AddWatchTarget(pid uint32, tag string) error {
	f.added = append(f.added, Request{ProcessId: pid, TagName: tag})
	f.targets = append(f.targets, WatchTarget{ProcessId: pid, TagName: tag})
	return nil
}

func (f *fakeHandlers) RemoveWatchTarget(tag string) int { return 1 }

func (f *fakeHandlers) GetWatchTargets() []WatchTarget { return f.targets }

func (f *fakeHandlers) GetRecordedEvents(tag string) (*Response, error) {
	return &Response{}, nil
}

func (f *fakeHandlers) ClearEvents(tag string) { f.cleared = append(f.cleared, tag) }

func (f *fakeHandlers) GetStatus() Status {
	return Status{Running: true, TotalTags: len(f.targets)}
}

func (f *fakeHandlers) Shutdown() { f.shutdownCalled = true }

func dialAndRoundtrip(t *testing.T, addr net.Addr, req Request) Response {
	t.Helper()
	conn, err := net.Dial(addr.Network(), addr.String())
	require.NoError(t, err)
	defer conn.Close()

	body, err := json.Marshal(req)
	require.NoError(t, err)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	_, err = conn.Write(append(lenBuf[:], body...))
	require.NoError(t, err)

	var respLen [4]byte
	_, err = conn.Read(respLen[:])
	require.NoError(t, err)
	n := binary.LittleEndian.Uint32(respLen[:])
	buf := make([]byte, n)
	total := 0
	for total < len(buf) {
		k, err := conn.Read(buf[total:])
		require.NoError(t, err)
		total += k
	}

	var resp Response
	require.NoError(t, json.Unmarshal(buf, &resp))
	return resp
}

func startTestServer(t *testing.T, h *fakeHandlers) (*Server, func()) {
	t.Helper()
	listener, err := ListenPipe("ProcTailTest", 65536)
	require.NoError(t, err)

	srv := New(listener, h, Config{MaxConcurrentConnections: 2, ResponseTimeout: 2 * time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)

	return srv, func() {
		cancel()
		srv.Close()
	}
}

func TestAddWatchTargetRoundtrip(t *testing.T) {
	h := &fakeHandlers{}
	srv, stop := startTestServer(t, h)
	defer stop()

	resp := dialAndRoundtrip(t, srv.Addr(), Request{RequestType: AddWatchTarget, ProcessId: 42, TagName: "A"})
	assert.True(t, resp.Success)
	require.Len(t, h.added, 1)
	assert.Equal(t, uint32(42), h.added[0].ProcessId)
	assert.Equal(t, "A", h.added[0].TagName)
}

func TestUnknownRequestTypeReturnsFailure(t *testing.T) {
	h := &fakeHandlers{}
	srv, stop := startTestServer(t, h)
	defer stop()

	resp := dialAndRoundtrip(t, srv.Addr(), Request{RequestType: "Bogus"})
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestMissingRequiredFieldFailsValidation(t *testing.T) {
	h := &fakeHandlers{}
	srv, stop := startTestServer(t, h)
	defer stop()

	resp := dialAndRoundtrip(t, srv.Addr(), Request{RequestType: AddWatchTarget, TagName: "A"})
	assert.False(t, resp.Success)
}

func TestGetStatusReflectsHandlerState(t *testing.T) {
	h := &fakeHandlers{targets: []WatchTarget{{ProcessId: 1, TagName: "a"}}}
	srv, stop := startTestServer(t, h)
	defer stop()

	resp := dialAndRoundtrip(t, srv.Addr(), Request{RequestType: GetStatus})
	require.True(t, resp.Success)
	require.NotNil(t, resp.Status)
	assert.True(t, resp.Status.Running)
	assert.Equal(t, 1, resp.Status.TotalTags)
}

func TestShutdownRespondsBeforeStopping(t *testing.T) {
	h := &fakeHandlers{}
	srv, stop := startTestServer(t, h)
	defer stop()

	resp := dialAndRoundtrip(t, srv.Addr(), Request{RequestType: Shutdown})
	assert.True(t, resp.Success)

	require.Eventually(t, func() bool { return h.shutdownCalled }, time.Second, 10*time.Millisecond)
}

func TestConnectionCapEvictsOldest(t *testing.T) {
	h := &fakeHandlers{}
	srv, stop := startTestServer(t, h)
	defer stop()

	c1, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	require.NoError(t, err)
	defer c1.Close()
	c2, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	require.NoError(t, err)
	defer c2.Close()

	require.Eventually(t, func() bool { return srv.ActiveConnections() == 2 }, time.Second, 10*time.Millisecond)

	c3, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	require.NoError(t, err)
	defer c3.Close()

	require.Eventually(t, func() bool { return srv.ActiveConnections() == 2 }, time.Second, 10*time.Millisecond)

	n, err := c1.Read(make([]byte, 1))
	assert.True(t, err != nil || n == 0)
}
