//go:build windows
// +build windows

// Package syswait provides a deadlock-aware wrapper for syscalls that
// might hang on a corrupted or suspended target process (e.g.
// NtQueryObject-style introspection of a process that is mid-termination).
//
// The technique is adapted from fibratus's
// pkg/handle/timeout.go:GetHandleWithTimeout — a dedicated worker thread
// is started once and reused across calls; it is signaled via a Win32
// event, and killed (and recreated on the next call) if it doesn't answer
// within the deadline. Here it is generalized from "resolve a handle's
// object name" to "run an arbitrary no-argument query", since the
// Watch Target Registry's resolver needs the same protection around
// QueryFullProcessImageName rather than NtQueryObject.
package syswait

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ryoha000/proctail/pkg/zsyscall"
	"golang.org/x/sys/windows"
)

var (
	mu     sync.Mutex
	thread windows.Handle
	ini    windows.Handle
	done   windows.Handle

	current atomic.Value // func() string
	result  atomic.Value // string
)

func init() {
	ini, _ = windows.CreateEvent(nil, 0, 0, nil)
	done, _ = windows.CreateEvent(nil, 0, 0, nil)
}

// QueryWithTimeout runs query on a dedicated worker thread and waits up to
// timeoutMillis for it to finish. If the deadline is exceeded, the worker
// thread is terminated (and will be recreated on the next call) and an
// error is returned. query must not block the calling goroutine; it runs
// on a true OS thread created for this purpose, not a scheduled goroutine,
// so even a call that hangs in a Windows API does not leak a goroutine.
func QueryWithTimeout(query func() string, timeoutMillis uint32) (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if thread == 0 {
		if err := windows.ResetEvent(ini); err != nil {
			return "", fmt.Errorf("couldn't reset init event: %w", err)
		}
		if err := windows.ResetEvent(done); err != nil {
			return "", fmt.Errorf("couldn't reset done event: %w", err)
		}
		t, err := zsyscall.CreateThread(windows.NewCallback(queryLoop))
		if err != nil || t == 0 {
			return "", fmt.Errorf("cannot create query thread: %w", err)
		}
		thread = t
	}

	current.Store(query)
	if err := windows.SetEvent(ini); err != nil {
		return "", err
	}
	s, _ := windows.WaitForSingleObject(done, timeoutMillis)
	if s == windows.WAIT_OBJECT_0 {
		if v, ok := result.Load().(string); ok {
			return v, nil
		}
		return "", nil
	}
	// WAIT_TIMEOUT (and anything else unexpected): assume the worker is
	// stuck in the underlying syscall and kill it outright.
	if err := zsyscall.TerminateThread(thread, 0); err != nil {
		return "", fmt.Errorf("unable to terminate timeout thread: %w", err)
	}
	_, _ = windows.WaitForSingleObject(thread, timeoutMillis)
	windows.CloseHandle(thread)
	thread = 0
	return "", fmt.Errorf("query timed out after %dms", timeoutMillis)
}

// CloseTimeout releases the event and worker-thread handles. Intended to
// be called once, on daemon shutdown.
func CloseTimeout() error {
	mu.Lock()
	defer mu.Unlock()
	if thread != 0 {
		windows.CloseHandle(thread)
		thread = 0
	}
	_ = windows.CloseHandle(ini)
	return windows.CloseHandle(done)
}

func queryLoop(_ uintptr) uintptr {
	for {
		s, err := windows.WaitForSingleObject(ini, windows.INFINITE)
		if err != nil || s != windows.WAIT_OBJECT_0 {
			return 0
		}
		fn, _ := current.Load().(func() string)
		var v string
		if fn != nil {
			v = fn()
		}
		result.Store(v)
		if err := windows.SetEvent(done); err != nil {
			return 0
		}
	}
}
