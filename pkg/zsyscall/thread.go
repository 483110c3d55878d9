//go:build windows
// +build windows

package zsyscall

import (
	"golang.org/x/sys/windows"
)

var (
	modkernel32       = windows.NewLazySystemDLL("kernel32.dll")
	procCreateThread  = modkernel32.NewProc("CreateThread")
	procTermThread    = modkernel32.NewProc("TerminateThread")
)

// CreateThread wraps the Win32 CreateThread API. It is used by
// pkg/syswait to run a bounded query on a real OS thread that can be
// killed outright if it hangs, which a goroutine cannot be.
func CreateThread(cb uintptr) (windows.Handle, error) {
	h, _, err := procCreateThread.Call(0, 0, cb, 0, 0, 0)
	if h == 0 {
		return 0, err
	}
	return windows.Handle(h), nil
}

// TerminateThread wraps the Win32 TerminateThread API.
func TerminateThread(h windows.Handle, exitCode uint32) error {
	ok, _, err := procTermThread.Call(uintptr(h), uintptr(exitCode))
	if ok == 0 {
		return err
	}
	return nil
}
