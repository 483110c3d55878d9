//go:build windows
// +build windows

package etw

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procEnableTraceEx2 = modadvapi32.NewProc("EnableTraceEx2")

const (
	controlCodeEnableProvider = 1
	traceLevelVerbose         = 5
)

// EnableProvider turns on the named ETW provider on the given realtime
// session handle, at verbose level with no keyword filtering. ProcTail only
// ever enables the two kernel providers SPEC_FULL.md names (Process and
// File), so no keyword/level tuning is exposed here.
func EnableProvider(sessionHandle uint64, providerGUID windows.GUID) error {
	r, _, _ := procEnableTraceEx2.Call(
		uintptr(sessionHandle),
		uintptr(unsafe.Pointer(&providerGUID)),
		controlCodeEnableProvider,
		traceLevelVerbose,
		0,
		0,
		0,
		0,
	)
	if r != 0 {
		return fmt.Errorf("EnableTraceEx2 failed for provider %s: %w", providerGUID, syscall.Errno(r))
	}
	return nil
}
