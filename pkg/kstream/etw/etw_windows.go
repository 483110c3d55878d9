//go:build windows
// +build windows

// Package etw wraps the handful of Win32 Event Tracing functions ProcTail
// needs to start and drain a kernel trace session: OpenTrace, ProcessTrace
// and CloseTrace, plus the EVENT_TRACE_LOGFILE / EVENT_RECORD structures
// the callbacks receive. It mirrors the narrow slice of the ETW consumer
// API that fibratus's zsyscall/etw package exposes to pkg/kstream.
package etw

import (
	"fmt"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modadvapi32 = windows.NewLazySystemDLL("advapi32.dll")

	procOpenTraceW   = modadvapi32.NewProc("OpenTraceW")
	procProcessTrace = modadvapi32.NewProc("ProcessTrace")
	procCloseTrace   = modadvapi32.NewProc("CloseTrace")
)

const (
	// ProcessTraceModeRealtime consumes events from a live session rather
	// than a log file.
	ProcessTraceModeRealtime = 0x00000100
	// ProcessTraceModeEventRecord delivers events through the EVENT_RECORD
	// callback shape instead of the legacy EVENT_TRACE one.
	ProcessTraceModeEventRecord = 0x10000000

	invalidProcessTraceHandle = 0xFFFFFFFFFFFFFFFF
)

// TraceHandle identifies an open trace consumer handle.
type TraceHandle uint64

// IsValid reports whether the handle was successfully opened.
func (h TraceHandle) IsValid() bool { return uint64(h) != invalidProcessTraceHandle }

// EventTraceLogfile mirrors EVENT_TRACE_LOGFILE. Only the fields ProcTail's
// session manager touches are named; LogFileMode and EventCallback are the
// two unions the Win32 header overlays with a realtime mode flag and the
// EVENT_RECORD callback pointer respectively, poked via unsafe.Pointer the
// same way fibratus's kstreamc_windows.go does.
type EventTraceLogfile struct {
	LoggerName     *uint16
	LogFileName    *uint16
	LogFileMode    [2]uint32
	BufferCallback uintptr
	BufferSize     uint32
	BuffersRead    uint32
	UserContext    uintptr
	CurrentTime    int64
	EventsLost     uint32
	EventCallback  [8]byte
	IsKernelTrace  uint32
	LoggerThreadID uintptr
}

// EventHeader mirrors EVENT_HEADER.
type EventHeader struct {
	Size            uint16
	HeaderType      uint16
	Flags           uint16
	EventProperty   uint16
	ThreadID        uint32
	ProcessID       uint32
	TimeStamp       int64
	ProviderID      windows.GUID
	EventDescriptor eventDescriptor
	KernelTime      uint32
	UserTime        uint32
	ActivityID      windows.GUID
}

type eventDescriptor struct {
	ID      uint16
	Version uint8
	Channel uint8
	Level   uint8
	Opcode  uint8
	Task    uint16
	Keyword uint64
}

// EventRecord mirrors EVENT_RECORD, the payload handed to the
// EVENT_RECORD-mode callback.
type EventRecord struct {
	Header           EventHeader
	BufferContext    [4]byte
	ExtendedDataCount uint16
	UserDataLength   uint16
	ExtendedData     uintptr
	UserData         uintptr
	UserContext      uintptr
}

// OpenTrace opens a realtime trace consumer session described by trace,
// returning an invalid handle on failure (query with windows.GetLastError
// for the underlying reason, same as fibratus does at the call site).
func OpenTrace(trace EventTraceLogfile) TraceHandle {
	r, _, _ := procOpenTraceW.Call(uintptr(unsafe.Pointer(&trace)))
	return TraceHandle(r)
}

// ProcessTrace blocks the calling thread, delivering buffered events to the
// callback registered in EventTraceLogfile.EventCallback until the trace is
// closed or an error occurs.
func ProcessTrace(handle TraceHandle) error {
	handles := [1]TraceHandle{handle}
	r, _, _ := procProcessTrace.Call(
		uintptr(unsafe.Pointer(&handles[0])),
		1,
		0,
		0,
	)
	if r != 0 && syscall.Errno(r) != windows.ERROR_SUCCESS {
		return fmt.Errorf("ProcessTrace failed: %w", syscall.Errno(r))
	}
	return nil
}

// CloseTrace releases a trace handle previously obtained from OpenTrace,
// causing any blocked ProcessTrace call on it to return.
func CloseTrace(handle TraceHandle) error {
	r, _, _ := procCloseTrace.Call(uintptr(handle))
	if r != 0 && syscall.Errno(r) != windows.ERROR_SUCCESS {
		return fmt.Errorf("CloseTrace failed: %w", syscall.Errno(r))
	}
	return nil
}
