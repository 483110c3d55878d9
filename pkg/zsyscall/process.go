//go:build windows
// +build windows

package zsyscall

import "golang.org/x/sys/windows"

// InvalidProcessPid is the sentinel parent pid fibratus assigns a process
// snapshot whose real parent could not be determined.
const InvalidProcessPid uint32 = 0xFFFFFFFF

const stillActive = 259

// IsProcessRunning reports whether process (opened with at least
// PROCESS_QUERY_LIMITED_INFORMATION) is still alive, by checking its exit
// code against STILL_ACTIVE the same way fibratus's own gcDeadProcesses
// housekeeping does.
func IsProcessRunning(process windows.Handle) bool {
	var code uint32
	if err := windows.GetExitCodeProcess(process, &code); err != nil {
		return false
	}
	return code == stillActive
}
