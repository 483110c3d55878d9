//go:build windows
// +build windows

package ps

import (
	"path/filepath"
	"unsafe"

	"github.com/saferwall/pe"
	"golang.org/x/sys/windows"

	"github.com/ryoha000/proctail/pkg/syswait"
	"github.com/ryoha000/proctail/pkg/zsyscall"
)

// queryTimeoutMillis bounds every OpenProcess/QueryFullProcessImageName
// call behind syswait.QueryWithTimeout, so a hung or corrupted target
// process can never stall a ListDetailed caller indefinitely.
const queryTimeoutMillis = 500

// windowsResolver is the Windows ImageResolver, grounded on
// fibratus's pkg/ps/snapshotter_windows.go:Find — the same
// OpenProcess / QueryFullProcessImageName fallback chain, collapsed to
// the fields ProcTail's Detail needs (no PEB/handle-set walk, since
// ProcTail doesn't snapshot threads, modules or handles).
type windowsResolver struct{}

// NewWindowsResolver constructs the production ImageResolver.
func NewWindowsResolver() ImageResolver { return windowsResolver{} }

func (windowsResolver) Resolve(pid uint32) Detail {
	d := Detail{}

	process, err := windows.OpenProcess(windows.PROCESS_QUERY_INFORMATION|windows.PROCESS_VM_READ, false, pid)
	if err != nil {
		// Restricted access is common for elevated/system processes;
		// fibratus retries with the limited-information right before
		// giving up, and so do we.
		process, err = windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
		if err != nil {
			if isStillRunning(pid) {
				d.ProcessName = AccessDeniedMarker
				d.ImagePath = AccessDeniedMarker
			} else {
				d.ProcessName = TerminatedMarker
				d.ImagePath = TerminatedMarker
			}
			return d
		}
	}
	defer windows.CloseHandle(process)

	image, qerr := syswait.QueryWithTimeout(func() string {
		return queryImageName(process)
	}, queryTimeoutMillis)
	if qerr != nil || image == "" {
		d.ProcessName = AccessDeniedMarker
		d.ImagePath = AccessDeniedMarker
		return d
	}
	d.ImagePath = image
	d.ProcessName = filepath.Base(image)

	if owner, ok := queryOwner(process); ok {
		d.Owner = owner
	}

	if info, err := pe.New(image, &pe.Options{}); err == nil {
		if err := info.Parse(); err == nil {
			d.ImageSize = info.NtHeader.FileHeader.SizeOfOptionalHeader
			d.Checksum = info.NtHeader.OptionalHeader.CheckSum
		}
		_ = info.Close()
	}

	return d
}

func queryImageName(process windows.Handle) string {
	var size uint32 = windows.MAX_PATH
	buf := make([]uint16, size)
	if err := windows.QueryFullProcessImageName(process, 0, &buf[0], &size); err != nil {
		return ""
	}
	return windows.UTF16ToString(buf)
}

func queryOwner(process windows.Handle) (string, bool) {
	var token windows.Token
	if err := windows.OpenProcessToken(process, windows.TOKEN_QUERY, &token); err != nil {
		return "", false
	}
	defer token.Close()

	user, err := token.GetTokenUser()
	if err != nil || user.User.Sid == nil {
		return "", false
	}

	raw := make([]byte, user.User.Sid.Len())
	copy(raw, unsafe.Slice((*byte)(unsafe.Pointer(user.User.Sid)), len(raw)))
	account, domain := zsyscall.LookupAccount(raw)
	if account == "" {
		return "", false
	}
	if domain != "" {
		return domain + `\` + account, true
	}
	return account, true
}

func isStillRunning(pid uint32) bool {
	process, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return false
	}
	defer windows.CloseHandle(process)
	return zsyscall.IsProcessRunning(process)
}
