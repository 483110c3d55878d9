package zsyscall

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// LookupAccount resolves a raw SID (as copied out of a TOKEN_USER) to its
// account and domain name, returning ("", "") if the lookup fails. ProcTail
// only ever looks up the owning user of a watched process's token, so
// unlike fibratus's zsyscall.LookupAccount this never has to account for
// the WBEM SID encoding (a TOKEN_USER struct prefixed onto the SID).
func LookupAccount(rawSid []byte) (account, domain string) {
	sid := (*windows.SID)(unsafe.Pointer(&rawSid[0]))
	account, domain, _, err := sid.LookupAccount("")
	if err != nil {
		return "", ""
	}
	return account, domain
}
