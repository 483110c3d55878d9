//go:build !windows
// +build !windows

package syswait

import "fmt"

// QueryWithTimeout runs query inline on non-Windows build hosts, where
// there is no kernel trace session to protect against in the first
// place. This keeps the module buildable (e.g. for `go vet`/editor
// tooling) off Windows while the real, thread-based protection in
// timeout_windows.go is what actually ships.
func QueryWithTimeout(query func() string, _ uint32) (string, error) {
	if query == nil {
		return "", fmt.Errorf("nil query")
	}
	return query(), nil
}

// CloseTimeout is a no-op off Windows.
func CloseTimeout() error { return nil }
