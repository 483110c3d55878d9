// Package ps implements the Watch Target Registry: the authoritative
// {process id -> tag} attribution map, and the detailed, best-effort
// process introspection used to enrich it for IPC clients.
//
// The locking discipline mirrors github.com/rabbitstack/fibratus's own
// process snapshotter (pkg/ps/snapshotter_windows.go): a single
// sync.RWMutex guards both the forward map and the map it derives, so a
// reader can never observe one without the other.
package ps

import "time"

// Target is a single watch-target membership record: one tagged process.
// Targets are created once by Add or AddChild and never mutated after
// that; they are destroyed by removal, never edited in place.
type Target struct {
	ProcessID    uint32
	TagName      string
	RegisteredAt time.Time
	IsChild      bool
	ParentPID    uint32 // zero when IsChild is false
}

// Detail augments a Target with best-effort process introspection for
// GetWatchTargets responses. Any field may be empty/zero when it could
// not be resolved; ProcessName and ImagePath degrade to "[Terminated]" or
// "[Access Denied]" rather than failing the whole response (spec.md §4.2).
type Detail struct {
	Target
	ProcessName string
	ImagePath   string
	Owner       string // best-effort account name, "" if unresolved
	ImageSize   uint32 // best-effort PE metadata, 0 if unresolved
	Checksum    uint32
}

const (
	// TerminatedMarker is returned in Detail.ImagePath/ProcessName when
	// the process no longer exists.
	TerminatedMarker = "[Terminated]"
	// AccessDeniedMarker is returned when the process exists but this
	// daemon's token cannot query it.
	AccessDeniedMarker = "[Access Denied]"
)
