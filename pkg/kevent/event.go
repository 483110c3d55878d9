package kevent

import "time"

// Variant identifies which of the normalized event shapes an Event carries.
type Variant uint8

const (
	// VariantGeneric is any event that does not fall into one of the more
	// specific variants below.
	VariantGeneric Variant = iota
	// VariantFile is a FileIO/* event; carries a resolved file path.
	VariantFile
	// VariantProcessStart is a Process/Start event; carries the spawned
	// child's pid and image name.
	VariantProcessStart
	// VariantProcessEnd is a Process/End event; carries the exit code.
	VariantProcessEnd
)

func (v Variant) String() string {
	switch v {
	case VariantFile:
		return "File"
	case VariantProcessStart:
		return "ProcessStart"
	case VariantProcessEnd:
		return "ProcessEnd"
	default:
		return "Generic"
	}
}

// closeMarkerPrefix is the synthetic file path attached to a FileIO/Close
// event when the kernel didn't surface a path for it (spec.md §4.3).
const closeMarkerPrefix = "<Close:PID"

// CloseMarker builds the synthetic path marker for a path-less Close event.
func CloseMarker(pid uint32) string {
	return closeMarkerPrefix + itoa(pid) + ">"
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// Event is the tagged union over File / ProcessStart / ProcessEnd /
// Generic described in spec.md §3. It is immutable once constructed and,
// once stored, is owned exclusively by the Event Store bucket holding it.
type Event struct {
	Timestamp         time.Time      `json:"Timestamp"`
	TagName           string         `json:"TagName"`
	ProcessID         uint32         `json:"ProcessId"`
	ThreadID          uint32         `json:"ThreadId"`
	ProviderName      string         `json:"ProviderName"`
	EventName         string         `json:"EventName"`
	ActivityID        string         `json:"ActivityId"`
	RelatedActivityID string         `json:"RelatedActivityId"`
	Payload           map[string]any `json:"Payload"`

	Variant Variant `json:"-"`

	// FilePath is populated when Variant == VariantFile.
	FilePath string `json:"FilePath,omitempty"`

	// ChildProcessID / ChildProcessName are populated when
	// Variant == VariantProcessStart.
	ChildProcessID   uint32 `json:"ChildProcessId,omitempty"`
	ChildProcessName string `json:"ChildProcessName,omitempty"`

	// ExitCode is populated when Variant == VariantProcessEnd.
	ExitCode int32 `json:"ExitCode,omitempty"`
}

// IsFile reports whether the event is the File variant.
func (e *Event) IsFile() bool { return e.Variant == VariantFile }

// IsProcessStart reports whether the event is the ProcessStart variant.
func (e *Event) IsProcessStart() bool { return e.Variant == VariantProcessStart }

// IsProcessEnd reports whether the event is the ProcessEnd variant.
func (e *Event) IsProcessEnd() bool { return e.Variant == VariantProcessEnd }
