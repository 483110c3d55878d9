// Package ipc implements the message-framed local IPC endpoint clients use
// to register watch targets and pull recorded events, grounded on
// fibratus's own preference for a byte-stream framing layer over gRPC
// (see its kcap/reader framing) generalized to a named-pipe request/
// response protocol.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/ryoha000/proctail/pkg/errors"
	"github.com/ryoha000/proctail/pkg/kevent"
)

// Request types understood by the server, per the RequestType
// discriminator carried in every request envelope.
const (
	AddWatchTarget    = "AddWatchTarget"
	RemoveWatchTarget = "RemoveWatchTarget"
	GetWatchTargets   = "GetWatchTargets"
	GetRecordedEvents = "GetRecordedEvents"
	ClearEvents       = "ClearEvents"
	GetStatus         = "GetStatus"
	Shutdown          = "Shutdown"
)

// Request is the envelope every inbound message is decoded into. Only the
// fields relevant to RequestType are populated by the client; unused
// fields are left zero.
type Request struct {
	RequestType string `json:"RequestType"`
	ProcessId   uint32 `json:"ProcessId,omitempty"`
	TagName     string `json:"TagName,omitempty"`
}

// Response is the envelope every outbound message is encoded from.
// Success and ErrorMessage are present on every response; the remaining
// fields are populated only by the handler that produced them.
type Response struct {
	Success      bool            `json:"Success"`
	ErrorMessage string          `json:"ErrorMessage,omitempty"`
	Targets      []WatchTarget   `json:"Targets,omitempty"`
	Events       []kevent.Event  `json:"Events,omitempty"`
	Status       *Status         `json:"Status,omitempty"`
}

// WatchTarget is the wire shape of a registry entry returned by
// GetWatchTargets.
type WatchTarget struct {
	ProcessId    uint32 `json:"ProcessId"`
	TagName      string `json:"TagName"`
	ProcessName  string `json:"ProcessName"`
	ImagePath    string `json:"ImagePath"`
	IsChild      bool   `json:"IsChild"`
	ParentPID    uint32 `json:"ParentProcessId,omitempty"`
	RegisteredAt string `json:"RegisteredAt"`
}

// Status is the composite runtime snapshot returned by GetStatus.
type Status struct {
	Running          bool           `json:"Running"`
	WatchedTargets   int            `json:"WatchedTargets"`
	TotalTags        int            `json:"TotalTags"`
	TotalEvents      int            `json:"TotalEvents"`
	EventsPerTag     map[string]int `json:"EventsPerTag"`
	EstimatedBytes   uint64         `json:"EstimatedBytes"`
	ActiveConnections int           `json:"ActiveConnections"`
}

func schemaFor(requestType string) string {
	switch requestType {
	case AddWatchTarget:
		return `{
			"type": "object",
			"required": ["RequestType", "ProcessId", "TagName"],
			"properties": {
				"RequestType": {"type": "string"},
				"ProcessId": {"type": "integer", "minimum": 1},
				"TagName": {"type": "string", "minLength": 1}
			}
		}`
	case RemoveWatchTarget, GetRecordedEvents, ClearEvents:
		return `{
			"type": "object",
			"required": ["RequestType", "TagName"],
			"properties": {
				"RequestType": {"type": "string"},
				"TagName": {"type": "string", "minLength": 1}
			}
		}`
	case GetWatchTargets, GetStatus, Shutdown:
		return `{
			"type": "object",
			"required": ["RequestType"],
			"properties": {"RequestType": {"type": "string"}}
		}`
	default:
		return ""
	}
}

// Validate checks raw against the JSON schema for its own RequestType
// (parsed once, opportunistically, just to learn the discriminator), so
// malformed envelopes are rejected uniformly before a handler ever sees
// them. Unknown RequestType values are rejected here too, surfaced as an
// IpcHandlerError-shaped response by the caller.
func Validate(raw []byte) (string, error) {
	var probe struct {
		RequestType string `json:"RequestType"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", errors.New(errors.KindIPCHandler, fmt.Errorf("decoding request envelope: %w", err))
	}
	schema := schemaFor(probe.RequestType)
	if schema == "" {
		return probe.RequestType, errors.Newf(errors.KindIPCHandler, "unknown RequestType %q", probe.RequestType)
	}

	schemaLoader := gojsonschema.NewStringLoader(schema)
	docLoader := gojsonschema.NewBytesLoader(raw)
	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return probe.RequestType, errors.New(errors.KindIPCHandler, fmt.Errorf("validating request: %w", err))
	}
	if !result.Valid() {
		return probe.RequestType, errors.Newf(errors.KindIPCHandler, "request does not match schema: %v", result.Errors())
	}
	return probe.RequestType, nil
}
