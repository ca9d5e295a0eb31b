package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RelayService is the mDNS service type the relay advertises for devices.
const RelayService = "_gorover._tcp"

// NoCorrelation is the id carried by commands whose sender does not expect a response.
const NoCorrelation = "none"

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Command struct {
	ID      string         `json:"id"`               // assigned by the sender that expects a response
	Command string         `json:"command"`          // one of the names in commands.go
	Params  map[string]any `json:"params,omitempty"` // speed, duration_ms, text...
}

type Response struct {
	ID     string         `json:"id"`             // id of the command being answered
	Status string         `json:"status"`         // "ok" or "error"
	Data   map[string]any `json:"data,omitempty"` // command specific result
}

type Event struct {
	Event string         `json:"event"`          // e.g. "obstacle_detected"
	Data  map[string]any `json:"data,omitempty"` // event specific payload
}

// Device event names
const (
	EventObstacleDetected  = "obstacle_detected"
	EventObstacleCleared   = "obstacle_cleared"
	EventRecognitionStart  = "recognition_start"
	EventRecognitionResult = "recognition_result"
	EventTelemetry         = "telemetry"
)

// ErrProtocol marks a frame that could not be decoded into a known shape.
var ErrProtocol = errors.New("protocol error")

// Frame is the union of everything that travels over the device link.
// Exactly one of Command, Response or Event is set after Decode.
type Frame struct {
	Command  *Command
	Response *Response
	Event    *Event
}

type rawFrame struct {
	ID      *string        `json:"id"`
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
	Status  string         `json:"status"`
	Event   string         `json:"event"`
	Data    map[string]any `json:"data"`
}

// Decode classifies a device link frame by its discriminating field:
// "event" for events, "status" for responses, "command" for commands.
func Decode(b []byte) (Frame, error) {
	var raw rawFrame
	if err := json.Unmarshal(b, &raw); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}

	id := NoCorrelation
	if raw.ID != nil && *raw.ID != "" {
		id = *raw.ID
	}

	switch {
	case raw.Event != "":
		return Frame{Event: &Event{Event: raw.Event, Data: raw.Data}}, nil
	case raw.Status != "":
		if raw.Status != StatusOK && raw.Status != StatusError {
			return Frame{}, fmt.Errorf("%w: invalid status %q", ErrProtocol, raw.Status)
		}
		if raw.ID == nil || *raw.ID == "" {
			return Frame{}, fmt.Errorf("%w: response without id", ErrProtocol)
		}
		return Frame{Response: &Response{ID: id, Status: raw.Status, Data: raw.Data}}, nil
	case raw.Command != "":
		return Frame{Command: &Command{ID: id, Command: raw.Command, Params: raw.Params}}, nil
	default:
		return Frame{}, fmt.Errorf("%w: frame has no command, status or event", ErrProtocol)
	}
}

// Correlated reports whether the sender of c expects a response.
func (c Command) Correlated() bool {
	return c.ID != "" && c.ID != NoCorrelation
}

func OK(id string, data map[string]any) Response {
	return Response{ID: id, Status: StatusOK, Data: data}
}

func Fail(id string, message string) Response {
	return Response{ID: id, Status: StatusError, Data: map[string]any{"error": message}}
}

// ErrorMessage returns the "error" field of a failed response.
func (r Response) ErrorMessage() string {
	if r.Data == nil {
		return ""
	}
	msg, _ := r.Data["error"].(string)
	return msg
}
