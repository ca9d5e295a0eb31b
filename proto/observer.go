package proto

import "time"

// Observer frame types
const (
	ObserverCommand       = "command"
	ObserverChat          = "chat"
	ObserverStatus        = "status"
	ObserverEvent         = "event"
	ObserverActions       = "actions"
	ObserverCommandResult = "command_result"
)

// ObserverInbound is what observers send to the relay.
type ObserverInbound struct {
	Type    string         `json:"type"`              // "command" or "chat"
	Command string         `json:"command,omitempty"` // for type=command
	Params  map[string]any `json:"params,omitempty"`
	Text    string         `json:"text,omitempty"` // for type=chat
}

type StatusFrame struct {
	Type            string    `json:"type"`
	DeviceConnected bool      `json:"device_connected"`
	DeviceAddr      string    `json:"device_addr,omitempty"`
	Observers       int       `json:"observers"`
	Timestamp       time.Time `json:"timestamp"`
}

type EventFrame struct {
	Type      string         `json:"type"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type ChatFrame struct {
	Type      string    `json:"type"`
	Role      string    `json:"role"` // "user" or "assistant"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Action is one command executed on behalf of a chat message.
type Action struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
	OK      bool           `json:"ok"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type ActionsFrame struct {
	Type      string    `json:"type"`
	Actions   []Action  `json:"actions"`
	Timestamp time.Time `json:"timestamp"`
}

type CommandResultFrame struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Command   string         `json:"command"`
	OK        bool           `json:"ok"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
