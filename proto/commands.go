package proto

import (
	"fmt"
	"math"
	"strings"
)

const (
	CmdMoveForward  = "move_forward"
	CmdMoveBackward = "move_backward"
	CmdTurnLeft     = "turn_left"
	CmdTurnRight    = "turn_right"
	CmdStop         = "stop"
	CmdCapture      = "capture"
	CmdGetDistance  = "get_distance"
	CmdDisplay      = "display"
	CmdGetStatus    = "get_status"
)

// CommandSpec describes one command of the closed set. The relay uses it to build
// tool definitions, the device to validate inbound commands.
type CommandSpec struct {
	Name        string
	Description string
	Motion      bool     // takes speed and duration_ms
	Params      []string // accepted parameter names
}

var commandSpecs = []CommandSpec{
	{Name: CmdMoveForward, Description: "Drive forward", Motion: true, Params: []string{"speed", "duration_ms"}},
	{Name: CmdMoveBackward, Description: "Drive backward", Motion: true, Params: []string{"speed", "duration_ms"}},
	{Name: CmdTurnLeft, Description: "Rotate left in place", Motion: true, Params: []string{"speed", "duration_ms"}},
	{Name: CmdTurnRight, Description: "Rotate right in place", Motion: true, Params: []string{"speed", "duration_ms"}},
	{Name: CmdStop, Description: "Stop all motors immediately"},
	{Name: CmdCapture, Description: "Take a picture and describe what the camera sees"},
	{Name: CmdGetDistance, Description: "Read the front distance sensor in millimetres"},
	{Name: CmdDisplay, Description: "Show a line of text on the rover display", Params: []string{"text"}},
	{Name: CmdGetStatus, Description: "Report detection state, camera state and the last recognition"},
}

func Commands() []CommandSpec {
	out := make([]CommandSpec, len(commandSpecs))
	copy(out, commandSpecs)
	return out
}

func LookupCommand(name string) (CommandSpec, bool) {
	for _, spec := range commandSpecs {
		if spec.Name == name {
			return spec, true
		}
	}
	return CommandSpec{}, false
}

func ValidateCommand(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("command name is required")
	}
	if _, ok := LookupCommand(name); !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

// Delivery selects the reliability of a send.
type Delivery int

const (
	// Correlated sends register a pending request and wait for the matching response.
	Correlated Delivery = iota
	// FireAndForget sends carry an id but nobody waits for it.
	FireAndForget
)

func (d Delivery) String() string {
	switch d {
	case Correlated:
		return "correlated"
	case FireAndForget:
		return "fire_and_forget"
	default:
		return fmt.Sprintf("delivery(%d)", int(d))
	}
}

const (
	MaxSpeed = 255
)

// MotionParams are the resolved parameters of a motion command.
type MotionParams struct {
	Speed      int
	DurationMs int
}

// ParseMotion applies defaults and clamps. A zero duration means hold until stop.
func ParseMotion(params map[string]any, baseSpeed, maxDurationMs int) MotionParams {
	speed, ok := Number(params, "speed")
	if !ok {
		speed = float64(baseSpeed)
	}
	duration, ok := Number(params, "duration_ms")
	if !ok {
		duration = 0
	}
	return MotionParams{
		Speed:      clamp(speed, MaxSpeed),
		DurationMs: clamp(duration, maxDurationMs),
	}
}

// Number reads a numeric parameter. JSON numbers decode as float64 but callers
// inside the process may pass ints.
func Number(params map[string]any, key string) (float64, bool) {
	if params == nil {
		return 0, false
	}
	switch v := params[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	default:
		return 0, false
	}
}

func String(params map[string]any, key string) (string, bool) {
	if params == nil {
		return "", false
	}
	s, ok := params[key].(string)
	return s, ok
}

// clamp bounds v to [0, hi] before converting, so huge values never wrap.
func clamp(v float64, hi int) int {
	return int(math.Round(math.Max(0, math.Min(v, float64(hi)))))
}
