package device

import "context"

type Direction string

const (
	Forward   Direction = "forward"
	Backward  Direction = "backward"
	TurnLeft  Direction = "left"
	TurnRight Direction = "right"
)

// Motors energizes the drive for a direction and speed (0-255).
type Motors interface {
	Drive(dir Direction, speed int) error
	Stop() error
}

// RangeSensor reads the front distance in millimetres. A reading of 0 or above the
// sensor's maximum range is out of range, not an error.
type RangeSensor interface {
	ReadMM(ctx context.Context) (int, error)
	// StartContinuous and StopContinuous bracket windows where the bus is needed by
	// another peripheral.
	StartContinuous() error
	StopContinuous() error
}

type Display interface {
	Show(lines ...string) error
	Clear() error
}

// Camera grabs single JPEG frames. Grab is not reentrant.
type Camera interface {
	Init() error
	Deinit() error
	Grab() ([]byte, error)
}
