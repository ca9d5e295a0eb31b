package relay

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrTimeout           = errors.New("command timed out")
	ErrDisconnected      = errors.New("device disconnected")
	ErrInvalidCommand    = errors.New("invalid command")
	ErrQueueFull         = errors.New("client send queue full")
	ErrClientClosed      = errors.New("client closed")
)

// CommandError is a command the device answered with status "error".
type CommandError struct {
	ID      string
	Command string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s failed on device: %s", e.Command, e.Message)
}

// APIError is what HTTP handlers report to callers.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e APIError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e APIError) Unwrap() error { return e.Cause }

const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeUnavailable  = "DEVICE_UNAVAILABLE"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeDevice       = "DEVICE_ERROR"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// toAPIError classifies a send error.
func toAPIError(err error) APIError {
	var cmdErr *CommandError
	switch {
	case errors.As(err, &cmdErr):
		return APIError{Code: ErrCodeDevice, Message: cmdErr.Message, Cause: err}
	case errors.Is(err, ErrInvalidCommand):
		return APIError{Code: ErrCodeInvalidInput, Message: "Invalid command", Cause: err}
	case errors.Is(err, ErrDeviceUnavailable), errors.Is(err, ErrDisconnected):
		return APIError{Code: ErrCodeUnavailable, Message: "Device is not connected", Cause: err}
	case errors.Is(err, ErrTimeout):
		return APIError{Code: ErrCodeTimeout, Message: "Device did not respond in time", Cause: err}
	default:
		return APIError{Code: ErrCodeInternal, Message: "Internal server error", Cause: err}
	}
}

func (e APIError) StatusCode() int {
	switch e.Code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeDevice:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
