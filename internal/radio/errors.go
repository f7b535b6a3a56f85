package radio

import (
	"errors"
	"fmt"
)

// Domain errors for the radio package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidArgument is returned for nil or out-of-domain input.
	ErrInvalidArgument = errors.New("radio: invalid argument")

	// ErrConnectionNotOpen is returned when an operation needs an open connection.
	ErrConnectionNotOpen = errors.New("radio: connection not open")

	// ErrConnection is returned when opening the connection fails.
	ErrConnection = errors.New("radio: connection failed")

	// ErrInvalidOperatingMode is returned when the module is not in API mode.
	ErrInvalidOperatingMode = errors.New("radio: invalid operating mode")

	// ErrOperationNotSupported is returned for structural misuse, such as
	// originating a send from a remote device context.
	ErrOperationNotSupported = errors.New("radio: operation not supported")

	// ErrTimeout is returned when no correlated response arrives before the deadline.
	ErrTimeout = errors.New("radio: operation timed out")

	// ErrTransport wraps failures of the underlying byte stream.
	ErrTransport = errors.New("radio: transport error")

	// ErrRemoteRejected matches every *RemoteRejectedError.
	ErrRemoteRejected = errors.New("radio: rejected by remote")

	// ErrProtocolMismatch matches every *ProtocolMismatchError.
	ErrProtocolMismatch = errors.New("radio: protocol family mismatch")

	// ErrTooManyPending is returned when all 255 frame IDs are awaiting responses.
	ErrTooManyPending = errors.New("radio: too many pending commands")

	// ErrInvalidFrame is returned by the codec for malformed frames.
	ErrInvalidFrame = errors.New("radio: invalid frame")

	// ErrDeviceNotFound is returned when discovery finds no matching peer.
	ErrDeviceNotFound = errors.New("radio: device not found")

	// ErrInvalidAddress is returned when an address string cannot be parsed.
	ErrInvalidAddress = errors.New("radio: invalid address")
)

// RemoteRejectedError reports a response frame carrying a non-success status.
type RemoteRejectedError struct {
	// Status is the raw status byte from the response frame.
	Status byte

	// Frame is the response frame type that carried the status.
	Frame FrameType
}

func (e *RemoteRejectedError) Error() string {
	return fmt.Sprintf("radio: rejected by remote: %s (0x%02X)", e.Frame.statusText(e.Status), e.Status)
}

// Is lets errors.Is(err, ErrRemoteRejected) match.
func (e *RemoteRejectedError) Is(target error) bool {
	return target == ErrRemoteRejected
}

// ProtocolMismatchError is returned by Open when the attached module runs a
// different protocol family than the one the Device was created for.
type ProtocolMismatchError struct {
	Expected ProtocolFamily
	Actual   ProtocolFamily
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("radio: device is not a %s device, it is a %s device",
		e.Expected.Description(), e.Actual.Description())
}

// Is lets errors.Is(err, ErrProtocolMismatch) match.
func (e *ProtocolMismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

// invalidArgument builds an ErrInvalidArgument with a message.
func invalidArgument(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, msg)
}
