package robot

import (
	"context"
)

// Link is the servo bus as seen by the calibration and motion code. Only one
// request may be in flight at a time; callers serialise access.
type Link interface {
	// ReadPosition returns the raw encoder position of a servo.
	ReadPosition(ctx context.Context, id JointID) (int, error)
	// WritePosition sets goal position, speed and acceleration in one write.
	WritePosition(ctx context.Context, id JointID, position, speed, accel int) error
	// ReadTemperature returns the servo temperature in degrees Celsius.
	ReadTemperature(ctx context.Context, id JointID) (int, error)
}

// LinkCloser is a Link that owns an underlying port.
type LinkCloser interface {
	Link
	Close() error
}
