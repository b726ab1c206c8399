package robot

import "github.com/pkg/errors"

// Direction is the sign of a motion along a joint's encoder axis.
type Direction int

// Directions.
const (
	Decrease Direction = -1
	Increase Direction = 1
)

// ErrInvalidDirection is returned for direction tokens that mean nothing.
var ErrInvalidDirection = errors.New("invalid direction")

// ParseDirection maps a direction token to a sign. "inc", "down" and "right"
// increase the encoder position; "dec", "up" and "left" decrease it.
func ParseDirection(token string) (Direction, error) {
	switch token {
	case "inc", "down", "right":
		return Increase, nil
	case "dec", "up", "left":
		return Decrease, nil
	}
	return 0, errors.Wrapf(ErrInvalidDirection, "%q", token)
}

// Valid reports whether d is +1 or -1.
func (d Direction) Valid() bool {
	return d == Increase || d == Decrease
}

// Reverse returns the opposite direction.
func (d Direction) Reverse() Direction {
	return -d
}

// Extreme returns the encoder end a joint is driven toward.
func (d Direction) Extreme() int {
	if d < 0 {
		return EncoderMin
	}
	return EncoderMax
}

func (d Direction) String() string {
	switch d {
	case Increase:
		return "inc"
	case Decrease:
		return "dec"
	}
	return "none"
}
