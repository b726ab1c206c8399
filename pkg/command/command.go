// Package command decodes JSON requests into typed commands and executes
// them one at a time against the motion controller.
package command

import (
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
)

var logger = log.WithFields(log.Fields{
	"pkg": "command",
})

var (
	// ErrUnknownCommand is returned for command names nobody handles.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownMotor is returned for motor names outside the catalogue.
	ErrUnknownMotor = errors.New("unknown motor")
	// ErrInvalidRequest is returned for malformed JSON or missing fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// Command names on the wire.
const (
	NameMove      = "move"
	NameMoveLimit = "move_limit"
	NameMoveTo    = "move_to"
	NameToggle    = "toggle"
	NameStop      = "stop"
	NameStopAll   = "stop_all"
	NameHome      = "home"
	NameStatus    = "status"
)

// Request is the JSON shape of a command.
type Request struct {
	Command   string `json:"command"`
	Motor     string `json:"motor,omitempty"`
	Direction string `json:"direction,omitempty"`
	Position  *int   `json:"position,omitempty"`
	Speed     int    `json:"speed,omitempty"`
}

// Command is one decoded request.
type Command interface {
	Name() string
	Request() Request
}

// Move jogs a joint by one update interval.
type Move struct {
	Joint     robot.Joint
	Direction robot.Direction
	Speed     int
}

// MoveLimit sends a joint to one of its calibrated extremes.
type MoveLimit struct {
	Joint     robot.Joint
	Direction robot.Direction
	Speed     int
}

// MoveTo sends a joint to an absolute position.
type MoveTo struct {
	Joint    robot.Joint
	Position int
	Speed    int
}

// Toggle flips the hand or thumb direction and jogs it.
type Toggle struct {
	Joint robot.Joint
	Speed int
}

// Stop holds a joint in place.
type Stop struct {
	Joint robot.Joint
}

// StopAll stops every calibrated joint.
type StopAll struct{}

// Home moves every calibrated joint to its midpoint.
type Home struct{}

// Status reports calibration and arm state.
type Status struct{}

// Name implements Command.
func (Move) Name() string      { return NameMove }
func (MoveLimit) Name() string { return NameMoveLimit }
func (MoveTo) Name() string    { return NameMoveTo }
func (Toggle) Name() string    { return NameToggle }
func (Stop) Name() string      { return NameStop }
func (StopAll) Name() string   { return NameStopAll }
func (Home) Name() string      { return NameHome }
func (Status) Name() string    { return NameStatus }

// Request returns the wire form of a jog.
func (c Move) Request() Request {
	return Request{Command: NameMove, Motor: c.Joint.Name, Direction: c.Direction.String(), Speed: c.Speed}
}

// Request returns the wire form of a move toward a limit.
func (c MoveLimit) Request() Request {
	return Request{Command: NameMoveLimit, Motor: c.Joint.Name, Direction: c.Direction.String(), Speed: c.Speed}
}

// Request returns the wire form of an absolute move.
func (c MoveTo) Request() Request {
	pos := c.Position
	return Request{Command: NameMoveTo, Motor: c.Joint.Name, Position: &pos, Speed: c.Speed}
}

// Request returns the wire form of a toggle.
func (c Toggle) Request() Request {
	return Request{Command: NameToggle, Motor: c.Joint.Name, Speed: c.Speed}
}

// Request returns the wire form of a stop.
func (c Stop) Request() Request {
	return Request{Command: NameStop, Motor: c.Joint.Name}
}

// Request implements Command for the argument-free commands.
func (StopAll) Request() Request { return Request{Command: NameStopAll} }
func (Home) Request() Request    { return Request{Command: NameHome} }
func (Status) Request() Request  { return Request{Command: NameStatus} }

// Motor returns the joint a command targets, if any.
func Motor(c Command) (robot.Joint, bool) {
	switch c := c.(type) {
	case Move:
		return c.Joint, true
	case MoveLimit:
		return c.Joint, true
	case MoveTo:
		return c.Joint, true
	case Toggle:
		return c.Joint, true
	case Stop:
		return c.Joint, true
	}
	return robot.Joint{}, false
}

// Decode parses a JSON request.
func Decode(data []byte) (Command, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid JSON: %v", err)
	}
	return Parse(req)
}

// Parse validates a request and turns it into a Command.
func Parse(req Request) (Command, error) {
	switch req.Command {
	case NameStopAll:
		return StopAll{}, nil
	case NameHome:
		return Home{}, nil
	case NameStatus:
		return Status{}, nil
	case NameMove, NameMoveLimit, NameMoveTo, NameToggle, NameStop:
	case "":
		return nil, errors.Wrap(ErrInvalidRequest, "missing command")
	default:
		return nil, errors.Wrapf(ErrUnknownCommand, "%q", req.Command)
	}

	if req.Motor == "" {
		return nil, errors.Wrapf(ErrInvalidRequest, "%s requires a motor", req.Command)
	}
	j, ok := robot.JointByName(req.Motor)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownMotor, "%q", req.Motor)
	}
	if req.Speed < 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "negative speed %d", req.Speed)
	}

	switch req.Command {
	case NameMove, NameMoveLimit:
		dir, err := robot.ParseDirection(req.Direction)
		if err != nil {
			return nil, err
		}
		if req.Command == NameMove {
			return Move{Joint: j, Direction: dir, Speed: req.Speed}, nil
		}
		return MoveLimit{Joint: j, Direction: dir, Speed: req.Speed}, nil
	case NameMoveTo:
		if req.Position == nil {
			return nil, errors.Wrap(ErrInvalidRequest, "move_to requires a position")
		}
		return MoveTo{Joint: j, Position: *req.Position, Speed: req.Speed}, nil
	case NameToggle:
		return Toggle{Joint: j, Speed: req.Speed}, nil
	default:
		return Stop{Joint: j}, nil
	}
}
