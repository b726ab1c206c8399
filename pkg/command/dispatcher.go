package command

import (
	"context"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/motion"
)

// Executor runs a single command.
type Executor interface {
	Execute(ctx context.Context, c Command) Response
}

// Dispatcher executes commands against a motion controller. It never returns
// errors: failures become unsuccessful responses.
type Dispatcher struct {
	ctrl *motion.Controller

	// Queued, if set, reports the number of waiting commands for status.
	Queued func() int
}

// NewDispatcher returns a dispatcher driving ctrl.
func NewDispatcher(ctrl *motion.Controller) *Dispatcher {
	return &Dispatcher{ctrl: ctrl}
}

// Execute runs c and converts the outcome into a response.
func (d *Dispatcher) Execute(ctx context.Context, c Command) Response {
	if c == nil {
		return Failure(errors.Wrap(ErrInvalidRequest, "no command"))
	}

	var (
		res motion.Result
		err error
	)
	switch c := c.(type) {
	case Move:
		res, err = d.ctrl.Jog(ctx, c.Joint.ID, c.Direction, c.Speed)
	case MoveLimit:
		res, err = d.ctrl.MoveToLimit(ctx, c.Joint.ID, c.Direction, c.Speed)
	case MoveTo:
		res, err = d.ctrl.MoveTo(ctx, c.Joint.ID, c.Position, c.Speed)
	case Toggle:
		res, err = d.ctrl.Toggle(ctx, c.Joint.ID, c.Speed)
	case Stop:
		res, err = d.ctrl.Stop(ctx, c.Joint.ID)
	case StopAll:
		res, err = d.ctrl.StopAll(ctx)
	case Home:
		if err = d.ctrl.Home(ctx); err == nil {
			res.Message = "All motors homed"
		}
	case Status:
		return d.status()
	default:
		err = errors.Wrapf(ErrUnknownCommand, "%T", c)
	}

	if err != nil {
		logger.WithField("command", c.Name()).Warnf("command failed: %v", err)
		return Failure(err)
	}
	return fromResult(c, res)
}

func (d *Dispatcher) status() Response {
	report := &StatusReport{
		Calibration: d.ctrl.Calibration(),
		State:       d.ctrl.State(),
	}
	if d.Queued != nil {
		report.Queued = d.Queued()
	}
	resp := Succeeded("ok")
	resp.Status = report
	return resp
}
