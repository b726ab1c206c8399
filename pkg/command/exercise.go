package command

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/robot"
)

// SendFunc delivers a command and returns its response.
type SendFunc func(ctx context.Context, c Command) (Response, error)

// ExerciseOptions configures Exercise.
type ExerciseOptions struct {
	Joints  []robot.Joint
	MoveFor time.Duration
	Pause   time.Duration
	// OnStep, if set, is called after every command.
	OnStep func(c Command, resp Response)
}

// Exercise drives every joint to its minimum, stops it, drives it to its
// maximum and stops it again. It gives up at the first failing command.
func Exercise(ctx context.Context, send SendFunc, opts ExerciseOptions) error {
	if opts.Joints == nil {
		opts.Joints = robot.AllJoints()
	}
	if opts.MoveFor <= 0 {
		opts.MoveFor = 2 * time.Second
	}
	if opts.Pause <= 0 {
		opts.Pause = time.Second
	}

	for _, j := range opts.Joints {
		steps := []struct {
			cmd  Command
			wait time.Duration
		}{
			{MoveLimit{Joint: j, Direction: robot.Decrease}, opts.MoveFor},
			{Stop{Joint: j}, opts.Pause},
			{MoveLimit{Joint: j, Direction: robot.Increase}, opts.MoveFor},
			{Stop{Joint: j}, opts.Pause},
		}
		for _, s := range steps {
			resp, err := send(ctx, s.cmd)
			if err != nil {
				return errors.Wrapf(err, "%s %s", s.cmd.Name(), j.Name)
			}
			if opts.OnStep != nil {
				opts.OnStep(s.cmd, resp)
			}
			if !resp.Success {
				return errors.Errorf("%s %s: %s", s.cmd.Name(), j.Name, resp.Message)
			}
			if err := sleep(ctx, s.wait); err != nil {
				return err
			}
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
