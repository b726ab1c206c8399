package motion

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/sim"
)

func testCalibration() robot.Calibration {
	return robot.Calibration{
		robot.Base:     {Min: 1074, Max: 3022, Name: "base"},
		robot.Shoulder: {Min: 800, Max: 3300, Name: "shoulder"},
		robot.Elbow:    {Min: 700, Max: 3400, Name: "elbow"},
		robot.Wrist:    {Min: 1100, Max: 3000, Name: "wrist"},
		robot.Hand:     {Min: 1550, Max: 2790, Name: "hand"},
		robot.Thumb:    {Min: 1870, Max: 2850, Name: "thumb"},
	}
}

func testParams() Params {
	p := DefaultParams()
	p.PollInterval = robot.Duration{Duration: time.Millisecond}
	p.HomeSettle = robot.Duration{Duration: time.Millisecond}
	return p
}

func newController(cal robot.Calibration) (*Controller, *sim.Arm) {
	arm := sim.New()
	return NewController(arm, cal, testParams()), arm
}

func TestMoveTo_ClampsTarget(t *testing.T) {
	c, arm := newController(testCalibration())
	arm.SetStep(200)

	res, err := c.MoveTo(context.Background(), robot.Base, 99999, 0)
	require.NoError(t, err)
	assert.Equal(t, 3022, res.Target)
	assert.Equal(t, 2048, res.StartPosition)
	assert.InDelta(t, 3022, res.EndPosition, 4)
	assert.Equal(t, 31, res.Temperature)

	w := arm.WritesTo(robot.Base)
	require.Len(t, w, 1)
	assert.Equal(t, sim.Write{ID: robot.Base, Position: 3022, Speed: 500, Accel: 50}, w[0])
	assert.NotContains(t, c.State().Moving, robot.Base)
}

func TestMoveTo_WristEndsWithinRange(t *testing.T) {
	c, _ := newController(testCalibration())

	res, err := c.MoveTo(context.Background(), robot.Wrist, 5000, 800)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.EndPosition, 1100)
	assert.LessOrEqual(t, res.EndPosition, 3000)
}

func TestMoveTo_Timeout(t *testing.T) {
	arm := sim.New()
	arm.Oscillate(robot.Elbow, 50)
	p := testParams()
	p.MoveTimeout = robot.Duration{Duration: 20 * time.Millisecond}
	c := NewController(arm, testCalibration(), p)

	_, err := c.MoveTo(context.Background(), robot.Elbow, 3000, 0)
	assert.True(t, errors.Is(err, ErrMoveTimeout))
}

func TestMoveTo_ReadFailure(t *testing.T) {
	c, arm := newController(testCalibration())
	arm.FailReads(robot.Base, 2, nil)

	_, err := c.MoveTo(context.Background(), robot.Base, 3000, 0)
	assert.True(t, errors.Is(err, sim.ErrInjected))
}

func TestJog_StaysWithinRange(t *testing.T) {
	ctx := context.Background()
	c, arm := newController(testCalibration())

	arm.SetPosition(robot.Wrist, 1110)
	res, err := c.Jog(ctx, robot.Wrist, robot.Decrease, 500)
	require.NoError(t, err)
	assert.Equal(t, 1100, res.Target)

	arm.SetPosition(robot.Wrist, 2990)
	res, err = c.Jog(ctx, robot.Wrist, robot.Increase, 500)
	require.NoError(t, err)
	assert.Equal(t, 3000, res.Target)

	for _, w := range arm.WritesTo(robot.Wrist) {
		assert.GreaterOrEqual(t, w.Position, 1100)
		assert.LessOrEqual(t, w.Position, 3000)
	}
}

func TestJog_Delta(t *testing.T) {
	c, arm := newController(testCalibration())
	arm.SetPosition(robot.Base, 2000)

	res, err := c.Jog(context.Background(), robot.Base, robot.Increase, 0)
	require.NoError(t, err)
	// 500 units/s for 50ms.
	assert.Equal(t, 2025, res.Target)
	assert.Equal(t, []robot.JointID{robot.Base}, c.State().Moving)
	assert.Equal(t, 2025, c.State().Targets[robot.Base])
}

func TestMoveToLimit(t *testing.T) {
	ctx := context.Background()
	c, arm := newController(testCalibration())

	res, err := c.MoveToLimit(ctx, robot.Elbow, robot.Increase, 0)
	require.NoError(t, err)
	assert.Equal(t, 3400, res.Target)
	assert.Equal(t, 2048+sim.DefaultStep, res.EndPosition)
	assert.Equal(t, 31, res.Temperature)

	arm.FailReads(robot.Elbow, 0, nil)
	arm.FailTemperature(robot.Elbow, nil)
	res, err = c.MoveToLimit(ctx, robot.Elbow, robot.Decrease, 0)
	require.NoError(t, err)
	assert.Equal(t, 700, res.Target)
	assert.Equal(t, Unknown, res.EndPosition)
	assert.Equal(t, Unknown, res.Temperature)

	arm.FailWrites(robot.Elbow, 0, nil)
	_, err = c.MoveToLimit(ctx, robot.Elbow, robot.Decrease, 0)
	assert.Error(t, err)
}

func TestStop_Idempotent(t *testing.T) {
	ctx := context.Background()
	c, arm := newController(testCalibration())
	require.NoError(t, arm.WritePosition(ctx, robot.Shoulder, 3000, 500, 50))

	first, err := c.Stop(ctx, robot.Shoulder)
	require.NoError(t, err)
	second, err := c.Stop(ctx, robot.Shoulder)
	require.NoError(t, err)
	assert.Equal(t, first.EndPosition, second.EndPosition)

	w := arm.WritesTo(robot.Shoulder)
	last := w[len(w)-1]
	assert.Equal(t, 0, last.Speed)
	assert.Equal(t, 0, last.Accel)
	assert.Equal(t, first.EndPosition, last.Position)
}

func TestStopAll_AbortsAtFirstFailure(t *testing.T) {
	c, arm := newController(testCalibration())
	arm.FailReads(robot.Elbow, 0, nil)

	_, err := c.StopAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "motor 3")
	assert.Contains(t, err.Error(), "elbow")

	assert.Len(t, arm.WritesTo(robot.Base), 1)
	assert.Len(t, arm.WritesTo(robot.Shoulder), 1)
	for _, id := range []robot.JointID{robot.Wrist, robot.Hand, robot.Thumb} {
		assert.Empty(t, arm.WritesTo(id))
		assert.Zero(t, arm.Reads(id))
	}
}

func TestStopAll(t *testing.T) {
	c, arm := newController(testCalibration())
	res, err := c.StopAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "All motors stopped", res.Message)
	assert.Len(t, arm.Writes(), 6)
}

func TestUncalibratedAndUnknownJoints(t *testing.T) {
	ctx := context.Background()
	cal := testCalibration()
	delete(cal, robot.Hand)
	c, arm := newController(cal)

	_, err := c.Jog(ctx, robot.Hand, robot.Increase, 0)
	assert.True(t, errors.Is(err, ErrNotCalibrated))
	_, err = c.MoveTo(ctx, robot.Hand, 2000, 0)
	assert.True(t, errors.Is(err, ErrNotCalibrated))
	_, err = c.Stop(ctx, robot.Hand)
	assert.True(t, errors.Is(err, ErrNotCalibrated))
	_, err = c.Toggle(ctx, robot.Hand, 0)
	assert.True(t, errors.Is(err, ErrNotCalibrated))

	_, err = c.Stop(ctx, 7)
	assert.True(t, errors.Is(err, ErrUnknownJoint))

	assert.Empty(t, arm.Writes())
	snap := c.State()
	assert.Empty(t, snap.Targets)
	assert.Equal(t, robot.Increase, snap.WristDirection)
}

func TestToggle_Alternates(t *testing.T) {
	ctx := context.Background()
	c, _ := newController(testCalibration())

	first, err := c.Toggle(ctx, robot.Hand, 0)
	require.NoError(t, err)
	assert.Equal(t, robot.Decrease, c.State().WristDirection)
	assert.Equal(t, robot.Increase, c.State().ThumbDirection)

	second, err := c.Toggle(ctx, robot.Hand, 0)
	require.NoError(t, err)
	assert.Equal(t, robot.Increase, c.State().WristDirection)
	assert.Less(t, first.Target, second.Target)

	_, err = c.Toggle(ctx, robot.Base, 0)
	assert.True(t, errors.Is(err, ErrNotToggleable))
}

func TestToggleDirection(t *testing.T) {
	c, _ := newController(testCalibration())
	assert.Equal(t, robot.Decrease, c.ToggleDirection(ThumbFlag))
	assert.Equal(t, robot.Increase, c.ToggleDirection(ThumbFlag))
	assert.Equal(t, robot.Increase, c.State().WristDirection)
}

func TestHome(t *testing.T) {
	c, arm := newController(testCalibration())
	arm.FailWrites(robot.Thumb, 0, nil)

	err := c.Home(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, sim.ErrInjected))

	w := arm.WritesTo(robot.Wrist)
	require.Len(t, w, 1)
	assert.Equal(t, sim.Write{ID: robot.Wrist, Position: 2050, Speed: 300, Accel: 50}, w[0])
	assert.Len(t, arm.Writes(), 5)
}

func TestSetCalibration(t *testing.T) {
	c, _ := newController(nil)
	_, err := c.Stop(context.Background(), robot.Base)
	assert.True(t, errors.Is(err, ErrNotCalibrated))

	c.SetCalibration(testCalibration())
	_, err = c.Stop(context.Background(), robot.Base)
	assert.NoError(t, err)
	assert.Len(t, c.Calibration(), 6)
}
