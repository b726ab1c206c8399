// Package motion executes move and stop commands against calibrated joint
// limits.
package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/gwillem/armctl/pkg/robot"
)

var logger = log.WithFields(log.Fields{
	"pkg": "motion",
})

var (
	// ErrUnknownJoint is returned for joint IDs outside the catalogue.
	ErrUnknownJoint = errors.New("unknown joint")
	// ErrNotCalibrated is returned for joints without a calibration entry.
	ErrNotCalibrated = errors.New("not calibrated")
	// ErrMoveTimeout is returned when a joint does not reach its target in time.
	ErrMoveTimeout = errors.New("move timed out")
	// ErrNotToggleable is returned when toggling a joint without a toggle flag.
	ErrNotToggleable = errors.New("joint has no toggle")
)

// Unknown marks a position or temperature that could not be read.
const Unknown = -1

// Params tunes motion.
type Params struct {
	DefaultSpeed   int            `json:"default_speed,omitempty"`
	Accel          int            `json:"accel,omitempty"`
	UpdateInterval robot.Duration `json:"update_interval,omitempty"`
	PollInterval   robot.Duration `json:"poll_interval,omitempty"`
	Tolerance      int            `json:"tolerance,omitempty"`
	MoveTimeout    robot.Duration `json:"move_timeout,omitempty"`
	HomeSpeed      int            `json:"home_speed,omitempty"`
	HomeAccel      int            `json:"home_accel,omitempty"`
	HomeSettle     robot.Duration `json:"home_settle,omitempty"`
}

// DefaultParams returns the settings used on real hardware.
func DefaultParams() Params {
	return Params{
		DefaultSpeed:   500,
		Accel:          50,
		UpdateInterval: robot.Duration{Duration: 50 * time.Millisecond},
		PollInterval:   robot.Duration{Duration: 100 * time.Millisecond},
		Tolerance:      5,
		MoveTimeout:    robot.Duration{Duration: 10 * time.Second},
		HomeSpeed:      300,
		HomeAccel:      50,
		HomeSettle:     robot.Duration{Duration: 3 * time.Second},
	}
}

// WithDefaults fills unset fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.DefaultSpeed <= 0 {
		p.DefaultSpeed = d.DefaultSpeed
	}
	if p.Accel <= 0 {
		p.Accel = d.Accel
	}
	if p.UpdateInterval.Duration <= 0 {
		p.UpdateInterval = d.UpdateInterval
	}
	if p.PollInterval.Duration <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.Tolerance <= 0 {
		p.Tolerance = d.Tolerance
	}
	if p.MoveTimeout.Duration <= 0 {
		p.MoveTimeout = d.MoveTimeout
	}
	if p.HomeSpeed <= 0 {
		p.HomeSpeed = d.HomeSpeed
	}
	if p.HomeAccel <= 0 {
		p.HomeAccel = d.HomeAccel
	}
	if p.HomeSettle.Duration <= 0 {
		p.HomeSettle = d.HomeSettle
	}
	return p
}

// Result describes an executed motion. Fields that a command does not
// measure are left at zero; unreadable measurements are Unknown.
type Result struct {
	Joint         robot.Joint
	Target        int
	StartPosition int
	EndPosition   int
	Duration      time.Duration
	Temperature   int
	Message       string
}

// Controller moves joints within their calibrated ranges.
type Controller struct {
	link   robot.Link
	params Params
	state  *ArmState

	mu  sync.RWMutex
	cal robot.Calibration
}

// NewController returns a controller enforcing cal.
func NewController(link robot.Link, cal robot.Calibration, params Params) *Controller {
	return &Controller{
		link:   link,
		params: params.WithDefaults(),
		state:  newArmState(),
		cal:    cal.Clone(),
	}
}

// SetCalibration replaces the enforced calibration.
func (c *Controller) SetCalibration(cal robot.Calibration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cal = cal.Clone()
}

// Calibration returns a copy of the enforced calibration.
func (c *Controller) Calibration() robot.Calibration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cal.Clone()
}

// State returns a snapshot of the arm state.
func (c *Controller) State() Snapshot {
	return c.state.Snapshot()
}

// Params returns the effective parameters.
func (c *Controller) Params() Params {
	return c.params
}

func (c *Controller) lookup(id robot.JointID) (robot.Joint, robot.CalibrationEntry, error) {
	j, ok := robot.JointByID(id)
	if !ok {
		return robot.Joint{}, robot.CalibrationEntry{}, errors.Wrapf(ErrUnknownJoint, "id %d", id)
	}
	c.mu.RLock()
	e, ok := c.cal[id]
	c.mu.RUnlock()
	if !ok {
		return j, robot.CalibrationEntry{}, errors.Wrapf(ErrNotCalibrated, "motor %d (%s)", id, j.Name)
	}
	return j, e, nil
}

func (c *Controller) speed(speed int) int {
	if speed <= 0 {
		return c.params.DefaultSpeed
	}
	return speed
}

// Jog moves a joint one update interval's worth of travel from its current
// position. Callers repeat it while a button is held.
func (c *Controller) Jog(ctx context.Context, id robot.JointID, dir robot.Direction, speed int) (Result, error) {
	j, e, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if !dir.Valid() {
		return Result{}, errors.Wrapf(robot.ErrInvalidDirection, "%d", dir)
	}
	speed = c.speed(speed)

	current, err := c.link.ReadPosition(ctx, id)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read position of %s", j.Name)
	}

	delta := int(float64(speed*int(dir)) * c.params.UpdateInterval.Seconds())
	target := e.Clamp(current + delta)

	if err := c.link.WritePosition(ctx, id, target, speed, c.params.Accel); err != nil {
		return Result{}, errors.Wrapf(err, "move %s", j.Name)
	}
	c.state.setTarget(id, target, true)

	return Result{
		Joint:   j,
		Target:  target,
		Message: fmt.Sprintf("Moving %s to %d", j.Name, target),
	}, nil
}

// MoveToLimit sends a joint to its calibrated extreme in dir and reports the
// position read right after the write.
func (c *Controller) MoveToLimit(ctx context.Context, id robot.JointID, dir robot.Direction, speed int) (Result, error) {
	j, e, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}
	if !dir.Valid() {
		return Result{}, errors.Wrapf(robot.ErrInvalidDirection, "%d", dir)
	}
	speed = c.speed(speed)

	target := e.Min
	if dir == robot.Increase {
		target = e.Max
	}
	logger.WithField("joint", j.Name).Debugf("moving to %d at speed %d", target, speed)

	start := time.Now()
	if err := c.link.WritePosition(ctx, id, target, speed, c.params.Accel); err != nil {
		return Result{}, errors.Wrapf(err, "move %s in direction %s", j.Name, dir)
	}
	elapsed := time.Since(start)
	c.state.setTarget(id, target, true)

	end, err := c.link.ReadPosition(ctx, id)
	if err != nil {
		logger.WithField("joint", j.Name).Warnf("failed to read final position: %v", err)
		end = Unknown
	}

	return Result{
		Joint:       j,
		Target:      target,
		EndPosition: end,
		Duration:    elapsed,
		Temperature: c.temperature(ctx, j),
		Message:     fmt.Sprintf("Moved %s to %d", j.Name, end),
	}, nil
}

// MoveTo sends a joint to target, clamped into its calibrated range, and
// waits until it arrives within the position tolerance.
func (c *Controller) MoveTo(ctx context.Context, id robot.JointID, target, speed int) (Result, error) {
	j, e, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}
	speed = c.speed(speed)
	target = e.Clamp(target)
	l := logger.WithField("joint", j.Name)

	startPos, err := c.link.ReadPosition(ctx, id)
	if err != nil {
		return Result{}, errors.Wrapf(err, "read position of %s", j.Name)
	}

	start := time.Now()
	if err := c.link.WritePosition(ctx, id, target, speed, c.params.Accel); err != nil {
		return Result{}, errors.Wrapf(err, "move %s to position %d", j.Name, target)
	}
	c.state.setTarget(id, target, true)

	deadline := start.Add(c.params.MoveTimeout.Duration)
	var pos int
	for {
		if err := sleep(ctx, c.params.PollInterval.Duration); err != nil {
			return Result{}, err
		}
		pos, err = c.link.ReadPosition(ctx, id)
		if err != nil {
			return Result{}, errors.Wrapf(err, "read position of %s during movement", j.Name)
		}
		l.Debugf("position %d, target %d", pos, target)
		if abs(pos-target) < c.params.Tolerance {
			break
		}
		if time.Now().After(deadline) {
			return Result{Joint: j, Target: target, StartPosition: startPos, EndPosition: pos, Duration: time.Since(start), Temperature: Unknown},
				errors.Wrapf(ErrMoveTimeout, "%s stuck at %d, target %d", j.Name, pos, target)
		}
	}
	elapsed := time.Since(start)
	c.state.setTarget(id, target, false)

	return Result{
		Joint:         j,
		Target:        target,
		StartPosition: startPos,
		EndPosition:   pos,
		Duration:      elapsed,
		Temperature:   c.temperature(ctx, j),
		Message:       fmt.Sprintf("Moved %s to %d", j.Name, pos),
	}, nil
}

// Stop holds a joint at its current position.
func (c *Controller) Stop(ctx context.Context, id robot.JointID) (Result, error) {
	j, _, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}

	pos, err := c.link.ReadPosition(ctx, id)
	if err != nil {
		return Result{}, errors.Wrapf(err, "failed to read position for %s", j.Name)
	}
	// The servo has no stop instruction; a goal equal to the present position holds it.
	if err := c.link.WritePosition(ctx, id, pos, 0, 0); err != nil {
		return Result{}, errors.Wrapf(err, "failed to stop %s", j.Name)
	}
	c.state.setTarget(id, pos, false)
	logger.WithField("joint", j.Name).Debugf("stopped at %d", pos)

	return Result{
		Joint:       j,
		Target:      pos,
		EndPosition: pos,
		Message:     fmt.Sprintf("Stopped %s", j.Name),
	}, nil
}

// StopAll stops every calibrated joint in ID order and gives up at the first
// failure.
func (c *Controller) StopAll(ctx context.Context) (Result, error) {
	ids := c.Calibration().IDs()
	for _, id := range ids {
		if _, err := c.Stop(ctx, id); err != nil {
			return Result{}, errors.Wrapf(err, "stop_all aborted at motor %d", id)
		}
	}
	return Result{Message: "All motors stopped"}, nil
}

// ToggleDirection flips a toggle flag and returns its new value.
func (c *Controller) ToggleDirection(f Flag) robot.Direction {
	return c.state.flip(f)
}

// ToggleFlag returns the flag used by a joint's toggle command.
func ToggleFlag(id robot.JointID) (Flag, bool) {
	switch id {
	case robot.Hand:
		return WristFlag, true
	case robot.Thumb:
		return ThumbFlag, true
	}
	return 0, false
}

// Toggle flips the joint's toggle flag and jogs it in the new direction, so
// repeated calls alternate between opening and closing.
func (c *Controller) Toggle(ctx context.Context, id robot.JointID, speed int) (Result, error) {
	j, _, err := c.lookup(id)
	if err != nil {
		return Result{}, err
	}
	f, ok := ToggleFlag(id)
	if !ok {
		return Result{}, errors.Wrap(ErrNotToggleable, j.Name)
	}
	return c.Jog(ctx, id, c.ToggleDirection(f), speed)
}

// Home moves every calibrated joint to its midpoint and waits for the arm to
// settle. Failed writes are logged and returned together after the others
// were attempted.
func (c *Controller) Home(ctx context.Context) error {
	cal := c.Calibration()
	var errs error
	for _, id := range cal.IDs() {
		e := cal[id]
		mid := e.Midpoint()
		if err := c.link.WritePosition(ctx, id, mid, c.params.HomeSpeed, c.params.HomeAccel); err != nil {
			logger.WithField("joint", e.Name).Warnf("failed to home: %v", err)
			errs = multierr.Append(errs, errors.Wrapf(err, "home %s", e.Name))
			continue
		}
		c.state.setTarget(id, mid, false)
	}
	if err := sleep(ctx, c.params.HomeSettle.Duration); err != nil {
		return multierr.Append(errs, err)
	}
	return errs
}

func (c *Controller) temperature(ctx context.Context, j robot.Joint) int {
	t, err := c.link.ReadTemperature(ctx, j.ID)
	if err != nil {
		logger.WithField("joint", j.Name).Debugf("failed to read temperature: %v", err)
		return Unknown
	}
	return t
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
