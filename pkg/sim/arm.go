// Package sim provides a simulated arm that implements robot.Link.
//
// Each position read advances a servo one step toward its goal, and servos
// stop at their mechanical limits, so a limit search sees a real stall.
package sim

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
)

var logger = log.WithFields(log.Fields{
	"pkg": "sim",
})

// ErrInjected is the default error returned by injected failures.
var ErrInjected = errors.New("injected bus failure")

// DefaultStep is how far a servo moves per position read.
const DefaultStep = 40

// Servo is the simulated state of one servo.
type Servo struct {
	Position    int
	Goal        int
	Speed       int
	Accel       int
	MechMin     int
	MechMax     int
	Temperature int

	oscillate int
	flip      bool
}

// Write records one position write.
type Write struct {
	ID       robot.JointID
	Position int
	Speed    int
	Accel    int
}

type fault struct {
	err   error
	after int // successful calls before failing
}

// Arm is a simulated six-servo arm.
type Arm struct {
	mu     sync.Mutex
	servos map[robot.JointID]*Servo
	step   int

	readFaults  map[robot.JointID]*fault
	writeFaults map[robot.JointID]*fault
	tempFaults  map[robot.JointID]error

	writes []Write
	reads  map[robot.JointID]int
	closed bool
}

var _ robot.LinkCloser = (*Arm)(nil)

// Default mechanical limits, narrower than the encoder domain like a real arm.
var defaultLimits = map[robot.JointID][2]int{
	robot.Base:     {210, 3880},
	robot.Shoulder: {700, 3400},
	robot.Elbow:    {640, 3460},
	robot.Wrist:    {520, 3600},
	robot.Hand:     {1500, 2840},
	robot.Thumb:    {1820, 2900},
}

// New returns an arm with every joint parked at 2048.
func New() *Arm {
	a := &Arm{
		servos:      make(map[robot.JointID]*Servo),
		step:        DefaultStep,
		readFaults:  make(map[robot.JointID]*fault),
		writeFaults: make(map[robot.JointID]*fault),
		tempFaults:  make(map[robot.JointID]error),
		reads:       make(map[robot.JointID]int),
	}
	for _, j := range robot.AllJoints() {
		lim := defaultLimits[j.ID]
		a.servos[j.ID] = &Servo{
			Position:    2048,
			Goal:        2048,
			MechMin:     lim[0],
			MechMax:     lim[1],
			Temperature: 31,
		}
	}
	return a
}

// SetStep changes how far servos move per position read.
func (a *Arm) SetStep(step int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.step = step
}

// SetMechanicalLimits sets where a servo physically stalls.
func (a *Arm) SetMechanicalLimits(id robot.JointID, min, max int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.servo(id)
	s.MechMin, s.MechMax = min, max
	s.Position = clamp(s.Position, min, max)
	s.Goal = s.Position
}

// SetPosition teleports a servo.
func (a *Arm) SetPosition(id robot.JointID, pos int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.servo(id)
	s.Position, s.Goal = pos, pos
}

// SetTemperature sets the reported temperature.
func (a *Arm) SetTemperature(id robot.JointID, temp int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servo(id).Temperature = temp
}

// Oscillate makes a servo jitter by amplitude on every read so it never
// settles.
func (a *Arm) Oscillate(id robot.JointID, amplitude int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.servo(id).oscillate = amplitude
}

// FailReads makes position reads of a servo fail after `after` more successes.
func (a *Arm) FailReads(id robot.JointID, after int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	a.readFaults[id] = &fault{err: err, after: after}
}

// FailWrites makes writes to a servo fail after `after` more successes.
func (a *Arm) FailWrites(id robot.JointID, after int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	a.writeFaults[id] = &fault{err: err, after: after}
}

// FailTemperature makes temperature reads of a servo fail.
func (a *Arm) FailTemperature(id robot.JointID, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		err = ErrInjected
	}
	a.tempFaults[id] = err
}

// Heal removes all injected failures of a servo.
func (a *Arm) Heal(id robot.JointID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.readFaults, id)
	delete(a.writeFaults, id)
	delete(a.tempFaults, id)
}

// Position returns the simulated position without advancing motion.
func (a *Arm) Position(id robot.JointID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.servo(id).Position
}

// Servo returns a copy of the simulated servo state.
func (a *Arm) Servo(id robot.JointID) Servo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return *a.servo(id)
}

// Writes returns every position write in order.
func (a *Arm) Writes() []Write {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Write, len(a.writes))
	copy(out, a.writes)
	return out
}

// WritesTo returns the position writes sent to one servo.
func (a *Arm) WritesTo(id robot.JointID) []Write {
	var out []Write
	for _, w := range a.Writes() {
		if w.ID == id {
			out = append(out, w)
		}
	}
	return out
}

// Reads returns how many position reads a servo has served.
func (a *Arm) Reads(id robot.JointID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads[id]
}

// ReadPosition advances the servo one step and returns its position.
func (a *Arm) ReadPosition(ctx context.Context, id robot.JointID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.servos[id]
	if !ok {
		return 0, errors.Errorf("servo %d not on bus", id)
	}
	if err := trip(a.readFaults[id]); err != nil {
		return 0, err
	}

	a.reads[id]++
	a.advance(s)
	return s.Position, nil
}

// WritePosition sets the goal of a servo.
func (a *Arm) WritePosition(ctx context.Context, id robot.JointID, position, speed, accel int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.servos[id]
	if !ok {
		return errors.Errorf("servo %d not on bus", id)
	}
	if err := trip(a.writeFaults[id]); err != nil {
		return err
	}

	a.writes = append(a.writes, Write{ID: id, Position: position, Speed: speed, Accel: accel})
	s.Goal = clamp(position, robot.EncoderMin, robot.EncoderMax)
	s.Speed, s.Accel = speed, accel
	logger.WithField("joint", id).Debugf("goal %d speed %d", position, speed)
	return nil
}

// ReadTemperature returns the simulated temperature.
func (a *Arm) ReadTemperature(ctx context.Context, id robot.JointID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.servos[id]
	if !ok {
		return 0, errors.Errorf("servo %d not on bus", id)
	}
	if err := a.tempFaults[id]; err != nil {
		return 0, err
	}
	return s.Temperature, nil
}

// Close marks the arm closed.
func (a *Arm) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return nil
}

// Closed reports whether Close was called.
func (a *Arm) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Arm) servo(id robot.JointID) *Servo {
	s, ok := a.servos[id]
	if !ok {
		panic(errors.Errorf("servo %d not on bus", id))
	}
	return s
}

func (a *Arm) advance(s *Servo) {
	if s.oscillate != 0 {
		s.flip = !s.flip
		if s.flip {
			s.Position += s.oscillate
		} else {
			s.Position -= s.oscillate
		}
		return
	}

	goal := clamp(s.Goal, s.MechMin, s.MechMax)
	diff := goal - s.Position
	switch {
	case diff > a.step:
		s.Position += a.step
	case diff < -a.step:
		s.Position -= a.step
	default:
		s.Position = goal
	}
}

func trip(f *fault) error {
	if f == nil {
		return nil
	}
	if f.after > 0 {
		f.after--
		return nil
	}
	return f.err
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
