package calibrate

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
)

// ErrCalibrationInProgress is returned when a second run starts before the
// first one finished.
var ErrCalibrationInProgress = errors.New("calibration already in progress")

// Phase is a step of a joint's calibration.
type Phase string

// Calibration phases, in order.
const (
	PhaseStart   Phase = "start"
	PhaseMinimum Phase = "minimum"
	PhaseMaximum Phase = "maximum"
	PhaseDone    Phase = "done"
)

// Progress reports a calibration step.
type Progress struct {
	Joint    robot.Joint
	Phase    Phase
	Position int
	Entry    robot.CalibrationEntry
	// Fallback is set when the nominal value was used instead of a stall.
	Fallback bool
}

// Orchestrator calibrates joints one after another and persists the result.
type Orchestrator struct {
	link   robot.Link
	finder *LimitFinder
	store  *robot.Store
	params Params
	joints []robot.Joint

	running atomic.Bool

	// OnProgress, if set, is called synchronously for every step.
	OnProgress func(Progress)
}

// NewOrchestrator returns an orchestrator for every joint in the catalogue.
func NewOrchestrator(link robot.Link, store *robot.Store, params Params) *Orchestrator {
	params = params.WithDefaults()
	return &Orchestrator{
		link:   link,
		finder: NewLimitFinder(link, params),
		store:  store,
		params: params,
		joints: robot.AllJoints(),
	}
}

// LoadOrRun loads the stored calibration and runs a full calibration when
// there is none. The second result reports whether calibration ran.
func (o *Orchestrator) LoadOrRun(ctx context.Context) (robot.Calibration, bool, error) {
	cal, err := o.store.Load()
	if err == nil {
		logger.WithField("path", o.store.Path()).Info("calibration loaded")
		return cal, false, nil
	}
	if !errors.Is(err, robot.ErrCalibrationNotFound) && !errors.Is(err, robot.ErrCalibrationCorrupt) {
		logger.Warnf("calibration unreadable, recalibrating: %v", err)
	} else {
		logger.Infof("no usable calibration (%v), calibrating", err)
	}

	cal, err = o.Run(ctx)
	return cal, true, err
}

// Run calibrates every joint and overwrites the stored calibration. When only
// saving fails, the fresh calibration is returned together with the error.
func (o *Orchestrator) Run(ctx context.Context) (robot.Calibration, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCalibrationInProgress
	}
	defer o.running.Store(false)

	cal := make(robot.Calibration, len(o.joints))
	for _, j := range o.joints {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cal[j.ID] = o.CalibrateJoint(ctx, j, cal)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := o.store.Save(cal); err != nil {
		return cal, errors.Wrap(err, "save calibration")
	}
	return cal, nil
}

// RunJoints recalibrates only the given joints and merges them into the
// stored calibration.
func (o *Orchestrator) RunJoints(ctx context.Context, ids ...robot.JointID) (robot.Calibration, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrCalibrationInProgress
	}
	defer o.running.Store(false)

	var merged robot.Calibration
	err := o.store.Update(func(cur robot.Calibration) (robot.Calibration, error) {
		cal := cur.Clone()
		for _, id := range ids {
			j, ok := robot.JointByID(id)
			if !ok {
				return nil, errors.Errorf("unknown joint id %d", id)
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			cal[id] = o.CalibrateJoint(ctx, j, cal)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		merged = cal
		return cal, nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// CalibrateJoint finds the range of one joint. known supplies the ranges of
// already calibrated joints, used to park the others out of the way. Command
// failures are logged and the nominal range fills in, so a result is always
// returned.
func (o *Orchestrator) CalibrateJoint(ctx context.Context, j robot.Joint, known robot.Calibration) robot.CalibrationEntry {
	l := logger.WithField("joint", j.Name)
	l.Infof("calibrating %s", j)
	o.report(Progress{Joint: j, Phase: PhaseStart})

	// The shoulder only reaches its end stops with the elbow retracted.
	if j.ID == robot.Shoulder {
		elbow, _ := known.Range(robot.MustJoint(robot.Elbow))
		o.write(ctx, robot.Elbow, elbow.Max)
		o.settle(ctx)
	}

	for _, other := range o.joints {
		if other.ID == j.ID {
			continue
		}
		r, _ := known.Range(other)
		o.write(ctx, other.ID, r.Midpoint())
	}
	o.settle(ctx)

	min, minFallback := o.findEnd(ctx, j, robot.Decrease, j.DefaultMin, l)
	l.Infof("calibrated minimum: %d", min)
	o.report(Progress{Joint: j, Phase: PhaseMinimum, Position: min, Fallback: minFallback})

	max, maxFallback := o.findEnd(ctx, j, robot.Increase, j.DefaultMax, l)
	l.Infof("calibrated maximum: %d", max)
	o.report(Progress{Joint: j, Phase: PhaseMaximum, Position: max, Fallback: maxFallback})

	entry := robot.CalibrationEntry{Min: min, Max: max, Name: j.Name}
	if err := entry.Validate(); err != nil {
		l.Warnf("rejecting calibrated range: %v; using nominal range", err)
		entry = j.DefaultEntry()
	}

	o.report(Progress{Joint: j, Phase: PhaseDone, Entry: entry})
	return entry
}

// findEnd moves to the nominal end, then searches for the stall beyond it and
// applies the backoff margin.
func (o *Orchestrator) findEnd(ctx context.Context, j robot.Joint, dir robot.Direction, nominal int, l *log.Entry) (int, bool) {
	o.write(ctx, j.ID, nominal)
	o.settle(ctx)

	pos, err := o.finder.FindLimit(ctx, j.ID, dir)
	if err != nil {
		l.Warnf("limit search toward %s failed, using initial value %d: %v", dir, nominal, err)
		return nominal, true
	}

	if dir == robot.Decrease {
		pos += o.params.Backoff
	} else {
		pos -= o.params.Backoff
	}
	return clampEncoder(pos), false
}

func (o *Orchestrator) write(ctx context.Context, id robot.JointID, pos int) {
	if err := o.link.WritePosition(ctx, id, pos, o.params.Speed, o.params.Accel); err != nil {
		logger.WithField("joint", id).Warnf("failed to move to position %d: %v", pos, err)
	}
}

func (o *Orchestrator) settle(ctx context.Context) {
	_ = sleep(ctx, o.params.Settle.Duration)
}

func (o *Orchestrator) report(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func clampEncoder(pos int) int {
	if pos < robot.EncoderMin {
		return robot.EncoderMin
	}
	if pos > robot.EncoderMax {
		return robot.EncoderMax
	}
	return pos
}
