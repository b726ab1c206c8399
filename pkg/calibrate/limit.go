// Package calibrate discovers the mechanical range of each joint by driving it
// into its end stops and watching for a stall.
package calibrate

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
)

var logger = log.WithFields(log.Fields{
	"pkg": "calibrate",
})

// ErrStallTimeout means a joint kept moving for longer than the sample bound.
var ErrStallTimeout = errors.New("joint did not stall")

// Params tunes calibration.
type Params struct {
	Speed          int            `json:"speed,omitempty"`
	Accel          int            `json:"accel,omitempty"`
	Backoff        int            `json:"backoff,omitempty"`
	Settle         robot.Duration `json:"settle,omitempty"`
	PollInterval   robot.Duration `json:"poll_interval,omitempty"`
	StallThreshold int            `json:"stall_threshold,omitempty"`
	MaxSamples     int            `json:"max_samples,omitempty"`
}

// DefaultParams returns the settings used on real hardware.
func DefaultParams() Params {
	return Params{
		Speed:          300,
		Accel:          50,
		Backoff:        50,
		Settle:         robot.Duration{Duration: 2 * time.Second},
		PollInterval:   robot.Duration{Duration: 100 * time.Millisecond},
		StallThreshold: 2,
		MaxSamples:     100,
	}
}

// WithDefaults fills unset fields from DefaultParams.
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Speed <= 0 {
		p.Speed = d.Speed
	}
	if p.Accel <= 0 {
		p.Accel = d.Accel
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	if p.Settle.Duration <= 0 {
		p.Settle = d.Settle
	}
	if p.PollInterval.Duration <= 0 {
		p.PollInterval = d.PollInterval
	}
	if p.StallThreshold <= 0 {
		p.StallThreshold = d.StallThreshold
	}
	if p.MaxSamples <= 0 {
		p.MaxSamples = d.MaxSamples
	}
	return p
}

// LimitFinder detects when a joint driven toward an end stop stops moving.
type LimitFinder struct {
	link   robot.Link
	params Params
}

// NewLimitFinder returns a finder using link.
func NewLimitFinder(link robot.Link, params Params) *LimitFinder {
	return &LimitFinder{link: link, params: params.WithDefaults()}
}

// FindLimit drives a joint toward the encoder extreme in dir and returns the
// position where it stalls.
func (f *LimitFinder) FindLimit(ctx context.Context, id robot.JointID, dir robot.Direction) (int, error) {
	if !dir.Valid() {
		return 0, errors.Wrapf(robot.ErrInvalidDirection, "%d", dir)
	}

	target := dir.Extreme()
	if err := f.link.WritePosition(ctx, id, target, f.params.Speed, f.params.Accel); err != nil {
		// The joint may still be moving from the previous command; keep watching.
		logger.WithField("joint", id).Warnf("drive to %d failed: %v", target, err)
	}

	return f.WaitForStall(ctx, id)
}

// WaitForStall samples the position every poll interval until two
// consecutive samples differ by no more than the stall threshold.
func (f *LimitFinder) WaitForStall(ctx context.Context, id robot.JointID) (int, error) {
	last, err := f.link.ReadPosition(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "stall detection")
	}
	if err := sleep(ctx, f.params.PollInterval.Duration); err != nil {
		return 0, err
	}
	current, err := f.link.ReadPosition(ctx, id)
	if err != nil {
		return 0, errors.Wrap(err, "stall detection")
	}

	for samples := 2; abs(current-last) > f.params.StallThreshold; samples++ {
		if samples >= f.params.MaxSamples {
			return current, errors.Wrapf(ErrStallTimeout, "joint %d after %d samples", id, samples)
		}
		last = current
		if err := sleep(ctx, f.params.PollInterval.Duration); err != nil {
			return 0, err
		}
		current, err = f.link.ReadPosition(ctx, id)
		if err != nil {
			return 0, errors.Wrap(err, "stall detection")
		}
	}

	return current, nil
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
