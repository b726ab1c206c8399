// Package sts drives Feetech STS servos through a feetech bus and exposes
// them as a robot.Link.
package sts

import (
	"context"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
)

var logger = log.WithFields(log.Fields{
	"pkg": "sts",
})

const signBit = 15

// Bus is a half-duplex STS servo bus. It implements robot.LinkCloser.
type Bus struct {
	bus *feetech.Bus
}

var _ robot.LinkCloser = (*Bus)(nil)

// Open opens the serial port described by cfg.
func Open(cfg robot.SerialConfig) (*Bus, error) {
	cfg = cfg.WithDefaults()
	if cfg.Port == "" {
		return nil, errors.New("serial port is required")
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  cfg.Timeout.Duration,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Port)
	}

	logger.WithFields(log.Fields{
		"port": cfg.Port,
		"baud": cfg.BaudRate,
	}).Info("servo bus open")

	return &Bus{bus: bus}, nil
}

// NewBus wraps a transport that is already open.
func NewBus(t feetech.Transport, timeout time.Duration) (*Bus, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Transport: t,
		Protocol:  feetech.ProtocolSTS,
		Timeout:   timeout,
	})
	if err != nil {
		return nil, err
	}
	return &Bus{bus: bus}, nil
}

// Close closes the underlying port.
func (b *Bus) Close() error {
	return b.bus.Close()
}

func (b *Bus) servo(id robot.JointID) *feetech.Servo {
	return feetech.NewServo(b.bus, int(id), nil)
}

// Ping checks that a servo answers.
func (b *Bus) Ping(ctx context.Context, id robot.JointID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := b.bus.Ping(ctx, int(id))
	return err
}

// ReadPosition returns the present position of a servo.
func (b *Bus) ReadPosition(ctx context.Context, id robot.JointID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	data, err := b.bus.ReadRegister(ctx, int(id), feetech.RegPresentPosition.Address, feetech.RegPresentPosition.Size)
	if err != nil {
		return 0, errors.Wrapf(err, "servo %d: read position", id)
	}
	return decodeSigned(b.bus.Protocol().DecodeWord(data)), nil
}

// WritePosition sets acceleration, goal position and goal speed in one write.
func (b *Bus) WritePosition(ctx context.Context, id robot.JointID, position, speed, accel int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := posExData(b.bus.Protocol(), position, speed, accel)
	logger.WithField("joint", id).Debugf("tx goal %d speed %d accel %d: % X", position, speed, accel, data)
	if err := b.bus.WriteRegister(ctx, int(id), feetech.RegAcceleration.Address, data); err != nil {
		return errors.Wrapf(err, "servo %d: write position %d", id, position)
	}
	return nil
}

// ReadTemperature returns the present temperature of a servo.
func (b *Bus) ReadTemperature(ctx context.Context, id robot.JointID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	temp, err := b.servo(id).Temperature(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "servo %d: read temperature", id)
	}
	return temp, nil
}

// SetTorque enables or disables holding torque.
func (b *Bus) SetTorque(ctx context.Context, id robot.JointID, enable bool) error {
	return b.servo(id).SetTorqueEnabled(ctx, enable)
}

// posExData encodes acceleration, goal position, goal time and goal speed as
// one contiguous block starting at the acceleration register.
func posExData(p *feetech.Protocol, position, speed, accel int) []byte {
	data := make([]byte, 0, 7)
	data = append(data, byte(clamp(accel, 0, 0xFF)))
	data = append(data, p.EncodeWord(encodeSigned(position))...)
	data = append(data, p.EncodeWord(0)...)
	return append(data, p.EncodeWord(uint16(clamp(speed, 0, 0x7FFF)))...)
}

// encodeSigned stores a value in sign-magnitude form with the sign in bit 15.
func encodeSigned(v int) uint16 {
	if v < 0 {
		return uint16(-v) | 1<<signBit
	}
	return uint16(v)
}

func decodeSigned(v uint16) int {
	if v&(1<<signBit) != 0 {
		return -int(v &^ (1 << signBit))
	}
	return int(v)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
