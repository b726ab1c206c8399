package sts

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/armctl/pkg/robot"
)

var proto = feetech.NewProtocol(feetech.ProtocolSTS)

// status builds a status packet with the given error byte and parameters.
func status(id, errByte byte, params ...byte) []byte {
	return proto.Encode(feetech.Packet{ID: id, Instruction: errByte, Parameters: params})
}

// replying returns a transport that hands out one queued reply per read.
func replying(replies ...[]byte) *feetech.MockTransport {
	m := &feetech.MockTransport{}
	m.ReadFunc = func(p []byte) (int, error) {
		if len(replies) == 0 {
			return 0, io.EOF
		}
		n := copy(p, replies[0])
		replies = replies[1:]
		return n, nil
	}
	return m
}

func newTestBus(t *testing.T, m *feetech.MockTransport, timeout time.Duration) *Bus {
	t.Helper()
	bus, err := NewBus(m, timeout)
	require.NoError(t, err)
	return bus
}

func TestPosExData(t *testing.T) {
	assert.Equal(t, []byte{50, 0x00, 0x08, 0, 0, 0xF4, 0x01}, posExData(proto, 2048, 500, 50))

	data := posExData(proto, -5, -3, 1000)
	assert.Equal(t, byte(0xFF), data[0])
	assert.Equal(t, []byte{0x05, 0x80}, data[1:3])
	assert.Equal(t, []byte{0, 0}, data[5:7])
}

func TestSignedEncoding(t *testing.T) {
	for _, v := range []int{0, 1, 2048, 4095, -1, -300} {
		assert.Equal(t, v, decodeSigned(encodeSigned(v)), "value %d", v)
	}
	assert.Equal(t, uint16(0x8005), encodeSigned(-5))
}

func TestBus_WritePosition(t *testing.T) {
	m := replying(status(4, 0))
	bus := newTestBus(t, m, 50*time.Millisecond)

	require.NoError(t, bus.WritePosition(context.Background(), robot.Wrist, 2048, 500, 50))
	assert.Equal(t, []byte{0xFF, 0xFF, 0x04, 0x0A, 0x03, 0x29, 0x32, 0x00, 0x08, 0x00, 0x00, 0xF4, 0x01, 0x96}, m.WriteData)
}

func TestBus_ReadPosition(t *testing.T) {
	m := replying(status(1, 0, 0x00, 0x08))
	bus := newTestBus(t, m, 50*time.Millisecond)

	pos, err := bus.ReadPosition(context.Background(), robot.Base)
	require.NoError(t, err)
	assert.Equal(t, 2048, pos)
	assert.Equal(t, proto.ReadPacket(1, feetech.RegPresentPosition.Address, 2), m.WriteData)
}

func TestBus_ReadNegativePosition(t *testing.T) {
	bus := newTestBus(t, replying(status(2, 0, 0x05, 0x80)), 50*time.Millisecond)

	pos, err := bus.ReadPosition(context.Background(), robot.Shoulder)
	require.NoError(t, err)
	assert.Equal(t, -5, pos)
}

func TestBus_SkipsLeadingNoise(t *testing.T) {
	reply := append([]byte{0x00, 0x13, 0xFF, 0x42}, status(2, 0, 0x10, 0x04)...)
	bus := newTestBus(t, replying(reply), 50*time.Millisecond)

	pos, err := bus.ReadPosition(context.Background(), robot.Shoulder)
	require.NoError(t, err)
	assert.Equal(t, 1040, pos)
}

func TestBus_ReadTemperature(t *testing.T) {
	m := replying(status(6, 0, 37))
	bus := newTestBus(t, m, 50*time.Millisecond)

	temp, err := bus.ReadTemperature(context.Background(), robot.Thumb)
	require.NoError(t, err)
	assert.Equal(t, 37, temp)
	assert.Equal(t, proto.ReadPacket(6, feetech.RegPresentTemp.Address, 1), m.WriteData)
}

func TestBus_Ping(t *testing.T) {
	bus := newTestBus(t, replying(status(3, 0), status(3, 0, 0x09, 0x03)), 50*time.Millisecond)
	assert.NoError(t, bus.Ping(context.Background(), robot.Elbow))
}

func TestBus_NoResponse(t *testing.T) {
	bus := newTestBus(t, replying(), 20*time.Millisecond)

	err := bus.Ping(context.Background(), robot.Elbow)
	assert.True(t, errors.Is(err, feetech.ErrNoResponse), "got %v", err)
}

func TestBus_ChecksumMismatch(t *testing.T) {
	reply := status(3, 0, 0x00, 0x08)
	reply[len(reply)-1]++
	bus := newTestBus(t, replying(reply), 20*time.Millisecond)

	_, err := bus.ReadPosition(context.Background(), robot.Elbow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestBus_ServoErrorStatus(t *testing.T) {
	bus := newTestBus(t, replying(status(5, 0x20)), 20*time.Millisecond)

	err := bus.WritePosition(context.Background(), robot.Hand, 100, 0, 0)
	assert.True(t, errors.Is(err, feetech.ErrOverload), "got %v", err)
}

func TestBus_CancelledContext(t *testing.T) {
	m := replying(status(1, 0, 0x00, 0x08))
	bus := newTestBus(t, m, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.ReadPosition(ctx, robot.Base)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	assert.Empty(t, m.WriteData)
}

func TestBus_Close(t *testing.T) {
	m := replying()
	require.NoError(t, newTestBus(t, m, 0).Close())
	assert.True(t, m.Closed)
}
