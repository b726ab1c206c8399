package robot

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllJoints(t *testing.T) {
	joints := AllJoints()
	names := []string{"base", "shoulder", "elbow", "wrist", "hand", "thumb"}

	require.Len(t, joints, len(names))
	for i, j := range joints {
		assert.Equal(t, JointID(i+1), j.ID)
		assert.Equal(t, names[i], j.Name)
		assert.Less(t, j.DefaultMin, j.DefaultMax)
	}
}

func TestAllJoints_ReturnsCopy(t *testing.T) {
	joints := AllJoints()
	joints[0].Name = "changed"

	j, _ := JointByID(Base)
	assert.Equal(t, "base", j.Name)
}

func TestJointLookup(t *testing.T) {
	j, ok := JointByName("thumb")
	require.True(t, ok)
	assert.Equal(t, Thumb, j.ID)
	assert.Equal(t, 2274, j.DefaultMidpoint())

	_, ok = JointByName("tail")
	assert.False(t, ok)

	_, ok = JointByID(7)
	assert.False(t, ok)

	hand := MustJoint(Hand)
	assert.Equal(t, EncoderMin, hand.DefaultMin)
	assert.Equal(t, EncoderMax, hand.DefaultMax)
}

func TestIsCandidatePort(t *testing.T) {
	tests := []struct {
		port string
		ok   bool
	}{
		{"/dev/ttyACM0", true},
		{"/dev/ttyUSB1", true},
		{"/dev/tty.usbmodem5A7A0594021", true},
		{"/dev/cu.usbserial-1420", true},
		{"COM3", true},
		{"/dev/ttyS0", false},
		{"/dev/tty.Bluetooth-Incoming-Port", false},
	}

	for _, tt := range tests {
		if got := IsCandidatePort(tt.port); got != tt.ok {
			t.Errorf("IsCandidatePort(%q) = %v, want %v", tt.port, got, tt.ok)
		}
	}
}

func TestPickSingle(t *testing.T) {
	_, err := pickSingle(nil)
	assert.True(t, errors.Is(err, ErrNoArm))

	port, err := pickSingle([]PortInfo{{Name: "/dev/ttyACM0"}})
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyACM0", port)

	_, err = pickSingle([]PortInfo{{Name: "/dev/ttyACM0"}, {Name: "/dev/ttyACM1"}})
	assert.True(t, errors.Is(err, ErrMultipleArms))
	assert.Contains(t, err.Error(), "/dev/ttyACM1")
}

func TestIsArm(t *testing.T) {
	assert.True(t, isArm([]int{1, 2, 3, 4, 5, 6}))
	assert.False(t, isArm([]int{1, 2, 3, 4, 5}))
	assert.False(t, isArm([]int{1, 2, 3, 4, 5, 7}))
}

func TestDuration_JSON(t *testing.T) {
	var cfg SerialConfig
	require.NoError(t, json.Unmarshal([]byte(`{"port": "/dev/ttyACM0", "timeout": "250ms"}`), &cfg))
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout.Duration)

	require.NoError(t, json.Unmarshal([]byte(`{"timeout": 50}`), &cfg))
	assert.Equal(t, 50*time.Millisecond, cfg.Timeout.Duration)

	assert.Error(t, json.Unmarshal([]byte(`{"timeout": "soon"}`), &cfg))

	data, err := json.Marshal(Duration{2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(data))

	cfg = SerialConfig{}.WithDefaults()
	assert.Equal(t, DefaultBaudRate, cfg.BaudRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Timeout.Duration)
}
