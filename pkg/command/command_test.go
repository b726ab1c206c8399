package command

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/armctl/pkg/motion"
	"github.com/gwillem/armctl/pkg/robot"
)

func TestDecode(t *testing.T) {
	wrist := robot.MustJoint(robot.Wrist)
	hand := robot.MustJoint(robot.Hand)

	tests := []struct {
		name string
		json string
		want Command
	}{
		{"move inc", `{"command":"move","motor":"wrist","direction":"inc"}`, Move{Joint: wrist, Direction: robot.Increase}},
		{"move up", `{"command":"move","motor":"wrist","direction":"up","speed":300}`, Move{Joint: wrist, Direction: robot.Decrease, Speed: 300}},
		{"move right", `{"command":"move","motor":"wrist","direction":"right"}`, Move{Joint: wrist, Direction: robot.Increase}},
		{"move_limit down", `{"command":"move_limit","motor":"hand","direction":"down"}`, MoveLimit{Joint: hand, Direction: robot.Increase}},
		{"move_to", `{"command":"move_to","motor":"wrist","position":5000}`, MoveTo{Joint: wrist, Position: 5000}},
		{"toggle", `{"command":"toggle","motor":"hand"}`, Toggle{Joint: hand}},
		{"stop", `{"command":"stop","motor":"hand"}`, Stop{Joint: hand}},
		{"stop_all", `{"command":"stop_all"}`, StopAll{}},
		{"home", `{"command":"home"}`, Home{}},
		{"status", `{"command":"status"}`, Status{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.json))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"invalid json", `{"command":`, ErrInvalidRequest},
		{"missing command", `{}`, ErrInvalidRequest},
		{"unknown command", `{"command":"dance"}`, ErrUnknownCommand},
		{"unknown motor", `{"command":"stop","motor":"tail"}`, ErrUnknownMotor},
		{"missing motor", `{"command":"move","direction":"inc"}`, ErrInvalidRequest},
		{"bad direction", `{"command":"move","motor":"base","direction":"sideways"}`, robot.ErrInvalidDirection},
		{"missing position", `{"command":"move_to","motor":"base"}`, ErrInvalidRequest},
		{"negative speed", `{"command":"move","motor":"base","direction":"inc","speed":-5}`, ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.json))
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestDecode_InvalidJSONMessage(t *testing.T) {
	_, err := Decode([]byte("nope"))
	resp := Failure(err)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "invalid JSON")
}

func TestRequest_RoundTrip(t *testing.T) {
	cmds := []Command{
		Move{Joint: robot.MustJoint(robot.Base), Direction: robot.Decrease, Speed: 100},
		MoveLimit{Joint: robot.MustJoint(robot.Elbow), Direction: robot.Increase},
		MoveTo{Joint: robot.MustJoint(robot.Thumb), Position: 2100, Speed: 200},
		Toggle{Joint: robot.MustJoint(robot.Thumb)},
		Stop{Joint: robot.MustJoint(robot.Shoulder)},
		StopAll{},
		Home{},
		Status{},
	}
	for _, c := range cmds {
		data, err := json.Marshal(c.Request())
		require.NoError(t, err)
		got, err := Decode(data)
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
}

func TestResponse_JSON(t *testing.T) {
	res := motion.Result{
		Target:        3000,
		StartPosition: 2048,
		EndPosition:   2998,
		Duration:      1234567 * time.Microsecond,
		Temperature:   31,
		Message:       "Moved wrist to 2998",
	}

	data, err := json.Marshal(fromResult(MoveTo{}, res))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"message": "Moved wrist to 2998",
		"start_position": 2048,
		"end_position": 2998,
		"duration": 1234.6,
		"temp": 31,
		"target": 3000
	}`, string(data))

	data, err = json.Marshal(fromResult(Stop{}, motion.Result{EndPosition: 2000, Message: "Stopped wrist"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"message":"Stopped wrist","end_position":2000}`, string(data))

	data, err = json.Marshal(Failure(errors.New("boom")))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"message":"boom"}`, string(data))
}

func TestResponse_Position(t *testing.T) {
	end, target := motion.Unknown, 3000
	pos, ok := Response{EndPosition: &end, Target: &target}.Position()
	assert.True(t, ok)
	assert.Equal(t, 3000, pos)

	_, ok = Response{}.Position()
	assert.False(t, ok)
}
