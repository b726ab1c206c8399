package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/robot"
)

func TestSendCommand_Request(t *testing.T) {
	var c SendCommand
	c.Args.Command = "move_to"
	c.Args.Motor = "wrist"
	c.Args.Value = "2100"
	c.Speed = 200

	req, err := c.request()
	require.NoError(t, err)
	require.NotNil(t, req.Position)
	assert.Equal(t, 2100, *req.Position)

	cmd, err := command.Parse(req)
	require.NoError(t, err)
	assert.Equal(t, command.MoveTo{Joint: robot.MustJoint(robot.Wrist), Position: 2100, Speed: 200}, cmd)
}

func TestSendCommand_RequestDirection(t *testing.T) {
	var c SendCommand
	c.Args.Command = "move_limit"
	c.Args.Motor = "thumb"
	c.Args.Value = "dec"

	req, err := c.request()
	require.NoError(t, err)
	assert.Equal(t, "dec", req.Direction)
	assert.Nil(t, req.Position)
}

func TestSendCommand_RequestErrors(t *testing.T) {
	var c SendCommand
	_, err := c.request()
	assert.Error(t, err)

	c.Args.Command = "move_to"
	c.Args.Motor = "wrist"
	c.Args.Value = "far"
	_, err = c.request()
	assert.Error(t, err)
}

func TestRenderPorts(t *testing.T) {
	out := renderPorts([]robot.PortInfo{
		{Name: "/dev/ttyACM0", Product: "USB Single Serial", Servos: []int{1, 2, 3, 4, 5, 6}},
		{Name: "/dev/ttyUSB0"},
	}, "/dev/ttyACM0")
	assert.Contains(t, out, "/dev/ttyACM0 *")
	assert.Contains(t, out, "1,2,3,4,5,6")
	assert.Contains(t, out, "/dev/ttyUSB0")
}
