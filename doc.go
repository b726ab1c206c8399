// Package armctl controls a six-servo robot arm (base, shoulder, elbow, wrist,
// hand and thumb) on a Feetech STS bus.
//
// At startup the arm finds each joint's mechanical limits by driving it until
// it stalls, stores them in a calibration file and moves to the midpoints.
// After that a line-delimited JSON command service accepts motion commands,
// executes them strictly in order and answers each with a result.
//
// # Installation
//
//	go install github.com/gwillem/armctl/cmd/armctl@latest
//
// # Usage
//
// Start the service, calibrating first if no calibration file exists:
//
//	armctl serve --websocket :8000
//
// Then send commands, or jog the arm from the keyboard:
//
//	armctl send move_to wrist 2048
//	armctl jog
//
// # Packages
//
//   - cmd/armctl: CLI with serve, calibrate, send, exercise, jog, relay and ports
//   - pkg/robot: joints, calibration store, motor link and port discovery
//   - pkg/sts: Feetech STS wire protocol over a serial port
//   - pkg/sim: simulated arm for tests and --simulate
//   - pkg/calibrate: stall-based limit finder and calibration orchestrator
//   - pkg/motion: motion controller and arm state
//   - pkg/command: command protocol, dispatcher and FIFO queue
//   - pkg/server: TCP command service and client
//   - pkg/relay: WebSocket relay for browsers
//   - pkg/events: event bus and MQTT bridge
//   - pkg/service: configuration and wiring
//   - pkg/teleop: keyboard jogging loop
package armctl
