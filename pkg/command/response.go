package command

import (
	"math"

	"github.com/gwillem/armctl/pkg/motion"
	"github.com/gwillem/armctl/pkg/robot"
)

// Response is the JSON reply to a command. Optional fields are present only
// when the command measured them.
type Response struct {
	Success       bool          `json:"success"`
	Message       string        `json:"message"`
	StartPosition *int          `json:"start_position,omitempty"`
	EndPosition   *int          `json:"end_position,omitempty"`
	Duration      *float64      `json:"duration,omitempty"`
	Temp          *int          `json:"temp,omitempty"`
	Target        *int          `json:"target,omitempty"`
	Status        *StatusReport `json:"status,omitempty"`
}

// StatusReport is the body of a status response.
type StatusReport struct {
	Calibration robot.Calibration `json:"calibration"`
	State       motion.Snapshot   `json:"state"`
	Queued      int               `json:"queued"`
}

// Failure turns an error into a failed response.
func Failure(err error) Response {
	return Response{Success: false, Message: err.Error()}
}

// Succeeded returns a successful response with only a message.
func Succeeded(msg string) Response {
	return Response{Success: true, Message: msg}
}

func fromResult(c Command, r motion.Result) Response {
	resp := Succeeded(r.Message)
	switch c.(type) {
	case Move, Toggle:
		resp.Target = intPtr(r.Target)
	case MoveLimit:
		resp.Target = intPtr(r.Target)
		resp.EndPosition = intPtr(r.EndPosition)
		resp.Duration = millis(r)
		resp.Temp = intPtr(r.Temperature)
	case MoveTo:
		resp.Target = intPtr(r.Target)
		resp.StartPosition = intPtr(r.StartPosition)
		resp.EndPosition = intPtr(r.EndPosition)
		resp.Duration = millis(r)
		resp.Temp = intPtr(r.Temperature)
	case Stop:
		resp.EndPosition = intPtr(r.EndPosition)
	}
	return resp
}

// Position returns the position a response reports, preferring the measured
// end position over the commanded target.
func (r Response) Position() (int, bool) {
	if r.EndPosition != nil && *r.EndPosition != motion.Unknown {
		return *r.EndPosition, true
	}
	if r.Target != nil {
		return *r.Target, true
	}
	return 0, false
}

func intPtr(v int) *int {
	return &v
}

// millis reports the duration in milliseconds with one decimal.
func millis(r motion.Result) *float64 {
	ms := math.Round(float64(r.Duration.Microseconds())/100) / 10
	return &ms
}
