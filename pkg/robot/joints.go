// Package robot provides the joint catalogue, calibration data and the motor
// link abstraction for a six-servo arm.
package robot

import "fmt"

// JointID is the servo ID of a joint on the bus.
type JointID int

// Joint IDs for the arm, matching servo IDs 1-6.
const (
	Base     JointID = 1
	Shoulder JointID = 2
	Elbow    JointID = 3
	Wrist    JointID = 4
	Hand     JointID = 5
	Thumb    JointID = 6
)

// Raw encoder domain of the servos.
const (
	EncoderMin = 0
	EncoderMax = 4095
)

// Nominal ranges used before a joint has been calibrated.
const (
	InitialMinPos   = 1024
	InitialMaxPos   = 3072
	ThumbInitialMin = 2048
	ThumbInitialMax = 2500
)

// Joint describes one actuator of the arm.
type Joint struct {
	ID         JointID
	Name       string
	DefaultMin int
	DefaultMax int
}

// DefaultMidpoint returns the middle of the nominal range.
func (j Joint) DefaultMidpoint() int {
	return (j.DefaultMin + j.DefaultMax) / 2
}

// DefaultEntry returns the nominal range as a calibration entry.
func (j Joint) DefaultEntry() CalibrationEntry {
	return CalibrationEntry{Min: j.DefaultMin, Max: j.DefaultMax, Name: j.Name}
}

func (j Joint) String() string {
	return fmt.Sprintf("%s (motor %d)", j.Name, j.ID)
}

var catalogue = []Joint{
	{ID: Base, Name: "base", DefaultMin: InitialMinPos, DefaultMax: InitialMaxPos},
	{ID: Shoulder, Name: "shoulder", DefaultMin: InitialMinPos, DefaultMax: InitialMaxPos},
	{ID: Elbow, Name: "elbow", DefaultMin: InitialMinPos, DefaultMax: InitialMaxPos},
	{ID: Wrist, Name: "wrist", DefaultMin: InitialMinPos, DefaultMax: InitialMaxPos},
	{ID: Hand, Name: "hand", DefaultMin: EncoderMin, DefaultMax: EncoderMax},
	{ID: Thumb, Name: "thumb", DefaultMin: ThumbInitialMin, DefaultMax: ThumbInitialMax},
}

// AllJoints returns all joints in ID order.
func AllJoints() []Joint {
	joints := make([]Joint, len(catalogue))
	copy(joints, catalogue)
	return joints
}

// JointByID looks up a joint by servo ID.
func JointByID(id JointID) (Joint, bool) {
	for _, j := range catalogue {
		if j.ID == id {
			return j, true
		}
	}
	return Joint{}, false
}

// JointByName looks up a joint by its symbolic name.
func JointByName(name string) (Joint, bool) {
	for _, j := range catalogue {
		if j.Name == name {
			return j, true
		}
	}
	return Joint{}, false
}

// MustJoint returns the joint for id and panics if it is not in the catalogue.
func MustJoint(id JointID) Joint {
	j, ok := JointByID(id)
	if !ok {
		panic(fmt.Sprintf("unknown joint id %d", id))
	}
	return j
}
