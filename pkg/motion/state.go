package motion

import (
	"sort"
	"sync"

	"github.com/gwillem/armctl/pkg/robot"
)

// Flag names a persistent toggle direction.
type Flag int

// Toggle flags. The hand toggle uses the wrist flag.
const (
	WristFlag Flag = iota
	ThumbFlag
)

func (f Flag) String() string {
	if f == ThumbFlag {
		return "thumb"
	}
	return "wrist"
}

// ArmState is the runtime bookkeeping of the controller. It is never persisted.
type ArmState struct {
	mu      sync.Mutex
	targets map[robot.JointID]int
	flags   [2]robot.Direction
	moving  map[robot.JointID]bool
}

// Snapshot is a copy of ArmState.
type Snapshot struct {
	Targets        map[robot.JointID]int `json:"targets"`
	WristDirection robot.Direction       `json:"wrist_direction"`
	ThumbDirection robot.Direction       `json:"thumb_direction"`
	Moving         []robot.JointID       `json:"moving"`
}

func newArmState() *ArmState {
	return &ArmState{
		targets: make(map[robot.JointID]int),
		flags:   [2]robot.Direction{robot.Increase, robot.Increase},
		moving:  make(map[robot.JointID]bool),
	}
}

func (s *ArmState) setTarget(id robot.JointID, target int, moving bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets[id] = target
	if moving {
		s.moving[id] = true
	} else {
		delete(s.moving, id)
	}
}

func (s *ArmState) flip(f Flag) robot.Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[f] = s.flags[f].Reverse()
	return s.flags[f]
}

// Snapshot returns a copy of the state.
func (s *ArmState) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Targets:        make(map[robot.JointID]int, len(s.targets)),
		WristDirection: s.flags[WristFlag],
		ThumbDirection: s.flags[ThumbFlag],
		Moving:         make([]robot.JointID, 0, len(s.moving)),
	}
	for id, t := range s.targets {
		snap.Targets[id] = t
	}
	for id := range s.moving {
		snap.Moving = append(snap.Moving, id)
	}
	sort.Slice(snap.Moving, func(i, j int) bool { return snap.Moving[i] < snap.Moving[j] })
	return snap
}
