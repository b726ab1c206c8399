// Package teleop provides interactive jogging: joints are driven for as long
// as a direction is held and stopped when it is released.
package teleop

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/robot"
)

// State represents the current state of jogging.
type State struct {
	Positions map[robot.JointID]int
	Held      map[robot.JointID]robot.Direction
	Timestamp time.Time
	Error     error
}

// Controller manages the jog loop.
type Controller struct {
	send  command.SendFunc
	hz    int
	speed int

	mu        sync.Mutex
	held      map[robot.JointID]robot.Direction
	released  map[robot.JointID]bool
	positions map[robot.JointID]int
	running   bool

	stateCh chan State
	logCh   chan string
}

// Config holds configuration for the controller.
type Config struct {
	// Hz is the rate at which held joints are nudged. 20 Hz matches the
	// motion controller's jog step.
	Hz int
	// Speed is passed with every move. Zero uses the service default.
	Speed int
}

// NewController creates a jog controller sending commands through send.
func NewController(send command.SendFunc, cfg Config) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = 20
	}
	return &Controller{
		send:      send,
		hz:        cfg.Hz,
		speed:     cfg.Speed,
		held:      make(map[robot.JointID]robot.Direction),
		released:  make(map[robot.JointID]bool),
		positions: make(map[robot.JointID]int),
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the jog frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// Hold starts driving j in dir on every tick until Release.
func (c *Controller) Hold(j robot.Joint, dir robot.Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.held[j.ID] = dir
	delete(c.released, j.ID)
}

// Release stops driving j. The joint is stopped on the next tick.
func (c *Controller) Release(j robot.Joint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[j.ID]; ok {
		delete(c.held, j.ID)
		c.released[j.ID] = true
	}
}

// ReleaseAll releases every held joint.
func (c *Controller) ReleaseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.held {
		c.released[id] = true
	}
	c.held = make(map[robot.JointID]robot.Direction)
}

// Held returns the joints currently held and their directions.
func (c *Controller) Held() map[robot.JointID]robot.Direction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[robot.JointID]robot.Direction, len(c.held))
	for id, d := range c.held {
		out[id] = d
	}
	return out
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
	}
}

// Start runs the jog loop until ctx is done.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("already running")
	}
	c.running = true
	c.mu.Unlock()

	c.seed(ctx)
	c.log("Jogging at %d Hz", c.hz)

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			c.step(ctx)
		}
	}
}

// seed fills the known positions from the service status.
func (c *Controller) seed(ctx context.Context) {
	resp, err := c.send(ctx, command.Status{})
	if err != nil || !resp.Success || resp.Status == nil {
		c.log("Warning: no status: %v", failure(resp, err))
		return
	}
	c.mu.Lock()
	for id, target := range resp.Status.State.Targets {
		c.positions[id] = target
	}
	c.mu.Unlock()
	c.sendState(State{Positions: c.Positions(), Timestamp: time.Now()})
}

func (c *Controller) step(ctx context.Context) {
	c.mu.Lock()
	stops := sortedIDs(c.released)
	c.released = make(map[robot.JointID]bool)
	moves := make(map[robot.JointID]robot.Direction, len(c.held))
	for id, d := range c.held {
		moves[id] = d
	}
	c.mu.Unlock()

	if len(stops) == 0 && len(moves) == 0 {
		return
	}

	var stepErr error
	for _, id := range stops {
		if err := c.do(ctx, command.Stop{Joint: robot.MustJoint(id)}); err != nil {
			stepErr = err
		}
	}
	for _, id := range sortedIDs(moves) {
		cmd := command.Move{Joint: robot.MustJoint(id), Direction: moves[id], Speed: c.speed}
		if err := c.do(ctx, cmd); err != nil {
			stepErr = err
		}
	}

	c.sendState(State{
		Positions: c.Positions(),
		Held:      c.Held(),
		Timestamp: time.Now(),
		Error:     stepErr,
	})
}

func (c *Controller) do(ctx context.Context, cmd command.Command) error {
	resp, err := c.send(ctx, cmd)
	if err != nil || !resp.Success {
		err = failure(resp, err)
		j, _ := command.Motor(cmd)
		c.log("%s %s: %v", cmd.Name(), j.Name, err)
		return err
	}
	if pos, ok := resp.Position(); ok {
		j, _ := command.Motor(cmd)
		c.mu.Lock()
		c.positions[j.ID] = pos
		c.mu.Unlock()
	}
	return nil
}

// Positions returns the last known position of every joint.
func (c *Controller) Positions() map[robot.JointID]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[robot.JointID]int, len(c.positions))
	for id, p := range c.positions {
		out[id] = p
	}
	return out
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		select {
		case c.stateCh <- s:
		default:
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	stops := sortedIDs(c.held)
	c.held = make(map[robot.JointID]robot.Direction)
	stops = append(stops, sortedIDs(c.released)...)
	c.released = make(map[robot.JointID]bool)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, id := range stops {
		if err := c.do(ctx, command.Stop{Joint: robot.MustJoint(id)}); err != nil {
			c.log("Warning: failed to stop motor %d: %v", id, err)
		}
	}
	c.log("Jogging stopped")
}

func failure(resp command.Response, err error) error {
	if err != nil {
		return err
	}
	return errors.New(resp.Message)
}

func sortedIDs[V any](m map[robot.JointID]V) []robot.JointID {
	ids := make([]robot.JointID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
