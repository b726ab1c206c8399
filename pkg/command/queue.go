package command

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/events"
)

var (
	// ErrQueueRunning is returned when Run is called twice.
	ErrQueueRunning = errors.New("queue already running")
	// ErrQueueStopped is the failure given to commands that will never run.
	ErrQueueStopped = errors.New("command queue stopped")
)

// DefaultPollInterval is how often an idle queue checks for work.
const DefaultPollInterval = 50 * time.Millisecond

type job struct {
	cmd   Command
	reply chan Response
}

// Queue serialises commands: any number of goroutines submit, a single
// consumer executes them in arrival order. A queued stop waits for the
// command in front of it.
type Queue struct {
	exec Executor
	bus  *events.Bus
	poll time.Duration

	mu      sync.Mutex
	items   []job
	running bool
	stopped bool
}

// NewQueue returns a queue feeding exec. bus may be nil.
func NewQueue(exec Executor, bus *events.Bus, poll time.Duration) *Queue {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Queue{exec: exec, bus: bus, poll: poll}
}

// Submit appends c to the queue. The returned channel receives exactly one
// response.
func (q *Queue) Submit(c Command) <-chan Response {
	reply := make(chan Response, 1)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		reply <- Failure(ErrQueueStopped)
		return reply
	}
	q.items = append(q.items, job{cmd: c, reply: reply})
	return reply
}

// Do submits c and waits for its response or for ctx to end. A command whose
// caller gave up still runs when its turn comes.
func (q *Queue) Do(ctx context.Context, c Command) Response {
	select {
	case resp := <-q.Submit(c):
		return resp
	case <-ctx.Done():
		return Failure(errors.Wrapf(ctx.Err(), "waiting for %s", c.Name()))
	}
}

// Len returns the number of waiting commands.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Run executes queued commands until ctx ends. Commands still waiting then
// fail with ErrQueueStopped.
func (q *Queue) Run(ctx context.Context) error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return ErrQueueRunning
	}
	q.running = true
	q.mu.Unlock()

	logger.Info("command queue started")

	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			q.shutdown()
			return ctx.Err()
		}
		if j, ok := q.pop(); ok {
			q.execute(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			q.shutdown()
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) pop() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return job{}, false
	}
	j := q.items[0]
	q.items[0] = job{}
	q.items = q.items[1:]
	return j, true
}

func (q *Queue) execute(ctx context.Context, j job) {
	start := time.Now()
	resp := q.exec.Execute(ctx, j.cmd)
	logger.WithField("command", j.cmd.Name()).Debugf("done in %s: %s", time.Since(start), resp.Message)

	j.reply <- resp
	q.publish(j.cmd, resp)
}

func (q *Queue) publish(c Command, resp Response) {
	if q.bus == nil {
		return
	}
	e := events.Event{
		Kind:    events.KindCommand,
		Command: c.Name(),
		Success: resp.Success,
		Message: resp.Message,
	}
	if j, ok := Motor(c); ok {
		e.Motor = j.Name
	}
	if pos, ok := resp.Position(); ok {
		e.Position = &pos
	}
	q.bus.Publish(e)
}

func (q *Queue) shutdown() {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.running = false
	q.stopped = true
	q.mu.Unlock()

	for _, j := range pending {
		j.reply <- Failure(ErrQueueStopped)
	}
	logger.WithField("dropped", len(pending)).Info("command queue stopped")
}
