// Package service wires the arm together: motor link, calibration, motion
// controller, command queue, transports and events.
package service

import (
	"context"
	"net"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/gwillem/armctl/pkg/calibrate"
	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/events"
	"github.com/gwillem/armctl/pkg/motion"
	"github.com/gwillem/armctl/pkg/relay"
	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/server"
	"github.com/gwillem/armctl/pkg/sts"
)

var logger = log.WithFields(log.Fields{
	"pkg": "service",
})

// OpenLink opens the servo bus, discovering the port when none is configured,
// and pings every joint.
func OpenLink(ctx context.Context, cfg robot.SerialConfig) (*sts.Bus, error) {
	cfg = cfg.WithDefaults()
	if cfg.Port == "" {
		port, err := robot.Discover(ctx, robot.DiscoverOptions{
			Probe:    true,
			BaudRate: cfg.BaudRate,
			Timeout:  cfg.Timeout.Duration,
		})
		if err != nil {
			return nil, errors.Wrap(err, "discover arm")
		}
		cfg.Port = port
	}

	bus, err := sts.Open(cfg)
	if err != nil {
		return nil, err
	}
	for _, j := range robot.AllJoints() {
		if err := bus.Ping(ctx, j.ID); err != nil {
			logger.WithField("joint", j.Name).Warnf("no answer: %v", err)
		}
	}
	return bus, nil
}

// Options configures New.
type Options struct {
	Config *Config
	// Link, if set, is used instead of opening the serial port.
	Link robot.LinkCloser
	// Recalibrate ignores a stored calibration.
	Recalibrate bool
	// NoHome skips moving to the midpoints after startup.
	NoHome bool
	// OnProgress receives calibration progress.
	OnProgress func(calibrate.Progress)
}

// Service owns every long-lived component. It is created once at startup and
// torn down with Close.
type Service struct {
	cfg   *Config
	opts  Options
	link  robot.LinkCloser
	store *robot.Store
	orch  *calibrate.Orchestrator
	bus   *events.Bus

	ctrl   *motion.Controller
	queue  *command.Queue
	server *server.Server
	relay  *relay.Relay
	mqtt   mqtt.Client
	addr   net.Addr

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the motor link. Failing to open it is the only fatal startup
// error.
func New(ctx context.Context, opts Options) (*Service, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.applyDefaults()

	link := opts.Link
	if link == nil {
		bus, err := OpenLink(ctx, cfg.Serial)
		if err != nil {
			return nil, errors.Wrap(err, "open motor link")
		}
		link = bus
	}

	store := robot.NewStore(cfg.CalibrationFile)
	orch := calibrate.NewOrchestrator(link, store, cfg.Calibration)
	orch.OnProgress = opts.OnProgress

	return &Service{
		cfg:   cfg,
		opts:  opts,
		link:  link,
		store: store,
		orch:  orch,
		bus:   events.NewBus(),
	}, nil
}

// Start calibrates if needed, homes the arm and starts the queue and the
// transports. It returns once everything is listening.
func (s *Service) Start(ctx context.Context) error {
	cal, err := s.calibration(ctx)
	if err != nil {
		return err
	}

	s.ctrl = motion.NewController(s.link, cal, s.cfg.Motion)
	if !s.opts.NoHome {
		logger.Info("moving to midpoints")
		if err := s.ctrl.Home(ctx); err != nil {
			logger.Warnf("homing incomplete: %v", err)
		}
	}

	ctx, s.cancel = context.WithCancel(ctx)

	dispatcher := command.NewDispatcher(s.ctrl)
	s.queue = command.NewQueue(dispatcher, s.bus, s.cfg.Queue.PollInterval.Duration)
	dispatcher.Queued = s.queue.Len
	s.goRun(func() {
		if err := s.queue.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("command queue: %v", err)
		}
	})

	s.server = server.New(s.queue, s.cfg.Queue.ReplyTimeout.Duration)
	addr, err := s.server.Listen(ctx, s.cfg.Listen)
	if err != nil {
		s.cancel()
		return err
	}
	s.addr = addr

	if s.cfg.WebSocket != "" {
		s.relay = relay.New(localForwarder{s.server})
		sub, unsubscribe := s.bus.Subscribe(64)
		s.goRun(func() { s.relay.Run(sub) })
		s.goRun(func() {
			defer unsubscribe()
			if err := relay.ListenAndServe(ctx, s.cfg.WebSocket, s.relay); err != nil {
				logger.Errorf("relay: %v", err)
			}
		})
	}

	if s.cfg.MQTT.Enabled() {
		client, err := events.Dial(s.cfg.MQTT, events.RoleService)
		if err != nil {
			logger.Warnf("events will not be published: %v", err)
		} else {
			s.mqtt = client
			bridge := events.NewMQTTBridge(client, s.cfg.MQTT.Topic)
			sub, _ := s.bus.Subscribe(64)
			s.goRun(func() { bridge.Run(sub) })
		}
	}

	s.bus.Publish(events.Event{Kind: events.KindLifecycle, Success: true, Message: "service started"})
	return nil
}

func (s *Service) calibration(ctx context.Context) (robot.Calibration, error) {
	var (
		cal robot.Calibration
		ran bool
		err error
	)
	if s.opts.Recalibrate {
		cal, err = s.orch.Run(ctx)
		ran = true
	} else {
		cal, ran, err = s.orch.LoadOrRun(ctx)
	}
	if err != nil {
		if cal == nil {
			return nil, errors.Wrap(err, "calibrate")
		}
		// The arm is calibrated, only persisting failed.
		logger.Warnf("%v; using calibration in memory", err)
	}
	if ran {
		s.bus.Publish(events.Event{Kind: events.KindCalibration, Success: err == nil, Message: "calibration complete"})
	}
	return cal, nil
}

func (s *Service) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Addr returns the address of the command service.
func (s *Service) Addr() net.Addr {
	return s.addr
}

// Queue returns the command queue.
func (s *Service) Queue() *command.Queue {
	return s.queue
}

// Controller returns the motion controller.
func (s *Service) Controller() *motion.Controller {
	return s.ctrl
}

// Events returns the event bus.
func (s *Service) Events() *events.Bus {
	return s.bus
}

// Store returns the calibration store.
func (s *Service) Store() *robot.Store {
	return s.store
}

// Close stops the transports and the queue and releases the motor link.
func (s *Service) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	var errs error
	if s.server != nil {
		errs = multierr.Append(errs, s.server.Close())
	}
	s.bus.Close()
	s.wg.Wait()

	if s.mqtt != nil {
		s.mqtt.Disconnect(250)
	}
	errs = multierr.Append(errs, errors.Wrap(s.link.Close(), "close motor link"))
	return errs
}

// localForwarder hands relay traffic straight to the command service.
type localForwarder struct {
	srv *server.Server
}

func (f localForwarder) SendRaw(ctx context.Context, raw []byte) (command.Response, error) {
	return f.srv.Handle(ctx, raw), nil
}
