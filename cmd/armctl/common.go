package main

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/service"
	"github.com/gwillem/armctl/pkg/sim"
	"github.com/gwillem/armctl/pkg/sts"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Joint colors, one per servo.
var jointColors = map[robot.JointID]string{
	robot.Base:     "196", // red
	robot.Shoulder: "208", // orange
	robot.Elbow:    "226", // yellow
	robot.Wrist:    "46",  // green
	robot.Hand:     "51",  // cyan
	robot.Thumb:    "201", // magenta
}

// ServiceAddr is shared by the commands that talk to a running service.
type ServiceAddr struct {
	Addr    string        `short:"a" long:"addr" description:"Command service address (default from config)"`
	Timeout time.Duration `long:"timeout" default:"30s" description:"Reply timeout"`
}

func (s ServiceAddr) resolve(cfg *service.Config) string {
	if s.Addr != "" {
		return s.Addr
	}
	return cfg.Listen
}

func loadConfig() (*service.Config, error) {
	cfg, err := service.LoadConfigFrom(opts.Config)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return cfg, nil
}

// openLink returns a simulated arm or opens the serial bus, asking which port
// to use when several arms are attached.
func openLink(ctx context.Context, cfg *service.Config, simulate bool) (robot.LinkCloser, error) {
	if simulate {
		log.Info("using simulated arm")
		cfg.Fast()
		return sim.New(), nil
	}
	if cfg.Serial.Port == "" {
		port, err := choosePort(ctx, cfg.Serial)
		if err != nil {
			return nil, err
		}
		cfg.Serial.Port = port
	}
	return service.OpenLink(ctx, cfg.Serial)
}

func choosePort(ctx context.Context, serial robot.SerialConfig) (string, error) {
	serial = serial.WithDefaults()
	arms, err := robot.FindArms(ctx, robot.DiscoverOptions{
		Probe:    true,
		BaudRate: serial.BaudRate,
		Timeout:  serial.Timeout.Duration,
	})
	if err != nil {
		return "", errors.Wrap(err, "find arms")
	}
	switch len(arms) {
	case 0:
		return "", robot.ErrNoArm
	case 1:
		return arms[0].Name, nil
	}

	options := make([]huh.Option[string], 0, len(arms))
	for _, a := range arms {
		label := a.Name
		if a.Product != "" {
			label = fmt.Sprintf("%s (%s)", a.Name, a.Product)
		}
		options = append(options, huh.NewOption(label, a.Name))
	}

	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Several arms found").
				Description("Which one should be used?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		return "", errors.Wrap(err, "choose port")
	}
	return port, nil
}

// wiggle nudges the base servo so the user can tell which arm is on a port.
func wiggle(ctx context.Context, serial robot.SerialConfig) error {
	bus, err := sts.Open(serial)
	if err != nil {
		return err
	}
	defer bus.Close()

	pos, err := bus.ReadPosition(ctx, robot.Base)
	if err != nil {
		return errors.Wrap(err, "read base position")
	}
	if err := bus.SetTorque(ctx, robot.Base, true); err != nil {
		return errors.Wrap(err, "enable base")
	}

	const amount = 30
	for _, target := range []int{pos + amount, pos - amount, pos} {
		if err := bus.WritePosition(ctx, robot.Base, target, 200, 50); err != nil {
			return errors.Wrap(err, "move base")
		}
		time.Sleep(600 * time.Millisecond)
	}
	return nil
}
