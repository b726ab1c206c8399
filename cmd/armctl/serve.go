package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/calibrate"
	"github.com/gwillem/armctl/pkg/service"
)

type ServeCommand struct {
	Simulate    bool   `long:"simulate" description:"Drive a simulated arm instead of the serial bus"`
	Recalibrate bool   `long:"recalibrate" description:"Ignore the stored calibration"`
	NoHome      bool   `long:"no-home" description:"Do not move to the midpoints after startup"`
	Listen      string `short:"l" long:"listen" description:"Command service address"`
	WebSocket   string `short:"w" long:"websocket" description:"Also serve the WebSocket relay on this address"`
	MQTT        string `long:"mqtt" description:"MQTT broker for events, e.g. tcp://localhost:1883"`
}

func (c *ServeCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if c.Listen != "" {
		cfg.Listen = c.Listen
	}
	if c.WebSocket != "" {
		cfg.WebSocket = c.WebSocket
	}
	if c.MQTT != "" {
		cfg.MQTT.Broker = c.MQTT
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	link, err := openLink(ctx, cfg, c.Simulate)
	if err != nil {
		return err
	}

	svc, err := service.New(ctx, service.Options{
		Config:      cfg,
		Link:        link,
		Recalibrate: c.Recalibrate,
		NoHome:      c.NoHome,
		OnProgress:  logProgress,
	})
	if err != nil {
		link.Close()
		return err
	}
	if err := svc.Start(ctx); err != nil {
		svc.Close()
		return err
	}

	log.WithField("addr", svc.Addr()).Info("command service ready")
	<-ctx.Done()
	log.Info("shutting down")
	return svc.Close()
}

func logProgress(p calibrate.Progress) {
	l := log.WithFields(log.Fields{"joint": p.Joint.Name, "phase": p.Phase})
	switch p.Phase {
	case calibrate.PhaseDone:
		l.Infof("range %d-%d", p.Entry.Min, p.Entry.Max)
	case calibrate.PhaseMinimum, calibrate.PhaseMaximum:
		if p.Fallback {
			l.Warnf("no stall detected, using %d", p.Position)
			return
		}
		l.Infof("limit at %d", p.Position)
	default:
		l.Info("calibrating")
	}
}
