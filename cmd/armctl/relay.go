package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/gwillem/armctl/pkg/events"
	"github.com/gwillem/armctl/pkg/relay"
	"github.com/gwillem/armctl/pkg/server"
)

type RelayCommand struct {
	ServiceAddr
	Listen string `short:"l" long:"listen" description:"WebSocket address (default from config or :8000)"`
	MQTT   string `long:"mqtt" description:"MQTT broker to read arm events from"`
}

func (c *RelayCommand) Execute(args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	listen := c.Listen
	if listen == "" {
		listen = cfg.RelayAddr()
	}
	if c.MQTT != "" {
		cfg.MQTT.Broker = c.MQTT
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := server.NewClient(c.resolve(cfg), c.Timeout)
	defer client.Close()
	r := relay.New(client)

	if cfg.MQTT.Enabled() {
		sub := events.NewSubscription(cfg.MQTT.Topic, 64)
		mc, err := events.Dial(cfg.MQTT, events.RoleRelay, sub.OnConnect)
		if err != nil {
			log.Warnf("events will not be relayed: %v", err)
		} else {
			defer mc.Disconnect(250)
			go r.Run(sub.Events())
		}
	}

	log.WithField("service", c.resolve(cfg)).Info("forwarding commands")
	return relay.ListenAndServe(ctx, listen, r)
}
