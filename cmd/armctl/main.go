package main

import (
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

type Options struct {
	Config  string `short:"c" long:"config" default:"armctl.json" description:"Configuration file"`
	Debug   bool   `short:"d" long:"debug" description:"Enable debug logging"`
	LogJSON bool   `long:"log-json" description:"Log as JSON"`

	Serve     ServeCommand     `command:"serve" description:"Calibrate the arm and run the command service"`
	Calibrate CalibrateCommand `command:"calibrate" description:"Find the mechanical limits of the joints"`
	Send      SendCommand      `command:"send" description:"Send one command to the service"`
	Exercise  ExerciseCommand  `command:"exercise" description:"Drive every joint to both limits"`
	Jog       JogCommand       `command:"jog" alias:"teleop" description:"Jog the arm from the keyboard"`
	Relay     RelayCommand     `command:"relay" description:"Run the WebSocket relay"`
	Ports     PortsCommand     `command:"ports" description:"List serial ports and pick the arm"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "armctl - control a six-servo robot arm over a JSON command service"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		setupLogging()
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}

func setupLogging() {
	if opts.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}
}
