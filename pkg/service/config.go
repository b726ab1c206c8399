package service

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/gwillem/armctl/pkg/calibrate"
	"github.com/gwillem/armctl/pkg/command"
	"github.com/gwillem/armctl/pkg/events"
	"github.com/gwillem/armctl/pkg/motion"
	"github.com/gwillem/armctl/pkg/relay"
	"github.com/gwillem/armctl/pkg/robot"
	"github.com/gwillem/armctl/pkg/server"
)

const (
	DefaultConfigFile      = "armctl.json"
	DefaultCalibrationFile = "calibration.json"
)

// Config holds the service configuration.
type Config struct {
	Serial          robot.SerialConfig `json:"serial"`
	CalibrationFile string             `json:"calibration_file,omitempty"`
	// Listen is the command service address.
	Listen string `json:"listen,omitempty"`
	// WebSocket is the relay address. Empty disables the in-process relay.
	WebSocket   string            `json:"websocket,omitempty"`
	MQTT        events.MQTTConfig `json:"mqtt"`
	Calibration calibrate.Params  `json:"calibration"`
	Motion      motion.Params     `json:"motion"`
	Queue       QueueConfig       `json:"queue"`
}

// QueueConfig tunes the command queue.
type QueueConfig struct {
	PollInterval robot.Duration `json:"poll_interval,omitempty"`
	ReplyTimeout robot.Duration `json:"reply_timeout,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	c.Serial = c.Serial.WithDefaults()
	if c.CalibrationFile == "" {
		c.CalibrationFile = DefaultCalibrationFile
	}
	if c.Listen == "" {
		c.Listen = server.DefaultAddr
	}
	c.Calibration = c.Calibration.WithDefaults()
	c.Motion = c.Motion.WithDefaults()
	if c.Queue.PollInterval.Duration <= 0 {
		c.Queue.PollInterval = robot.Duration{Duration: command.DefaultPollInterval}
	}
	if c.Queue.ReplyTimeout.Duration <= 0 {
		c.Queue.ReplyTimeout = robot.Duration{Duration: server.DefaultReplyTimeout}
	}
}

// RelayAddr returns the relay address, falling back to the default.
func (c *Config) RelayAddr() string {
	if c.WebSocket == "" {
		return relay.DefaultAddr
	}
	return c.WebSocket
}

// LoadConfig loads configuration from the default config file.
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. A missing file
// yields the defaults.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, errors.Wrap(err, "read config")
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists.
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}

// Fast shrinks every wait so a simulated arm runs in milliseconds.
func (c *Config) Fast() {
	ms := robot.Duration{Duration: time.Millisecond}
	c.Calibration.Settle = ms
	c.Calibration.PollInterval = ms
	c.Motion.PollInterval = ms
	c.Motion.HomeSettle = ms
}
