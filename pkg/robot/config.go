package robot

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// DefaultBaudRate is the bus speed of STS servos as shipped.
const DefaultBaudRate = 1_000_000

// SerialConfig holds the serial port settings for the servo bus.
type SerialConfig struct {
	Port     string   `json:"port,omitempty"`
	BaudRate int      `json:"baud_rate,omitempty"`
	Timeout  Duration `json:"timeout,omitempty"`
}

// WithDefaults fills unset fields.
func (c SerialConfig) WithDefaults() SerialConfig {
	if c.BaudRate <= 0 {
		c.BaudRate = DefaultBaudRate
	}
	if c.Timeout.Duration <= 0 {
		c.Timeout = Duration{100 * time.Millisecond}
	}
	return c
}

// Duration is a time.Duration that reads and writes as a string like "2s".
type Duration struct {
	time.Duration
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Millisecond))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return errors.Wrapf(err, "invalid duration %q", value)
		}
		d.Duration = parsed
	default:
		return errors.Errorf("invalid duration %v", v)
	}
	return nil
}
