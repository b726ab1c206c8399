package robot

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

var (
	// ErrNoArm means no serial port hosts an arm.
	ErrNoArm = errors.New("no arm controller found")
	// ErrMultipleArms means more than one candidate port was found.
	ErrMultipleArms = errors.New("multiple arm controllers found")
)

// PortInfo describes a serial port that may host an arm.
type PortInfo struct {
	Name         string
	Product      string
	SerialNumber string
	IsUSB        bool
	// Servos lists the servo IDs that answered a probe. Empty if not probed.
	Servos []int
}

// DiscoverOptions controls how ports are checked.
type DiscoverOptions struct {
	// Probe scans each candidate for servos 1-6 before accepting it.
	Probe    bool
	BaudRate int
	Timeout  time.Duration
}

// IsCandidatePort reports whether a port name looks like a USB serial adapter.
func IsCandidatePort(port string) bool {
	// Linux
	if strings.HasPrefix(port, "/dev/ttyACM") || strings.HasPrefix(port, "/dev/ttyUSB") {
		return true
	}
	// macOS
	base := filepath.Base(port)
	for _, prefix := range []string{"tty.usbmodem", "tty.usbserial", "cu.usbmodem", "cu.usbserial"} {
		if strings.HasPrefix(base, prefix) {
			return true
		}
	}
	// Windows
	return strings.HasPrefix(port, "COM")
}

// ListCandidatePorts enumerates serial ports and keeps the likely candidates.
func ListCandidatePorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "list serial ports")
	}

	var ports []PortInfo
	for _, d := range details {
		// Skip Bluetooth ports on macOS
		if strings.Contains(d.Name, "Bluetooth") || !IsCandidatePort(d.Name) {
			continue
		}
		ports = append(ports, PortInfo{
			Name:         d.Name,
			Product:      d.Product,
			SerialNumber: d.SerialNumber,
			IsUSB:        d.IsUSB,
		})
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i].Name < ports[j].Name })
	return ports, nil
}

// ProbeArm scans a port for servos with IDs 1-6 and returns the IDs that
// answered. It fails unless all six are present.
func ProbeArm(ctx context.Context, port string, baudRate int, timeout time.Duration) ([]int, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}

	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: baudRate,
		Protocol: feetech.ProtocolSTS,
		Timeout:  timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", port)
	}
	defer bus.Close()

	servos, err := bus.Scan(ctx, int(Base), int(Thumb))
	if err != nil {
		return nil, errors.Wrapf(err, "scan %s", port)
	}

	ids := make([]int, 0, len(servos))
	for _, s := range servos {
		ids = append(ids, s.ID)
	}
	sort.Ints(ids)

	if !isArm(ids) {
		return ids, errors.Errorf("%s: expected servos 1-6, found %v", port, ids)
	}
	return ids, nil
}

func isArm(ids []int) bool {
	if len(ids) != len(catalogue) {
		return false
	}
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	for _, j := range catalogue {
		if !seen[int(j.ID)] {
			return false
		}
	}
	return true
}

// FindArms returns every candidate port, probing them first when asked to.
func FindArms(ctx context.Context, opts DiscoverOptions) ([]PortInfo, error) {
	candidates, err := ListCandidatePorts()
	if err != nil {
		return nil, err
	}
	if !opts.Probe {
		return candidates, nil
	}

	var arms []PortInfo
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return arms, err
		}
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		ids, err := ProbeArm(probeCtx, p.Name, opts.BaudRate, opts.Timeout)
		cancel()
		if err != nil {
			logger.WithField("port", p.Name).Debugf("probe failed: %v", err)
			continue
		}
		p.Servos = ids
		arms = append(arms, p)
	}
	return arms, nil
}

// Discover returns the single port hosting an arm.
func Discover(ctx context.Context, opts DiscoverOptions) (string, error) {
	arms, err := FindArms(ctx, opts)
	if err != nil {
		return "", err
	}
	return pickSingle(arms)
}

func pickSingle(arms []PortInfo) (string, error) {
	switch len(arms) {
	case 0:
		return "", ErrNoArm
	case 1:
		logger.WithField("port", arms[0].Name).Info("using arm controller")
		return arms[0].Name, nil
	default:
		names := make([]string, len(arms))
		for i, a := range arms {
			names[i] = a.Name
		}
		return "", errors.Wrapf(ErrMultipleArms, "%s", strings.Join(names, ", "))
	}
}
