// Package serial owns the byte-stream connection to a controller and turns it
// into newline-delimited text lines.
//
// Two drivers are available:
//
//   - bugst: go.bug.st/serial (default)
//   - tarm: github.com/tarm/serial
//
// Both are wrapped in a Port, which runs a single reader goroutine so that
// ReadLine can be bounded by a timeout regardless of the driver's own read
// semantics.
package serial

import (
	"errors"
	"io"
	"time"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrDeviceUnavailable is returned when the device cannot be opened.
	ErrDeviceUnavailable = errors.New("serial device unavailable")
	// ErrIO is returned when the connection breaks mid-session.
	ErrIO = errors.New("serial i/o error")
	// ErrTimeout is returned when no line arrives within the read timeout.
	ErrTimeout = errors.New("serial read timeout")
)

const (
	DriverBugst = "bugst"
	DriverTarm  = "tarm"
)

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 60 * time.Second
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string
	// Baud rate. USB CDC devices usually ignore it.
	Baud int
	// Driver selects the underlying serial library.
	Driver string
	// ReadTimeout bounds ReadLine and must be positive. Motion commands are
	// acknowledged only after the move completes, so this should be generous.
	ReadTimeout time.Duration
}

// DefaultConfig returns the configuration used when nothing else is set.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		Driver:      DriverBugst,
		ReadTimeout: DefaultReadTimeout,
	}
}

type opener func(cfg *Config) (io.ReadWriteCloser, error)

var drivers = map[string]opener{
	DriverBugst: openBugst,
	DriverTarm:  openTarm,
}

// Open opens the device described by cfg.
func Open(cfg *Config) (*Port, error) {
	if cfg == nil {
		return nil, pkgerrors.New("config cannot be nil")
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DriverBugst
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, pkgerrors.Errorf("unknown serial driver %q", cfg.Driver)
	}

	if cfg.ReadTimeout <= 0 {
		return nil, pkgerrors.Errorf("read timeout must be positive, got %s", cfg.ReadTimeout)
	}

	rw, err := open(cfg)
	if err != nil {
		return nil, pkgerrors.Wrapf(ErrDeviceUnavailable, "open %s: %v", cfg.Device, err)
	}

	return NewPort(rw, cfg.Device, cfg.ReadTimeout), nil
}
