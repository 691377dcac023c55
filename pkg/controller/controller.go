// Package controller exposes the semantic operations of a Marlin-style motion
// controller on top of a G-code command channel.
package controller

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/spucal/pkg/gcode"
	"github.com/charlie0129/spucal/pkg/serial"
	"github.com/charlie0129/spucal/pkg/types"
)

// Directives used by the controller.
const (
	CmdIdentity       = "M115"
	CmdHome           = "G28"
	CmdRelative       = "G91"
	CmdLinearMove     = "G1"
	CmdSettingsReport = "M503"
	CmdStepsPerUnit   = "M92"
	CmdPersist        = "M500"
	CmdDisableMotors  = "M18"
)

var (
	// ErrNotHomeable is returned when homing an axis without an endstop.
	ErrNotHomeable = errors.New("axis cannot be homed")
	// ErrInvalidValue is returned when asked to write a non-positive
	// steps-per-unit value.
	ErrInvalidValue = errors.New("steps per unit must be positive")
)

// Channel is what Controller needs from the command layer.
type Channel interface {
	Send(cmd string) ([]string, error)
	Close() error
}

var _ Channel = &gcode.Channel{}

// Controller is a connected motion controller.
type Controller struct {
	ch       Channel
	feedrate float64
}

// Option customizes a Controller.
type Option func(*Controller)

// WithFeedrate appends F<mm/min> to linear moves. 0 keeps the firmware's
// current feedrate.
func WithFeedrate(mmPerMin float64) Option {
	return func(c *Controller) {
		c.feedrate = mmPerMin
	}
}

// New returns a Controller that talks over ch.
func New(ch Channel, opts ...Option) *Controller {
	c := &Controller{ch: ch}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens the serial device, waits settle for the firmware to finish
// booting (discarding whatever it prints meanwhile) and returns a Controller.
func Connect(cfg *serial.Config, settle time.Duration, opts ...Option) (*Controller, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"port":   cfg.Device,
		"baud":   cfg.Baud,
		"driver": cfg.Driver,
	}).Debug("opened serial port")

	if settle > 0 {
		banner := port.Drain(settle)
		logrus.WithFields(logrus.Fields{
			"settle": settle,
			"lines":  len(banner),
		}).Debug("discarded startup output")
	}

	return New(gcode.NewChannel(port), opts...), nil
}

// QueryIdentity returns the firmware's self-description, for display.
func (c *Controller) QueryIdentity() (string, error) {
	lines, err := c.ch.Send(CmdIdentity)
	if err != nil {
		return "", fmt.Errorf("failed to query identity: %w", err)
	}
	return strings.Join(lines, "\n"), nil
}

// HomeAxis homes a single axis. It trusts the firmware's acknowledgment and
// does not check endstop state.
func (c *Controller) HomeAxis(axis types.Axis) error {
	if !axis.Homeable() {
		return fmt.Errorf("%w: %s", ErrNotHomeable, axis)
	}

	logrus.WithField("axis", axis).Debug("homing")
	if _, err := c.ch.Send(gcode.Command(CmdHome, axis.String())); err != nil {
		return fmt.Errorf("failed to home %s: %w", axis, err)
	}
	return nil
}

// MoveRelative switches to relative positioning and moves axis by mm, which
// may be negative.
func (c *Controller) MoveRelative(axis types.Axis, mm float64) error {
	if _, err := c.ch.Send(CmdRelative); err != nil {
		return fmt.Errorf("failed to switch to relative positioning: %w", err)
	}

	words := []string{gcode.Word(axis.String(), mm)}
	if c.feedrate > 0 {
		words = append(words, gcode.Word("F", c.feedrate))
	}

	logrus.WithFields(logrus.Fields{
		"axis":     axis,
		"distance": mm,
	}).Debug("moving")
	if _, err := c.ch.Send(gcode.Command(CmdLinearMove, words...)); err != nil {
		return fmt.Errorf("failed to move %s by %s mm: %w", axis, gcode.FormatFloat(mm), err)
	}
	return nil
}

// ReadStepsPerUnit requests the settings report and parses steps per unit
// out of it.
func (c *Controller) ReadStepsPerUnit() (types.StepsPerUnit, error) {
	lines, err := c.ch.Send(CmdSettingsReport)
	if err != nil {
		return types.StepsPerUnit{}, fmt.Errorf("failed to read settings: %w", err)
	}
	return ParseStepsPerUnit(lines)
}

// WriteStepsPerUnit sets the value for one axis and persists it to EEPROM.
// The change is only durable once both commands are acknowledged.
func (c *Controller) WriteStepsPerUnit(axis types.Axis, value float64) error {
	if !(value > 0) {
		return fmt.Errorf("%w: got %v for %s", ErrInvalidValue, value, axis)
	}

	if _, err := c.ch.Send(gcode.Command(CmdStepsPerUnit, gcode.Word(axis.String(), value))); err != nil {
		return fmt.Errorf("failed to set steps per unit for %s: %w", axis, err)
	}
	if _, err := c.ch.Send(CmdPersist); err != nil {
		return fmt.Errorf("failed to persist settings: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"axis":  axis,
		"value": value,
	}).Debug("steps per unit stored")
	return nil
}

// DisengageMotors disables the steppers so axes can be moved by hand.
func (c *Controller) DisengageMotors() error {
	if _, err := c.ch.Send(CmdDisableMotors); err != nil {
		return fmt.Errorf("failed to disengage motors: %w", err)
	}
	return nil
}

// Close releases the connection.
func (c *Controller) Close() error {
	return c.ch.Close()
}
