package main

import (
	"bufio"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/config"
	"github.com/charlie0129/spucal/pkg/controller"
	"github.com/charlie0129/spucal/pkg/discovery"
	"github.com/charlie0129/spucal/pkg/events"
	"github.com/charlie0129/spucal/pkg/gcode"
	"github.com/charlie0129/spucal/pkg/serial"
	"github.com/charlie0129/spucal/pkg/simulator"
	"github.com/charlie0129/spucal/pkg/types"
	"github.com/charlie0129/spucal/pkg/utils/ptr"
)

// Machine used by --simulate. Its physical steps per unit are slightly off
// from what the firmware is configured with.
var (
	simulatedConfigured = types.StepsPerUnit{X: 80, Y: 80, Z: 400, E: 93}
	simulatedPhysical   = types.StepsPerUnit{X: 80.8, Y: 79.6, Z: 400, E: 97.2}
)

// Replaced in tests.
var (
	listPorts discovery.Lister = discovery.ListPorts
	connect                    = func(cfg *serial.Config, settle time.Duration, opts ...controller.Option) (calibration.Controller, error) {
		c, err := controller.Connect(cfg, settle, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
)

// loadConfig reads the config file and applies the global flags the user
// set on top of it.
func loadConfig(cmd *cobra.Command) (*config.File, error) {
	f, err := config.NewFile(configPath)
	if err != nil {
		return nil, err
	}

	raw, err := config.NewRawFileConfigFromConfig(f)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		raw.Port = ptr.To(portFlag)
	}
	if flags.Changed("baud") {
		raw.Baud = ptr.To(baudFlag)
	}
	if flags.Changed("driver") {
		raw.Driver = ptr.To(driverFlag)
	}
	if flags.Changed("timeout") {
		raw.ReadTimeoutMillis = ptr.To(ceilMillis(timeoutFlag))
	}
	if flags.Changed("settle") {
		raw.SettleMillis = ptr.To(ceilMillis(settleFlag))
	}
	if flags.Changed("feedrate") {
		raw.Feedrate = ptr.To(feedrateFlag)
	}

	conf := config.NewFileFromConfig(raw, configPath)
	logrus.WithFields(conf.LogrusFields()).Debug("effective config")

	// Reads are always bounded.
	if conf.ReadTimeout() <= 0 {
		return nil, fmt.Errorf("read timeout must be positive, got %s", conf.ReadTimeout())
	}
	if conf.Settle() < 0 {
		return nil, fmt.Errorf("settle time must not be negative, got %s", conf.Settle())
	}

	return conf, nil
}

// ceilMillis converts d to whole milliseconds, rounding up so that a short
// positive duration never becomes 0.
func ceilMillis(d time.Duration) int {
	if d <= 0 {
		return int(d / time.Millisecond)
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// session is everything one command needs to talk to a controller.
type session struct {
	conf config.Config
	op   *lineOperator
	ctrl calibration.Controller
	// sim is set with --simulate.
	sim *simulator.Simulator
}

func openSession(cmd *cobra.Command) (*session, error) {
	conf, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	s := &session{
		conf: conf,
		op:   &lineOperator{in: bufio.NewReader(cmd.InOrStdin())},
	}
	opts := []controller.Option{controller.WithFeedrate(conf.Feedrate())}

	if simulate {
		s.sim, s.ctrl = startSimulator(cmd.Context(), conf, opts...)
		return s, nil
	}

	device := conf.Port()
	if device == "" {
		policy, err := discovery.NewPolicy(conf.DevicePatterns())
		if err != nil {
			return nil, err
		}
		device, err = policy.Find(listPorts, &menuChooser{op: s.op, out: cmd.OutOrStdout()})
		if err != nil {
			return nil, err
		}
	}
	logrus.WithField("port", device).Info("using device")

	s.ctrl, err = connect(&serial.Config{
		Device:      device,
		Baud:        conf.Baud(),
		Driver:      conf.Driver(),
		ReadTimeout: conf.ReadTimeout(),
	}, conf.Settle(), opts...)
	if err != nil {
		return nil, err
	}

	return s, nil
}

func startSimulator(ctx context.Context, conf config.Config, opts ...controller.Option) (*simulator.Simulator, calibration.Controller) {
	sim, conn := simulator.New(simulatedConfigured, simulatedPhysical)
	go func() {
		if err := sim.Run(ctx); err != nil {
			logrus.WithError(err).Error("simulator stopped")
		}
	}()
	logrus.Warn("talking to a simulated controller, nothing is sent to real hardware")

	port := serial.NewPort(conn, "simulator", conf.ReadTimeout())
	if settle := conf.Settle(); settle > 0 {
		port.Drain(settle)
	}
	return sim, controller.New(gcode.NewChannel(port), opts...)
}

// engine returns an engine printing to the command's output and publishing
// to extra. With --simulate, the simulated ruler reading for axis is shown
// as well.
func (s *session) engine(cmd *cobra.Command, axis types.Axis, extra ...events.Sink) *calibration.Engine {
	sinks := append([]events.Sink{&printer{out: cmd.OutOrStdout()}}, extra...)
	if s.sim != nil {
		sinks = append(sinks, rulerHint(s.sim, axis))
	}
	return calibration.NewEngine(s.ctrl, s.op, events.Multi(sinks...))
}

// rulerHint zeroes the simulated ruler when the operator is asked to, and
// logs what it reads when a measurement is due.
func rulerHint(sim *simulator.Simulator, axis types.Axis) events.Sink {
	return events.SinkFunc(func(_ string, payload any) {
		e, ok := payload.(events.CalibrationPromptEvent)
		if !ok {
			return
		}
		switch e.Expect {
		case calibration.ExpectConfirm:
			sim.ZeroTravel(axis)
		case calibration.ExpectDistance:
			logrus.Infof("simulated ruler reads %s mm", gcode.FormatFloat(sim.Travel(axis)))
		}
	})
}
