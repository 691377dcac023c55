package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/config"
	"github.com/charlie0129/spucal/pkg/controller"
	"github.com/charlie0129/spucal/pkg/discovery"
	"github.com/charlie0129/spucal/pkg/gcode"
	"github.com/charlie0129/spucal/pkg/serial"
)

var (
	logLevel   = "info"
	configPath = config.DefaultPath()

	portFlag     string
	baudFlag     int
	driverFlag   string
	timeoutFlag  time.Duration
	settleFlag   time.Duration
	feedrateFlag float64
	simulate     bool
)

var (
	gBasic        = "Basic:"
	gAdvanced     = "Advanced:"
	commandGroups = []string{
		gBasic,
		gAdvanced,
	}
)

func setupLogger() error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("failed to parse log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{})
	if term.IsTerminal(int(os.Stderr.Fd())) {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.Kitchen,
		})
	}

	return nil
}

// Replaced in tests.
var stderr io.Writer = os.Stderr

func handleCmdError(err error) {
	switch {
	case errors.Is(err, discovery.ErrNoDeviceFound):
		fmt.Fprintln(stderr, "\nError: No ttyACM or ttyUSB devices found")
		fmt.Fprintln(stderr, "  - Is the controller plugged in and powered?")
		fmt.Fprintln(stderr, "  - Or pass the device explicitly with '--port'")
	case errors.Is(err, serial.ErrDeviceUnavailable):
		fmt.Fprintln(stderr, "\nError: Cannot open the serial device")
		fmt.Fprintln(stderr, "  - Check that your user may access it (e.g. is in the 'dialout' group)")
		fmt.Fprintln(stderr, "  - Close any other program that holds the port")
	case errors.Is(err, gcode.ErrProtocolTimeout):
		fmt.Fprintln(stderr, "\nError: The controller stopped responding")
		fmt.Fprintln(stderr, "  - Check the baud rate with '--baud'")
		fmt.Fprintln(stderr, "  - Long moves may need a larger '--timeout'")
	case errors.Is(err, serial.ErrIO):
		fmt.Fprintln(stderr, "\nError: Lost the connection to the controller")
	case errors.Is(err, controller.ErrParse):
		fmt.Fprintln(stderr, "\nError: The controller did not report its steps per unit")
		fmt.Fprintln(stderr, "Is this a Marlin-compatible firmware with M503 enabled?")
	case errors.Is(err, calibration.ErrInvalidMeasurement):
		fmt.Fprintln(stderr, "\nError: The measured distance must be a positive number in mm, e.g. '49.8' or '49.8mm'")
		fmt.Fprintln(stderr, "The value for this iteration was not written. Run the calibration again.")
	case errors.Is(err, calibration.ErrInvalidSession):
		fmt.Fprintln(stderr, "\nError: Invalid calibration settings")
		fmt.Fprintln(stderr, "  - '--repeats' must be at least 1")
		fmt.Fprintln(stderr, "  - '--distance' must be a positive number of mm")
		fmt.Fprintln(stderr, "  - '--max-change-ratio' must be 0 or greater than 1")
	case errors.Is(err, calibration.ErrChangeRejected):
		fmt.Fprintln(stderr, "\nNothing was written for the rejected value. Check the measurement and run again.")
	}
}

func main() {
	cmd := NewCommand()
	if err := cmd.Execute(); err != nil {
		handleCmdError(err)
		os.Exit(1)
	}
}

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spucal",
		Short: "spucal calibrates the steps per unit of a G-code motion controller",
		Long: `spucal calibrates the steps per unit of a Marlin-compatible motion controller.

It homes an axis, moves it by a known distance, asks you what a ruler reads,
and writes the corrected steps per unit back to the controller's EEPROM.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger()
		},
	}

	globalFlags := cmd.PersistentFlags()
	globalFlags.StringVarP(&logLevel, "log-level", "l", "info", "log level (trace, debug, info, warn, error, fatal, panic)")
	globalFlags.StringVar(&configPath, "config", configPath, "config file path")
	globalFlags.StringVar(&portFlag, "port", "", "serial device, discovered when empty")
	globalFlags.IntVar(&baudFlag, "baud", serial.DefaultBaud, "baud rate")
	globalFlags.StringVar(&driverFlag, "driver", serial.DriverBugst, "serial driver (bugst, tarm)")
	globalFlags.DurationVar(&timeoutFlag, "timeout", serial.DefaultReadTimeout, "how long to wait for a response line")
	globalFlags.DurationVar(&settleFlag, "settle", 2*time.Second, "how long to wait for the controller to boot after opening the port")
	globalFlags.Float64Var(&feedrateFlag, "feedrate", 0, "feedrate for moves in mm/min, 0 keeps the firmware's")
	globalFlags.BoolVar(&simulate, "simulate", false, "talk to a simulated controller")
	_ = globalFlags.MarkHidden("simulate")

	for _, i := range commandGroups {
		cmd.AddGroup(&cobra.Group{
			ID:    i,
			Title: i,
		})
	}

	cmd.AddCommand(
		NewCalibrateCommand(),
		NewReadCommand(),
		NewPositionCommand(),
		NewHomeCommand(),
		NewInfoCommand(),
		NewConfigCommand(),
		NewVersionCommand(),
	)

	return cmd
}
