package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/events"
	"github.com/charlie0129/spucal/pkg/gcode"
)

func NewCalibrateCommand() *cobra.Command {
	var (
		repeats        int
		distance       float64
		maxChangeRatio float64
		jsonEvents     bool
	)

	cmd := &cobra.Command{
		Use:     "calibrate <axis>",
		Aliases: []string{"cali"},
		Short:   "Calibrate the steps per unit of an axis",
		Long: `Calibrate the steps per unit of an axis.

Each iteration homes the axis, asks you to zero a ruler, moves the axis by
--distance mm and asks what the ruler reads. The steps per unit are
recomputed from your measurement and stored in the controller's EEPROM.

The extruder (E) cannot be homed. Its current position is used as zero.`,
		GroupID: gBasic,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			axis, err := parseAxisArg(args, 0)
			if err != nil {
				return err
			}

			s, err := openSession(cmd)
			if err != nil {
				return err
			}

			sess := calibration.Session{
				Axis:           axis,
				Repeats:        s.conf.Repeats(),
				Distance:       s.conf.Distance(),
				MaxChangeRatio: s.conf.MaxChangeRatio(),
			}
			flags := cmd.Flags()
			if flags.Changed("repeats") {
				sess.Repeats = repeats
			}
			if flags.Changed("distance") {
				sess.Distance = distance
			}
			if flags.Changed("max-change-ratio") {
				sess.MaxChangeRatio = maxChangeRatio
			}

			logrus.WithFields(logrus.Fields{
				"axis":     sess.Axis,
				"repeats":  sess.Repeats,
				"distance": sess.Distance,
			}).Debug("starting calibration")

			var extra []events.Sink
			if jsonEvents {
				extra = append(extra, events.NewJSONLines(cmd.ErrOrStderr()))
			}

			res, err := s.engine(cmd, axis, extra...).Calibrate(sess)
			if err != nil {
				return fmt.Errorf("failed to calibrate axis %s: %w", axis, err)
			}

			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	cmd.Flags().IntVar(&repeats, "repeats", calibration.DefaultRepeats, "number of iterations")
	cmd.Flags().Float64Var(&distance, "distance", calibration.DefaultDistance, "distance to move in mm")
	cmd.Flags().Float64Var(&maxChangeRatio, "max-change-ratio", calibration.DefaultMaxChangeRatio, "ask before writing a value this many times larger or smaller than the current one, 0 never asks")
	cmd.Flags().BoolVar(&jsonEvents, "json-events", false, "also write progress events to stderr as JSON lines")

	return cmd
}

func printResult(out io.Writer, res *calibration.Result) {
	bold := color.New(color.Bold).SprintFunc()

	fmt.Fprintf(out, "\n%s\n", bold(fmt.Sprintf("Axis %s, %s mm per move", res.Axis, gcode.FormatFloat(res.Distance))))
	fmt.Fprintf(out, "%-10s %12s %12s %12s\n", "Iteration", "Before", "Measured", "After")
	for _, it := range res.Iterations {
		fmt.Fprintf(out, "%-10d %12s %12s %12s\n", it.Iteration, calibration.FormatSteps(it.Before), calibration.FormatSteps(it.Measured), calibration.FormatSteps(it.After))
	}
	fmt.Fprintf(out, "Steps per unit for %s: %s\n", res.Axis, color.GreenString("%s", calibration.FormatSteps(res.Final())))
}
