package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/charlie0129/spucal/pkg/calibration"
	"github.com/charlie0129/spucal/pkg/discovery"
	"github.com/charlie0129/spucal/pkg/events"
	"github.com/charlie0129/spucal/pkg/gcode"
)

// lineOperator reads operator answers one line at a time. It is shared
// with the device menu so that buffered input is never lost between them.
type lineOperator struct {
	in *bufio.Reader
}

var _ calibration.Operator = &lineOperator{}

func (o *lineOperator) ReadLine() (string, error) {
	line, err := o.in.ReadString('\n')
	if err != nil {
		// The last line of piped input may lack a newline.
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// menuChooser prints a numbered list of devices and reads the selection.
type menuChooser struct {
	op  *lineOperator
	out io.Writer
}

func (m *menuChooser) Choose(candidates []discovery.Candidate) (int, error) {
	fmt.Fprintln(m.out, "Multiple devices found:")
	for i, c := range candidates {
		fmt.Fprintf(m.out, "  [%d] %s\n", i, c)
	}
	fmt.Fprint(m.out, color.New(color.Bold).Sprint("Select a device: "))

	line, err := m.op.ReadLine()
	if err != nil {
		return 0, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		fmt.Fprintf(m.out, "%q is not a number\n", line)
		return -1, nil
	}
	return idx, nil
}

// printer renders engine events for the operator.
type printer struct {
	out io.Writer
}

func (p *printer) Publish(_ string, payload any) {
	bold := color.New(color.Bold).SprintFunc()

	switch e := payload.(type) {
	case events.CalibrationPromptEvent:
		fmt.Fprintf(p.out, "%s: ", bold(e.Message))
	case events.CalibrationWarningEvent:
		fmt.Fprintln(p.out, color.YellowString("Warning: %s", e.Message))
	case events.CalibrationMeasurementEvent:
		fmt.Fprintf(p.out, "Measured %s mm of %s mm: %s -> %s steps/mm\n",
			bold(gcode.FormatFloat(e.Measured)), gcode.FormatFloat(e.Nominal),
			calibration.FormatSteps(e.Current), bold(calibration.FormatSteps(e.New)))
	case events.CalibrationPhaseEvent:
		switch calibration.Phase(e.To) {
		case calibration.PhaseHoming:
			fmt.Fprintf(p.out, "\n%s\n", bold(fmt.Sprintf("Iteration %d/%d on axis %s", e.Iteration, e.Repeats, e.Axis)))
		case calibration.PhaseFinished:
			fmt.Fprintln(p.out, color.GreenString("Finished: %s", e.Message))
		case calibration.PhaseError:
			fmt.Fprintln(p.out, color.RedString("Aborted in %s: %s", e.From, e.Message))
		}
	}
}
