package calibration

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/spucal/pkg/events"
	"github.com/charlie0129/spucal/pkg/types"
)

// Controller is the subset of *controller.Controller the engine drives.
type Controller interface {
	QueryIdentity() (string, error)
	HomeAxis(axis types.Axis) error
	MoveRelative(axis types.Axis, mm float64) error
	ReadStepsPerUnit() (types.StepsPerUnit, error)
	WriteStepsPerUnit(axis types.Axis, value float64) error
	DisengageMotors() error
	Close() error
}

// Operator supplies the human side of the workflow. ReadLine returns the
// next line the operator typed.
type Operator interface {
	ReadLine() (string, error)
}

// Prompt expectations, see events.CalibrationPromptEvent.
const (
	ExpectConfirm  = "confirm"
	ExpectDistance = "distance"
	ExpectYes      = "yes"
)

// Engine runs exactly one operation against a controller. The operation
// owns the connection: when it returns, the controller has been closed,
// whether it succeeded or not.
type Engine struct {
	ctrl Controller
	op   Operator
	sink events.Sink

	phase     Phase
	session   Session
	iteration int
	current   types.StepsPerUnit
	measured  float64
	next      float64
	result    Result
}

// NewEngine returns an Engine. A nil sink discards events.
func NewEngine(ctrl Controller, op Operator, sink events.Sink) *Engine {
	if sink == nil {
		sink = events.Discard
	}
	return &Engine{
		ctrl:  ctrl,
		op:    op,
		sink:  sink,
		phase: PhaseIdle,
	}
}

// Phase returns the current phase.
func (e *Engine) Phase() Phase {
	return e.phase
}

// withConnection runs fn, disengages the motors and closes the connection.
// The connection is closed on every path. After a failure, disengaging is
// best-effort and its error is only logged.
func (e *Engine) withConnection(fn func() error) (err error) {
	defer func() {
		if cerr := e.ctrl.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("failed to close controller connection")
			if err == nil {
				err = fmt.Errorf("failed to close connection: %w", cerr)
			}
		}
	}()

	if err := fn(); err != nil {
		if e.phase != PhaseIdle {
			e.transition(PhaseError, err.Error())
		}
		if derr := e.ctrl.DisengageMotors(); derr != nil {
			logrus.WithError(derr).Warn("failed to disengage motors after error")
		}
		return err
	}

	return e.ctrl.DisengageMotors()
}

// Calibrate runs the full home → move → measure → recompute → write loop
// s.Repeats times.
func (e *Engine) Calibrate(s Session) (*Result, error) {
	if err := s.Validate(); err != nil {
		if cerr := e.ctrl.Close(); cerr != nil {
			logrus.WithError(cerr).Warn("failed to close controller connection")
		}
		return nil, err
	}

	e.session = s
	e.iteration = 1
	e.result = Result{Axis: s.Axis, Distance: s.Distance}

	err := e.withConnection(func() error {
		e.transition(PhaseHoming, "")
		for e.phase != PhaseFinished {
			if err := e.step(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &e.result, nil
}

//nolint:gocyclo
func (e *Engine) step() error {
	s := e.session
	log := logrus.WithFields(logrus.Fields{
		"phase":     e.phase,
		"axis":      s.Axis,
		"iteration": e.iteration,
		"operation": "calibration",
	})

	switch e.phase {
	case PhaseHoming:
		spu, err := e.ctrl.ReadStepsPerUnit()
		if err != nil {
			return err
		}
		e.current = spu
		log.WithField("stepsPerUnit", spu.Get(s.Axis)).Debug("baseline read")

		if s.Axis.Homeable() {
			if err := e.ctrl.HomeAxis(s.Axis); err != nil {
				return err
			}
		} else {
			e.warn(fmt.Sprintf("axis %s has no home position; the current position is used as zero", s.Axis))
		}
		e.transition(PhaseAwaitingMoveConfirmation, "")

	case PhaseAwaitingMoveConfirmation:
		msg := fmt.Sprintf("Set the ruler to 0 at the current position of axis %s. The axis will move %s mm. Press ENTER when ready",
			s.Axis, formatMM(s.Distance))
		if _, err := e.ask(msg, ExpectConfirm); err != nil {
			return err
		}
		e.transition(PhaseMoving, "")

	case PhaseMoving:
		if err := e.ctrl.MoveRelative(s.Axis, s.Distance); err != nil {
			return err
		}
		e.transition(PhaseAwaitingMeasurement, "")

	case PhaseAwaitingMeasurement:
		answer, err := e.ask("Type the measured distance in mm, then press ENTER", ExpectDistance)
		if err != nil {
			return err
		}
		measured, err := ParseMeasurement(answer)
		if err != nil {
			return err
		}
		e.measured = measured
		e.transition(PhaseRecomputing, "")

	case PhaseRecomputing:
		current := e.current.Get(s.Axis)
		next, err := Recompute(current, s.Distance, e.measured)
		if err != nil {
			return err
		}
		if err := e.guardChange(current, next); err != nil {
			return err
		}
		e.next = next

		e.sink.Publish(events.CalibrationMeasurement, events.CalibrationMeasurementEvent{
			Axis:      s.Axis.String(),
			Iteration: e.iteration,
			Current:   current,
			Nominal:   s.Distance,
			Measured:  e.measured,
			New:       next,
			Ts:        time.Now().Unix(),
		})
		log.WithFields(logrus.Fields{
			"current":  current,
			"measured": e.measured,
			"new":      next,
		}).Info("recomputed steps per unit")
		e.transition(PhaseWriting, "")

	case PhaseWriting:
		if err := e.ctrl.WriteStepsPerUnit(s.Axis, e.next); err != nil {
			return err
		}
		e.result.Iterations = append(e.result.Iterations, Iteration{
			Iteration: e.iteration,
			Before:    e.current.Get(s.Axis),
			Measured:  e.measured,
			After:     e.next,
		})
		// The snapshot is only valid for the iteration that read it.
		e.current = types.StepsPerUnit{}

		if e.iteration < s.Repeats {
			e.iteration++
			e.transition(PhaseHoming, "")
		} else {
			e.transition(PhaseFinished, fmt.Sprintf("calibrated %s to %s steps/mm", s.Axis, FormatSteps(e.next)))
		}

	default:
		return fmt.Errorf("unexpected phase %s", e.phase)
	}

	return nil
}

// guardChange asks the operator to confirm corrections outside the session's
// change ratio.
func (e *Engine) guardChange(current, next float64) error {
	limit := e.session.MaxChangeRatio
	if limit == 0 {
		return nil
	}
	ratio := next / current
	if ratio <= limit && ratio >= 1/limit {
		return nil
	}

	msg := fmt.Sprintf("The new value %s is %.2fx the current value %s. Type 'yes' to write it anyway",
		FormatSteps(next), ratio, FormatSteps(current))
	answer, err := e.ask(msg, ExpectYes)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrChangeRejected, FormatSteps(current), FormatSteps(next))
}

func (e *Engine) ask(msg, expect string) (string, error) {
	e.sink.Publish(events.CalibrationPrompt, events.CalibrationPromptEvent{
		Message: msg,
		Expect:  expect,
		Ts:      time.Now().Unix(),
	})
	line, err := e.op.ReadLine()
	if err != nil {
		return "", fmt.Errorf("failed to read operator input: %w", err)
	}
	return line, nil
}

func (e *Engine) warn(msg string) {
	e.sink.Publish(events.CalibrationWarning, events.CalibrationWarningEvent{
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

func (e *Engine) transition(to Phase, msg string) {
	from := e.phase
	e.phase = to

	logrus.WithFields(logrus.Fields{
		"from":      from,
		"to":        to,
		"iteration": e.iteration,
	}).Debug("calibration phase")

	e.sink.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		From:      string(from),
		To:        string(to),
		Axis:      e.session.Axis.String(),
		Iteration: e.iteration,
		Repeats:   e.session.Repeats,
		Message:   msg,
		Ts:        time.Now().Unix(),
	})
}

// Read returns the current steps per unit.
func (e *Engine) Read() (types.StepsPerUnit, error) {
	var spu types.StepsPerUnit
	err := e.withConnection(func() error {
		var err error
		spu, err = e.ctrl.ReadStepsPerUnit()
		return err
	})
	return spu, err
}

// Home homes a single axis.
func (e *Engine) Home(axis types.Axis) error {
	return e.withConnection(func() error {
		return e.ctrl.HomeAxis(axis)
	})
}

// Position moves axis by mm relative to where it is.
func (e *Engine) Position(axis types.Axis, mm float64) error {
	return e.withConnection(func() error {
		return e.ctrl.MoveRelative(axis, mm)
	})
}

// Identify returns the firmware identity.
func (e *Engine) Identify() (string, error) {
	var id string
	err := e.withConnection(func() error {
		var err error
		id, err = e.ctrl.QueryIdentity()
		return err
	})
	return id, err
}

func formatMM(v float64) string {
	return fmt.Sprintf("%g", v)
}

// FormatSteps formats a steps-per-unit value for display.
func FormatSteps(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
