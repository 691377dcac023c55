package calibration

import (
	"errors"
	"fmt"
	"io"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/charlie0129/spucal/pkg/events"
	"github.com/charlie0129/spucal/pkg/types"
)

// fakeController honors M92-style writes and records every call.
type fakeController struct {
	spu     types.StepsPerUnit
	calls   []string
	readErr error
	homeErr error
	closed  int
}

func (f *fakeController) QueryIdentity() (string, error) {
	f.calls = append(f.calls, "identity")
	return "FIRMWARE_NAME:Fake", nil
}

func (f *fakeController) HomeAxis(axis types.Axis) error {
	f.calls = append(f.calls, "home "+axis.String())
	return f.homeErr
}

func (f *fakeController) MoveRelative(axis types.Axis, mm float64) error {
	f.calls = append(f.calls, fmt.Sprintf("move %s %g", axis, mm))
	return nil
}

func (f *fakeController) ReadStepsPerUnit() (types.StepsPerUnit, error) {
	f.calls = append(f.calls, "read")
	if f.readErr != nil {
		return types.StepsPerUnit{}, f.readErr
	}
	return f.spu, nil
}

func (f *fakeController) WriteStepsPerUnit(axis types.Axis, value float64) error {
	f.calls = append(f.calls, fmt.Sprintf("write %s %.4f", axis, value))
	f.spu = f.spu.With(axis, value)
	return nil
}

func (f *fakeController) DisengageMotors() error {
	f.calls = append(f.calls, "disengage")
	return nil
}

func (f *fakeController) Close() error {
	f.closed++
	return nil
}

func (f *fakeController) wrote() bool {
	for _, c := range f.calls {
		if len(c) > 5 && c[:5] == "write" {
			return true
		}
	}
	return false
}

// scriptedOperator answers prompts from a fixed list.
type scriptedOperator struct {
	answers []string
}

func (o *scriptedOperator) ReadLine() (string, error) {
	if len(o.answers) == 0 {
		return "", io.EOF
	}
	a := o.answers[0]
	o.answers = o.answers[1:]
	return a, nil
}

var defaultSPU = types.StepsPerUnit{X: 80, Y: 80, Z: 400, E: 500}

func TestCalibrateSingleIteration(t *testing.T) {
	ctrl := &fakeController{spu: defaultSPU}
	rec := events.NewRecorder()
	e := NewEngine(ctrl, &scriptedOperator{answers: []string{"", "49.0"}}, rec)

	res, err := e.Calibrate(Session{Axis: types.AxisX, Repeats: 1, Distance: 50})
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}

	want := 80.0 * 50 / 49.0
	if math.Abs(res.Final()-want) > 1e-9 || math.Abs(ctrl.spu.X-81.6327) > 1e-4 {
		t.Errorf("final = %v (controller %v), want %v", res.Final(), ctrl.spu.X, want)
	}

	wantCalls := []string{"read", "home X", "move X 50", "write X 81.6327", "disengage"}
	if diff := cmp.Diff(wantCalls, ctrl.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if ctrl.closed != 1 {
		t.Errorf("closed %d times, want 1", ctrl.closed)
	}
	if e.Phase() != PhaseFinished {
		t.Errorf("phase = %s, want %s", e.Phase(), PhaseFinished)
	}

	var phases []string
	for _, ev := range rec.Events(events.CalibrationPhase) {
		p, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
		if err != nil {
			t.Fatalf("DecodeAs() error = %v", err)
		}
		phases = append(phases, p.To)
	}
	wantPhases := []string{
		string(PhaseHoming),
		string(PhaseAwaitingMoveConfirmation),
		string(PhaseMoving),
		string(PhaseAwaitingMeasurement),
		string(PhaseRecomputing),
		string(PhaseWriting),
		string(PhaseFinished),
	}
	if diff := cmp.Diff(wantPhases, phases); diff != "" {
		t.Errorf("phases mismatch (-want +got):\n%s", diff)
	}

	prompts := rec.Events(events.CalibrationPrompt)
	if len(prompts) != 2 {
		t.Fatalf("got %d prompts, want 2", len(prompts))
	}
	p, _ := events.DecodeAs[events.CalibrationPromptEvent](prompts[1])
	if p.Expect != ExpectDistance {
		t.Errorf("second prompt expects %q, want %q", p.Expect, ExpectDistance)
	}

	m := rec.Events(events.CalibrationMeasurement)
	if len(m) != 1 {
		t.Fatalf("got %d measurement events, want 1", len(m))
	}
	got, _ := events.DecodeAs[events.CalibrationMeasurementEvent](m[0])
	if got.Current != 80 || got.Measured != 49 || got.Nominal != 50 {
		t.Errorf("measurement event = %+v", got)
	}
}

func TestCalibrateRepeatsUseWrittenBaseline(t *testing.T) {
	ctrl := &fakeController{spu: defaultSPU}
	op := &scriptedOperator{answers: []string{"", "51", "", "50.5", "", "50"}}
	res, err := NewEngine(ctrl, op, nil).Calibrate(Session{Axis: types.AxisY, Repeats: 3, Distance: 50})
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}
	if len(res.Iterations) != 3 {
		t.Fatalf("got %d iterations, want 3", len(res.Iterations))
	}
	for i := 1; i < len(res.Iterations); i++ {
		if res.Iterations[i].Before != res.Iterations[i-1].After {
			t.Errorf("iteration %d baseline %v, want previous result %v",
				i+1, res.Iterations[i].Before, res.Iterations[i-1].After)
		}
	}
	want := 80.0 * 50 / 51 * 50 / 50.5
	if math.Abs(res.Final()-want) > 1e-9 {
		t.Errorf("final = %v, want %v", res.Final(), want)
	}
	if ctrl.closed != 1 {
		t.Errorf("closed %d times, want 1", ctrl.closed)
	}
}

func TestCalibrateInvalidMeasurement(t *testing.T) {
	for _, answer := range []string{"abc", "0", "-49", "", "NaN", "Inf"} {
		t.Run(answer, func(t *testing.T) {
			ctrl := &fakeController{spu: defaultSPU}
			e := NewEngine(ctrl, &scriptedOperator{answers: []string{"", answer}}, nil)

			_, err := e.Calibrate(Session{Axis: types.AxisX, Repeats: 1, Distance: 50})
			if !errors.Is(err, ErrInvalidMeasurement) {
				t.Fatalf("Calibrate() error = %v, want ErrInvalidMeasurement", err)
			}
			if ctrl.wrote() {
				t.Errorf("rejected measurement was written: %q", ctrl.calls)
			}
			if ctrl.closed != 1 {
				t.Errorf("closed %d times, want 1", ctrl.closed)
			}
			if e.Phase() != PhaseError {
				t.Errorf("phase = %s, want %s", e.Phase(), PhaseError)
			}
			if last := ctrl.calls[len(ctrl.calls)-1]; last != "disengage" {
				t.Errorf("last call = %q, want disengage", last)
			}
		})
	}
}

func TestCalibrateParseErrorNeverWrites(t *testing.T) {
	parseErr := errors.New("unrecognized settings report")
	ctrl := &fakeController{readErr: parseErr}
	_, err := NewEngine(ctrl, &scriptedOperator{}, nil).Calibrate(Session{Axis: types.AxisZ, Repeats: 2, Distance: 10})
	if !errors.Is(err, parseErr) {
		t.Fatalf("Calibrate() error = %v, want %v", err, parseErr)
	}
	if ctrl.wrote() {
		t.Errorf("value written after parse error: %q", ctrl.calls)
	}
	if ctrl.closed != 1 {
		t.Errorf("closed %d times, want 1", ctrl.closed)
	}
}

func TestCalibrateOperatorGone(t *testing.T) {
	ctrl := &fakeController{spu: defaultSPU}
	_, err := NewEngine(ctrl, &scriptedOperator{}, nil).Calibrate(Session{Axis: types.AxisX, Repeats: 1, Distance: 50})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("Calibrate() error = %v, want EOF", err)
	}
	if ctrl.closed != 1 {
		t.Errorf("closed %d times, want 1", ctrl.closed)
	}
}

func TestCalibrateChangeGuard(t *testing.T) {
	tests := []struct {
		name    string
		confirm string
		wantErr error
	}{
		{name: "declined", confirm: "no", wantErr: ErrChangeRejected},
		{name: "empty", confirm: "", wantErr: ErrChangeRejected},
		{name: "accepted", confirm: "yes"},
		{name: "accepted short", confirm: " Y "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{spu: defaultSPU}
			rec := events.NewRecorder()
			// 5 instead of 50: typed in centimeters.
			op := &scriptedOperator{answers: []string{"", "5", tt.confirm}}
			_, err := NewEngine(ctrl, op, rec).Calibrate(Session{
				Axis: types.AxisX, Repeats: 1, Distance: 50, MaxChangeRatio: DefaultMaxChangeRatio,
			})

			if len(rec.Events(events.CalibrationPrompt)) != 3 {
				t.Errorf("expected a confirmation prompt")
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Calibrate() error = %v, want %v", err, tt.wantErr)
				}
				if ctrl.wrote() {
					t.Errorf("rejected value was written: %q", ctrl.calls)
				}
				return
			}
			if err != nil {
				t.Fatalf("Calibrate() error = %v", err)
			}
			if ctrl.spu.X != 800 {
				t.Errorf("X = %v, want 800", ctrl.spu.X)
			}
		})
	}
}

func TestCalibrateExtruderSkipsHoming(t *testing.T) {
	ctrl := &fakeController{spu: defaultSPU}
	rec := events.NewRecorder()
	_, err := NewEngine(ctrl, &scriptedOperator{answers: []string{"", "102"}}, rec).
		Calibrate(Session{Axis: types.AxisE, Repeats: 1, Distance: 100})
	if err != nil {
		t.Fatalf("Calibrate() error = %v", err)
	}
	wantCalls := []string{"read", "move E 100", "write E 490.1961", "disengage"}
	if diff := cmp.Diff(wantCalls, ctrl.calls); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
	if len(rec.Events(events.CalibrationWarning)) != 1 {
		t.Errorf("expected one warning event")
	}
}

func TestCalibrateInvalidSession(t *testing.T) {
	for _, s := range []Session{
		{Axis: "W", Repeats: 1, Distance: 50},
		{Axis: types.AxisX, Repeats: 0, Distance: 50},
		{Axis: types.AxisX, Repeats: 1, Distance: 0},
		{Axis: types.AxisX, Repeats: 1, Distance: -10},
		{Axis: types.AxisX, Repeats: 1, Distance: 50, MaxChangeRatio: 0.5},
	} {
		ctrl := &fakeController{spu: defaultSPU}
		_, err := NewEngine(ctrl, &scriptedOperator{}, nil).Calibrate(s)
		if !errors.Is(err, ErrInvalidSession) {
			t.Errorf("Calibrate(%+v) error = %v, want ErrInvalidSession", s, err)
		}
		if len(ctrl.calls) != 0 {
			t.Errorf("Calibrate(%+v) sent %q, want nothing", s, ctrl.calls)
		}
		if ctrl.closed != 1 {
			t.Errorf("Calibrate(%+v) closed %d times, want 1", s, ctrl.closed)
		}
	}
}

func TestSingleShotOperations(t *testing.T) {
	tests := []struct {
		name string
		run  func(e *Engine) error
		want []string
	}{
		{
			name: "read",
			run: func(e *Engine) error {
				spu, err := e.Read()
				if err == nil && spu != defaultSPU {
					return fmt.Errorf("Read() = %v, want %v", spu, defaultSPU)
				}
				return err
			},
			want: []string{"read", "disengage"},
		},
		{
			name: "home",
			run:  func(e *Engine) error { return e.Home(types.AxisZ) },
			want: []string{"home Z", "disengage"},
		},
		{
			name: "position",
			run:  func(e *Engine) error { return e.Position(types.AxisX, -12.5) },
			want: []string{"move X -12.5", "disengage"},
		},
		{
			name: "identify",
			run: func(e *Engine) error {
				_, err := e.Identify()
				return err
			},
			want: []string{"identity", "disengage"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &fakeController{spu: defaultSPU}
			if err := tt.run(NewEngine(ctrl, nil, nil)); err != nil {
				t.Fatalf("error = %v", err)
			}
			if diff := cmp.Diff(tt.want, ctrl.calls); diff != "" {
				t.Errorf("calls mismatch (-want +got):\n%s", diff)
			}
			if ctrl.closed != 1 {
				t.Errorf("closed %d times, want 1", ctrl.closed)
			}
		})
	}
}

func TestSingleShotClosesOnError(t *testing.T) {
	homeErr := errors.New("no ack")
	ctrl := &fakeController{homeErr: homeErr}
	if err := NewEngine(ctrl, nil, nil).Home(types.AxisX); !errors.Is(err, homeErr) {
		t.Fatalf("Home() error = %v, want %v", err, homeErr)
	}
	if ctrl.closed != 1 {
		t.Errorf("closed %d times, want 1", ctrl.closed)
	}
}
