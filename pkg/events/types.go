package events

import (
	"encoding/json"
	"fmt"
)

// Event name constants
const (
	CalibrationPhase       = "calibration.phase"
	CalibrationPrompt      = "calibration.prompt"
	CalibrationMeasurement = "calibration.measurement"
	CalibrationWarning     = "calibration.warning"
)

// Event is a named event with a JSON payload.
type Event struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Axis      string `json:"axis"`
	Iteration int    `json:"iteration"`
	Repeats   int    `json:"repeats"`
	Message   string `json:"message,omitempty"`
	Ts        int64  `json:"ts"`
}

// CalibrationPromptEvent asks the operator for input. The answer is the
// next line read from the operator.
type CalibrationPromptEvent struct {
	Message string `json:"message"`
	// Expect describes the answer: "confirm" (any line), "distance" (a
	// number in millimeters) or "yes" (the literal word).
	Expect string `json:"expect"`
	Ts     int64  `json:"ts"`
}

// CalibrationMeasurementEvent reports one recomputation.
type CalibrationMeasurementEvent struct {
	Axis      string  `json:"axis"`
	Iteration int     `json:"iteration"`
	Current   float64 `json:"current"`
	Nominal   float64 `json:"nominal"`
	Measured  float64 `json:"measured"`
	New       float64 `json:"new"`
	Ts        int64   `json:"ts"`
}

// CalibrationWarningEvent reports a recoverable problem.
type CalibrationWarningEvent struct {
	Message string `json:"message"`
	Ts      int64  `json:"ts"`
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", e.Name, err)
	}
	return nil
}

// DecodeAs returns the payload of e as a T, e.g.
//
//	phase, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
func DecodeAs[T any](e Event) (T, error) {
	var v T
	err := e.Decode(&v)
	return v, err
}
