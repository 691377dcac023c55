package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/charlie0129/spucal/pkg/types"
)

// Phase defines phases for calibration.
type Phase string

const (
	PhaseIdle                     Phase = "Idle"
	PhaseHoming                   Phase = "Homing"
	PhaseAwaitingMoveConfirmation Phase = "AwaitingMoveConfirmation"
	PhaseMoving                   Phase = "Moving"
	PhaseAwaitingMeasurement      Phase = "AwaitingMeasurement"
	PhaseRecomputing              Phase = "Recomputing"
	PhaseWriting                  Phase = "Writing"
	PhaseFinished                 Phase = "Finished"
	PhaseError                    Phase = "Error"
)

const (
	DefaultRepeats  = 3
	DefaultDistance = 50.0
	// DefaultMaxChangeRatio asks for confirmation before writing a value
	// more than twice (or less than half) the current one. A real
	// correction is a few percent. A factor of two usually means the
	// distance was typed in the wrong unit.
	DefaultMaxChangeRatio = 2.0
)

// ErrInvalidSession is returned for session parameters that cannot be run.
var ErrInvalidSession = errors.New("invalid calibration session")

// Session holds the parameters of one calibration run.
type Session struct {
	Axis types.Axis `json:"axis"`
	// Repeats is the number of home-move-measure iterations.
	Repeats int `json:"repeats"`
	// Distance is the commanded travel in millimeters.
	Distance float64 `json:"distance"`
	// MaxChangeRatio bounds new/current before the operator must confirm
	// the write. 0 disables the check.
	MaxChangeRatio float64 `json:"maxChangeRatio"`
}

// Validate checks s before any command is sent.
func (s Session) Validate() error {
	if !s.Axis.Valid() {
		return fmt.Errorf("%w: unknown axis %q", ErrInvalidSession, s.Axis)
	}
	if s.Repeats < 1 {
		return fmt.Errorf("%w: repeats must be at least 1, got %d", ErrInvalidSession, s.Repeats)
	}
	if !(s.Distance > 0) || math.IsInf(s.Distance, 0) {
		return fmt.Errorf("%w: distance must be positive, got %v", ErrInvalidSession, s.Distance)
	}
	if s.MaxChangeRatio != 0 && !(s.MaxChangeRatio > 1) {
		return fmt.Errorf("%w: max change ratio must be 0 or greater than 1, got %v", ErrInvalidSession, s.MaxChangeRatio)
	}
	return nil
}

// Iteration records one pass through the loop.
type Iteration struct {
	Iteration int     `json:"iteration"`
	Before    float64 `json:"before"`
	Measured  float64 `json:"measured"`
	After     float64 `json:"after"`
}

// Result is returned by a completed calibration.
type Result struct {
	Axis       types.Axis  `json:"axis"`
	Distance   float64     `json:"distance"`
	Iterations []Iteration `json:"iterations"`
}

// Final returns the last written value, or 0 when nothing was written.
func (r *Result) Final() float64 {
	if r == nil || len(r.Iterations) == 0 {
		return 0
	}
	return r.Iterations[len(r.Iterations)-1].After
}
