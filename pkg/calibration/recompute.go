package calibration

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrInvalidMeasurement is returned for a non-numeric or non-positive
	// measured distance.
	ErrInvalidMeasurement = errors.New("invalid measurement")
	// ErrChangeRejected is returned when the operator declines to write a
	// suspiciously large correction.
	ErrChangeRejected = errors.New("correction rejected by operator")
)

// Recompute returns the corrected steps per unit. Physical travel is
// proportional to the configured value, so an axis that overshot gets fewer
// steps per unit and one that fell short gets more:
//
//	new = current * nominal / measured
func Recompute(current, nominal, measured float64) (float64, error) {
	if !(measured > 0) || math.IsInf(measured, 0) {
		return 0, fmt.Errorf("%w: measured distance must be positive, got %v", ErrInvalidMeasurement, measured)
	}
	if !(current > 0) || !(nominal > 0) {
		return 0, fmt.Errorf("current (%v) and nominal (%v) must be positive", current, nominal)
	}

	v := current * nominal / measured
	if !(v > 0) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: computed steps per unit %v is out of range", ErrInvalidMeasurement, v)
	}
	return v, nil
}

// ParseMeasurement parses an operator-typed distance such as "49.5" or
// "49.5mm".
func ParseMeasurement(input string) (float64, error) {
	s := strings.TrimSpace(input)
	s = strings.TrimSpace(strings.TrimSuffix(strings.ToLower(s), "mm"))
	if s == "" {
		return 0, fmt.Errorf("%w: no distance entered", ErrInvalidMeasurement)
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidMeasurement, strings.TrimSpace(input))
	}
	if v <= 0 {
		return 0, fmt.Errorf("%w: distance must be positive, got %v", ErrInvalidMeasurement, v)
	}
	return v, nil
}
