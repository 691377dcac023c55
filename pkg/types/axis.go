package types

import (
	"fmt"
	"strings"
)

// Axis is one of the independently driven motion channels of a controller.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	// AxisE is the extruder. It is driven like a linear axis but has no
	// endstop, so it cannot be homed.
	AxisE Axis = "E"
)

// Axes lists every axis in the order the settings report uses.
var Axes = []Axis{AxisX, AxisY, AxisZ, AxisE}

// ParseAxis converts a user supplied axis name (case-insensitive) to an Axis.
func ParseAxis(s string) (Axis, error) {
	a := Axis(strings.ToUpper(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("invalid axis %q: must be one of X, Y, Z, E", s)
	}
	return a, nil
}

func (a Axis) Valid() bool {
	switch a {
	case AxisX, AxisY, AxisZ, AxisE:
		return true
	}
	return false
}

// Homeable reports whether the axis has a reference position to home to.
func (a Axis) Homeable() bool {
	return a == AxisX || a == AxisY || a == AxisZ
}

func (a Axis) String() string {
	return string(a)
}
