package types

import "fmt"

// StepsPerUnit holds the number of motor steps per millimeter of travel for
// every axis. Values reported by a controller are always positive.
type StepsPerUnit struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	E float64 `json:"e"`
}

// Get returns the value for the given axis.
func (s StepsPerUnit) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return s.X
	case AxisY:
		return s.Y
	case AxisZ:
		return s.Z
	case AxisE:
		return s.E
	}
	return 0
}

// With returns a copy of s with the value for axis a replaced.
func (s StepsPerUnit) With(a Axis, v float64) StepsPerUnit {
	switch a {
	case AxisX:
		s.X = v
	case AxisY:
		s.Y = v
	case AxisZ:
		s.Z = v
	case AxisE:
		s.E = v
	}
	return s
}

func (s StepsPerUnit) String() string {
	return fmt.Sprintf("X:%g Y:%g Z:%g E:%g", s.X, s.Y, s.Z, s.E)
}
