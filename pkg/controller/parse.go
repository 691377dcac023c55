package controller

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charlie0129/spucal/pkg/types"
)

// ErrParse is returned when the settings report has no steps-per-unit line
// of the expected shape.
var ErrParse = errors.New("unrecognized settings report")

// ParseStepsPerUnit finds the first line of the form
//
//	M92 X<n> Y<n> Z<n> E<n>
//
// in a settings report and returns its values. Marlin prefixes report lines
// with "echo:". Lines with a different field order, a missing axis or a
// non-positive value do not match.
func ParseStepsPerUnit(lines []string) (types.StepsPerUnit, error) {
	for _, line := range lines {
		if spu, ok := parseStepsLine(line); ok {
			return spu, nil
		}
	}
	return types.StepsPerUnit{}, fmt.Errorf("%w: no %q line with X, Y, Z and E values in %d lines",
		ErrParse, CmdStepsPerUnit, len(lines))
}

func parseStepsLine(line string) (types.StepsPerUnit, bool) {
	line = strings.TrimPrefix(strings.TrimSpace(line), "echo:")
	fields := strings.Fields(line)

	for i, f := range fields {
		if f != CmdStepsPerUnit {
			continue
		}
		if spu, ok := parseStepsFields(fields[i+1:]); ok {
			return spu, true
		}
	}
	return types.StepsPerUnit{}, false
}

func parseStepsFields(fields []string) (types.StepsPerUnit, bool) {
	var spu types.StepsPerUnit
	if len(fields) < len(types.Axes) {
		return spu, false
	}

	for i, axis := range types.Axes {
		v, ok := parseWord(fields[i], axis.String())
		if !ok {
			return types.StepsPerUnit{}, false
		}
		spu = spu.With(axis, v)
	}
	return spu, true
}

// parseWord parses "<letter><digits and dots>" into a positive number.
func parseWord(field, letter string) (float64, bool) {
	num, ok := strings.CutPrefix(field, letter)
	if !ok || num == "" {
		return 0, false
	}
	for _, r := range num {
		if (r < '0' || r > '9') && r != '.' {
			return 0, false
		}
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
