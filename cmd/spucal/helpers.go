package main

import (
	"fmt"
	"math"
	"strconv"

	"github.com/charlie0129/spucal/pkg/types"
)

func parseAxisArg(args []string, idx int) (types.Axis, error) {
	if len(args) <= idx {
		return "", fmt.Errorf("invalid number of arguments")
	}

	return types.ParseAxis(args[idx])
}

func parseFloatArg(args []string, idx int, valueName string) (float64, error) {
	if len(args) <= idx {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(args[idx], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("invalid %s: %s", valueName, args[idx])
	}

	return value, nil
}
