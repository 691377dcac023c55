package gcode

import (
	"strconv"
	"strings"
)

// Command joins a directive and its words into one command line.
//
//	Command("G1", Word("X", 50), Word("F", 1200)) == "G1 X50 F1200"
func Command(directive string, words ...string) string {
	if len(words) == 0 {
		return directive
	}
	return directive + " " + strings.Join(words, " ")
}

// Word formats a parameter letter and a numeric value, e.g. "X81.25".
func Word(letter string, v float64) string {
	return letter + FormatFloat(v)
}

// FormatFloat returns the shortest decimal representation that parses back
// to exactly v. Exponent notation is never used, so firmware can parse it.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
