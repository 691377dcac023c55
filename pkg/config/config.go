package config

import "time"

// Config is the effective configuration of a run. Values not set by the
// source fall back to built-in defaults.
type Config interface {
	Port() string
	Baud() int
	Driver() string
	ReadTimeout() time.Duration
	Settle() time.Duration
	Repeats() int
	Distance() float64
	Feedrate() float64
	DevicePatterns() []string
	MaxChangeRatio() float64

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
