// Package calibration implements the steps-per-unit calibration workflow.
// It contains:
//
//   - Phase: the discrete steps of the calibration state machine
//   - Session: the parameters of one calibration run
//   - Engine: the state machine driving a Controller, an Operator and a Sink
//   - Recompute: the correction formula
//
// The engine never touches a terminal. Prompts and progress are published to
// an events.Sink, and operator answers are read from an Operator, so the whole
// workflow can be driven by tests.
package calibration
