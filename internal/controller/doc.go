// Package controller implements the discrete-time PID controller that steers
// the refinement loop toward its target quality.
//
// The controller is pure computation: every call to Compute reads the
// persisted state and the two inputs, updates the state once, and returns
// a clamped control signal plus an oscillation flag. Anti-windup clamps the
// integral, a first-order low-pass filter smooths the derivative, and an
// optional deadband zeroes small outputs near the setpoint.
package controller
