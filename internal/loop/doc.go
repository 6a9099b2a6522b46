// Package loop runs the quality-gated refinement state machine.
//
// A run starts in INIT, where the untouched workspace is measured and saved
// as the iteration-0 baseline checkpoint. Each ITERATING cycle then plans,
// generates, reviews and applies one patch, measures the process value,
// feeds it to the controller, and decides whether to merge, roll back or
// continue. The guard set runs after every cycle; the first guard to trip
// moves the run to its terminal state. FINALIZED optionally restores the
// best checkpoint and returns a Report.
//
// The loop is single-threaded. Stop and context cancellation take effect
// at iteration boundaries only: an iteration in flight always completes.
package loop
