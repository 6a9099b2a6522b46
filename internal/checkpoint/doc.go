// Package checkpoint persists workspace snapshots keyed by iteration.
//
// Each checkpoint is a directory under the store root holding a full copy
// of the workspace and a metadata.json with the PV at capture time. The
// store keeps the best-PV checkpoint plus the N most recent; Restore swaps
// the live workspace for a snapshot atomically.
package checkpoint
