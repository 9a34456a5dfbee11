// Package recording owns capture and deterministic replay of hand streams.
//
// Ownership boundary:
// - Recorder: folds drained hand states into per-tick frames
// - Registry: finished recordings by name
// - Store: one checksummed file per recording
// - Player: sequential or pinned playback into a Publisher
package recording
