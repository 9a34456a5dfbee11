// Package hand owns the tracking data model carried on the wire.
//
// Ownership boundary:
// - per-tick hand state keyed by (side, phase)
// - per-session skeleton and mesh topology keyed by side
// - structural validation of received payloads
//
// Values here are plain data. Applying them to a scene is the consumer's job.
package hand
