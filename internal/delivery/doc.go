// Package delivery owns the hand-off between receive loops and the
// consumer tick.
//
// Ownership boundary:
// - latest-wins mailboxes for per-frame hand states
// - bounded FIFOs for topology snapshots, evicting the oldest on overflow
// - the applied-state history used for reprocessing
//
// Every slot has its own lock. Drains never block on another slot and never
// return errors.
package delivery
