// Package session owns stream reliability primitives shared by the
// producer and the transports.
//
// Ownership boundary:
// - stream timeouts, keepalive interval and reconnect backoff defaults
// - retry loops over a fixed or growing backoff
// - the snapshot outbox replayed after every reconnect
package session
