// Package transport owns the two sockets hand data travels over.
//
// Ownership boundary:
// - reliable stream channel: one persistent TCP connection carrying
//   length-prefixed frames, reconnecting forever on the send side and
//   accepting one logical stream at a time on the listen side
// - fast channel: one envelope per UDP datagram, fire and forget
//
// Both receive sides decode with an envelope.Codec and hand the result to
// a Sink. Neither side orders messages across channels.
package transport
