// Package envelope owns the tagged payload container and its codec.
//
// Ownership boundary:
// - Envelope tagged union over hand state, skeleton and mesh
// - CBOR serialization shared by the wire and recording files
// - optional whole-buffer compression applied after serialization
//
// Wire layout of one encoded envelope:
//
//	compress(cbor({1: kind, 2|3|4: payload}))
package envelope
