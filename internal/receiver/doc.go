// Package receiver is the consuming side of the link. A Service binds the
// reliable and fast channels, routes everything through a delivery.Router
// and applies it to a Consumer on the render and physics ticks. It also
// owns recording and playback, and can expose a line-JSON admin endpoint
// and an HTTP status endpoint.
package receiver
