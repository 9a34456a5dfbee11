// Package observability owns process metrics and the HTTP middleware that
// feeds them.
package observability
