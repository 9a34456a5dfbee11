// Package sender is the producing side of the link. It polls a Source at
// the render and physics rates, streams hand states over the fast channel
// and hands each side's skeleton and mesh to the reliable channel once the
// source can supply them.
package sender
