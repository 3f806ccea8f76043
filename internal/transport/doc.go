// Package transport abstracts how rc endpoints are reached: over the
// daemon's HTTP remote-control API when it is ready, or through a
// synchronous command-line invocation for a small allow-list of read-only
// endpoints when it is not.
package transport
