// Package rcdaemon supervises the external remote-control daemon process:
// spawning it with a deterministic argument set, polling the rc endpoint
// until it becomes ready, watching for unexpected exits, and terminating it
// with a bounded grace period on shutdown.
package rcdaemon
