// Package daemon assembles the syncdockd runtime: the supervised rc
// process, the request router with its CLI fallback, the mount and sync
// orchestrators, and the history journal. It enforces single-instance
// execution via a lock file and degrades to CLI-only mode when the rc
// daemon cannot be started.
package daemon
