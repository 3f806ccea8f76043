// Package syncjobs supervises daemon-side sync jobs: at most one tracked
// job per bookmark sync slot. Fresh bidirectional slots run a bootstrap
// protocol (conservative seed copy, forced resync, steady job) before the
// initialized latch flips; a periodic health loop re-arms finished
// bidirectional runs and self-heals safety aborts with a forced resync.
package syncjobs
