//go:build !unix

package lock

// processAlive cannot probe foreign pids here; staleness then relies on
// the lease timeout alone.
func processAlive(pid int) bool { return pid > 0 }
