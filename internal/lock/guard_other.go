//go:build !unix

package lock

import "sync"

var guardMu sync.Mutex

// lockGuard only serializes within this process here; cross-process
// owner-checked deletes are not atomic without flock.
func lockGuard(string) (func(), error) {
	guardMu.Lock()
	return guardMu.Unlock, nil
}
