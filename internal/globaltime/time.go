// Package globaltime is the clock behind every timestamp the pipeline
// persists, overridable from tests.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu    sync.RWMutex
	clock = time.Now
)

// UTC returns the current clock reading in UTC. All persisted timestamps go
// through here so tests can pin them.
func UTC() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return clock().UTC()
}

// Freeze pins the clock to a fixed instant and returns the restore func.
func Freeze(t time.Time) func() {
	mu.Lock()
	clock = func() time.Time { return t }
	mu.Unlock()
	return func() {
		mu.Lock()
		clock = time.Now
		mu.Unlock()
	}
}
