// Package globaltime is the process clock. Tests pin or step it to get deterministic timestamps.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu      sync.RWMutex
	nowFunc = time.Now
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	return nowFunc()
}

// UTC returns Now in UTC truncated to microseconds, the precision postgres keeps.
func UTC() time.Time {
	return Now().UTC().Truncate(time.Microsecond)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = func() time.Time { return t }
}

// Advance moves a mocked clock forward by d. It pins the real clock first when none is mocked.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	next := nowFunc().Add(d)
	nowFunc = func() time.Time { return next }
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	nowFunc = time.Now
}
