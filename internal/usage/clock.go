package usage

import (
	"sync"
	"time"
)

// Clock provides time information to the timer engine.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time in the local time zone.
type RealClock struct{}

// Now returns the current system time.
func (RealClock) Now() time.Time {
	return time.Now()
}

// TestClock provides a manually advanced time for testing.
type TestClock struct {
	mu          sync.Mutex
	CurrentTime time.Time
}

// NewTestClock returns a TestClock fixed at t.
func NewTestClock(t time.Time) *TestClock {
	return &TestClock{CurrentTime: t}
}

// Now returns the test time.
func (t *TestClock) Now() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.CurrentTime
}

// Advance moves the test time forward by d.
func (t *TestClock) Advance(d time.Duration) {
	t.mu.Lock()
	t.CurrentTime = t.CurrentTime.Add(d)
	t.mu.Unlock()
}

// Set moves the test time to tm.
func (t *TestClock) Set(tm time.Time) {
	t.mu.Lock()
	t.CurrentTime = tm
	t.mu.Unlock()
}
