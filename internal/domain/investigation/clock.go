package investigation

import "time"

// Clock is the time source behind lifecycle timestamps. Investigations read
// UpdatedAt and LastAccessedAt through it so tests can pin the clock.
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// MockClock returns a fixed instant and only moves when advanced
type MockClock struct {
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.CurrentTime = m.CurrentTime.Add(d)
}

var clock Clock = RealClock{}

// SetClock swaps the package clock; pair with ResetClock in a deferred call
func SetClock(c Clock) {
	clock = c
}

// ResetClock restores the system clock
func ResetClock() {
	clock = RealClock{}
}
