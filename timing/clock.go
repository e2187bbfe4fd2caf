package timing

import "sync/atomic"

// TimeTeller exposes the current simulation cycle. Queues receive one at
// construction instead of reading a process-wide clock.
type TimeTeller interface {
	CurrentTime() VTimeInCycle
}

// TimeTellerFunc adapts a function to the TimeTeller interface.
type TimeTellerFunc func() VTimeInCycle

// CurrentTime returns f().
func (f TimeTellerFunc) CurrentTime() VTimeInCycle {
	return f()
}

// ManualClock is a TimeTeller whose time only moves when told to. It is safe
// for concurrent use and is mostly used to drive queues in tests and in
// hand-stepped simulations.
type ManualClock struct {
	now atomic.Uint64
}

// NewManualClock creates a ManualClock starting at the given cycle.
func NewManualClock(start VTimeInCycle) *ManualClock {
	c := &ManualClock{}
	c.now.Store(uint64(start))

	return c
}

// CurrentTime returns the current cycle.
func (c *ManualClock) CurrentTime() VTimeInCycle {
	return VTimeInCycle(c.now.Load())
}

// Set moves the clock to t. Moving the clock backwards panics.
func (c *ManualClock) Set(t VTimeInCycle) {
	for {
		old := c.now.Load()
		if uint64(t) < old {
			panic("timing: manual clock cannot move backwards")
		}

		if c.now.CompareAndSwap(old, uint64(t)) {
			return
		}
	}
}

// Advance moves the clock forward by n cycles and returns the new time.
func (c *ManualClock) Advance(n VTimeInCycle) VTimeInCycle {
	return VTimeInCycle(c.now.Add(uint64(n)))
}

// CycleBoundaryListener is notified by an engine when simulated time moves to
// a new cycle. The engine calls listeners from a single goroutine, after all
// events of the previous cycle have finished and before any event of the new
// cycle starts.
type CycleBoundaryListener interface {
	OnCycleBoundary(now VTimeInCycle)
}
