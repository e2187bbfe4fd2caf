package simulation

import (
	"sync"

	"github.com/sarchlab/timedfifo/timing"
)

// TickEvent asks a ticking component to update its state.
type TickEvent struct{}

// A Ticker is an object that updates states with ticks. Tick reports whether
// the component should keep ticking.
type Ticker interface {
	Tick() bool
}

// TickScheduler can help schedule tick events on the ticks of a frequency
// domain.
type TickScheduler struct {
	lock    sync.Mutex
	handler timing.Handler
	engine  timing.EventScheduler
	freq    *timing.FreqDomain

	scheduled    bool
	nextTickTime timing.VTimeInCycle
}

// NewTickScheduler creates a scheduler for tick events.
func NewTickScheduler(
	handler timing.Handler,
	engine timing.EventScheduler,
	freq *timing.FreqDomain,
) *TickScheduler {
	return &TickScheduler{
		handler: handler,
		engine:  engine,
		freq:    freq,
	}
}

// TickNow schedules a tick at the current domain tick.
func (t *TickScheduler) TickNow() {
	t.schedule(t.freq.ThisTick(t.CurrentTime()))
}

// TickLater schedules a tick at the domain tick after now.
func (t *TickScheduler) TickLater() {
	t.schedule(t.freq.NextTick(t.CurrentTime()))
}

func (t *TickScheduler) schedule(time timing.VTimeInCycle) {
	t.lock.Lock()
	defer t.lock.Unlock()

	if t.scheduled && t.nextTickTime >= time {
		return
	}

	t.scheduled = true
	t.nextTickTime = time

	t.engine.Schedule(timing.ScheduledEvent{
		Event:   TickEvent{},
		Time:    time,
		Handler: t.handler,
	})
}

// CurrentTime returns the engine time.
func (t *TickScheduler) CurrentTime() timing.VTimeInCycle {
	return t.engine.CurrentTime()
}

// TickingComponent is a component that updates its state every tick. A
// programmer only needs to write the Tick function of a ticking component.
type TickingComponent struct {
	*TickScheduler

	name   string
	ticker Ticker
}

// NewTickingComponent creates a TickingComponent that calls ticker on every
// tick of freq.
func NewTickingComponent(
	name string,
	engine timing.EventScheduler,
	freq *timing.FreqDomain,
	ticker Ticker,
) *TickingComponent {
	c := &TickingComponent{
		name:   name,
		ticker: ticker,
	}
	c.TickScheduler = NewTickScheduler(c, engine, freq)

	return c
}

// Name returns the name of the component.
func (c *TickingComponent) Name() string {
	return c.name
}

// Handle triggers the tick function of the TickingComponent.
func (c *TickingComponent) Handle(e any) error {
	if _, ok := e.(TickEvent); !ok {
		return nil
	}

	if c.ticker.Tick() {
		c.TickLater()
	}

	return nil
}
