package timing

import "github.com/sarchlab/timedfifo/instrumentation/hooking"

// Handler processes events. Events are plain data; handlers type-switch on
// them.
type Handler interface {
	Handle(event any) error
}

// EventScheduler schedules events in the simulation timeline.
type EventScheduler interface {
	TimeTeller
	Schedule(event ScheduledEvent)
}

// ScheduledEvent is the engine-facing wrapper for user-defined events.
type ScheduledEvent struct {
	// Event is the payload delivered to the handler.
	Event any

	// Time is the cycle when the event should be processed.
	Time VTimeInCycle

	// Handler is the component that will process this event.
	Handler Handler

	// IsSecondary marks events that run after all primary events of the same
	// cycle.
	IsSecondary bool
}

// Engine keeps a discrete event simulation running.
type Engine interface {
	hooking.Hookable
	EventScheduler

	// RegisterBoundaryListener adds a listener that is notified every time the
	// engine moves to a new cycle.
	RegisterBoundaryListener(l CycleBoundaryListener)

	// Run processes events until there are none left.
	Run() error

	// Pause blocks the engine from moving on until Continue is called.
	Pause()

	// Continue resumes a paused engine.
	Continue()
}

// HookPosBeforeEvent is a hook position that triggers before handling an event.
var HookPosBeforeEvent = &hooking.HookPos{Name: "BeforeEvent"}

// HookPosAfterEvent is a hook position that triggers after handling an event.
var HookPosAfterEvent = &hooking.HookPos{Name: "AfterEvent"}

// HookPosCycleBoundary triggers after boundary listeners ran for a new cycle.
// The item is the new cycle.
var HookPosCycleBoundary = &hooking.HookPos{Name: "CycleBoundary"}
