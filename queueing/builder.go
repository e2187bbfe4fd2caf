package queueing

import (
	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/timing"
)

// TimedQueueBuilder builds TimedQueues.
type TimedQueueBuilder[T any] struct {
	clock   timing.TimeTeller
	latency timing.VTimeInCycle
	depth   int
	hooks   []hooking.Hook
}

// MakeTimedQueueBuilder creates a builder with a latency of 1 cycle and an
// unbounded depth.
func MakeTimedQueueBuilder[T any]() TimedQueueBuilder[T] {
	return TimedQueueBuilder[T]{
		latency: 1,
		depth:   UnboundedDepth,
	}
}

// WithClock sets the clock the queue reads time from.
func (b TimedQueueBuilder[T]) WithClock(
	clock timing.TimeTeller,
) TimedQueueBuilder[T] {
	b.clock = clock
	return b
}

// WithLatency sets the number of cycles between a write and the earliest read.
func (b TimedQueueBuilder[T]) WithLatency(
	latency timing.VTimeInCycle,
) TimedQueueBuilder[T] {
	b.latency = latency
	return b
}

// WithDepth sets the maximum number of queued elements.
func (b TimedQueueBuilder[T]) WithDepth(depth int) TimedQueueBuilder[T] {
	b.depth = depth
	return b
}

// WithHook attaches a hook to the queue being built.
func (b TimedQueueBuilder[T]) WithHook(hook hooking.Hook) TimedQueueBuilder[T] {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the queue. It panics if the configuration is invalid.
func (b TimedQueueBuilder[T]) Build(name string) *TimedQueue[T] {
	q, err := NewTimedQueue[T](name, b.clock, b.latency, b.depth)
	if err != nil {
		panic(err)
	}

	for _, h := range b.hooks {
		q.AcceptHook(h)
	}

	return q
}

// StableTimedQueueBuilder builds StableTimedQueues.
type StableTimedQueueBuilder[T any] struct {
	clock   timing.TimeTeller
	engine  timing.Engine
	latency timing.VTimeInCycle
	depth   int
	stable  bool
	hooks   []hooking.Hook
}

// MakeStableTimedQueueBuilder creates a builder for a stable queue with the
// default latency and the default depth (latency+1).
func MakeStableTimedQueueBuilder[T any]() StableTimedQueueBuilder[T] {
	return StableTimedQueueBuilder[T]{
		latency: DefaultStableLatency,
		stable:  true,
	}
}

// WithClock sets the clock used in immediate mode.
func (b StableTimedQueueBuilder[T]) WithClock(
	clock timing.TimeTeller,
) StableTimedQueueBuilder[T] {
	b.clock = clock
	return b
}

// WithEngine uses the engine as the clock and registers the queue as a cycle
// boundary listener of the engine.
func (b StableTimedQueueBuilder[T]) WithEngine(
	engine timing.Engine,
) StableTimedQueueBuilder[T] {
	b.engine = engine
	return b
}

// WithLatency sets the latency. Values below DefaultStableLatency are raised.
func (b StableTimedQueueBuilder[T]) WithLatency(
	latency timing.VTimeInCycle,
) StableTimedQueueBuilder[T] {
	b.latency = latency
	return b
}

// WithDepth overrides the default depth. It is clamped to MaxStableDepth.
func (b StableTimedQueueBuilder[T]) WithDepth(
	depth int,
) StableTimedQueueBuilder[T] {
	b.depth = depth
	return b
}

// WithStability selects stable or immediate mode.
func (b StableTimedQueueBuilder[T]) WithStability(
	stable bool,
) StableTimedQueueBuilder[T] {
	b.stable = stable
	return b
}

// WithHook attaches a hook to the queue being built.
func (b StableTimedQueueBuilder[T]) WithHook(
	hook hooking.Hook,
) StableTimedQueueBuilder[T] {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the queue. It panics if the configuration is invalid.
func (b StableTimedQueueBuilder[T]) Build(name string) *StableTimedQueue[T] {
	clock := b.clock
	if clock == nil && b.engine != nil {
		clock = b.engine
	}

	q, err := NewStableTimedQueue[T](name, clock, b.latency, b.stable)
	if err != nil {
		panic(err)
	}

	if b.depth > 0 {
		q.SetDepth(b.depth)
	}

	for _, h := range b.hooks {
		q.AcceptHook(h)
	}

	if b.engine != nil {
		b.engine.RegisterBoundaryListener(q)
	}

	return q
}
