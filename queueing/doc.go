// Package queueing provides latency-delaying FIFO queues for cycle-based
// simulation.
//
// A value written to a queue at cycle t with latency L becomes visible to the
// reader at cycle t+L. Two variants are provided:
//   - TimedQueue: guarded by a mutex, reads the injected clock on every call.
//     Producers and consumers may run on different goroutines.
//   - StableTimedQueue: freezes what is visible at the start of each cycle and
//     defers writes to the end of the cycle, so that parallel components see
//     the same queue state no matter in which order they run.
//
// Both queues are polling primitives. Valid and TryRead never fail; Read, Peek
// and Write report ErrEmptyQueue, ErrNotReady or ErrCapacityExceeded; the Must
// variants panic with the same errors and are meant for call sites that have
// already checked Valid or CanWrite.
//
// Example usage:
//
//	clock := timing.NewManualClock(100)
//	q := queueing.MakeTimedQueueBuilder[int]().
//		WithClock(clock).
//		WithLatency(5).
//		WithDepth(10).
//		Build("Link")
//
//	q.MustWrite(42)
//	clock.Set(105)
//	v, ok := q.TryRead() // 42, true
package queueing
