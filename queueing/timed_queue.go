package queueing

import (
	"fmt"
	"sync"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/timing"
)

// TimedQueue is a latency-delaying FIFO that can be shared by a producer and a
// consumer running on different goroutines. Every method holds the queue lock
// for its whole duration, so operations on one queue are linearizable.
type TimedQueue[T any] struct {
	*hooking.HookableBase

	lock  sync.Mutex
	name  string
	clock timing.TimeTeller
	fifo  timedFIFO[T]
}

// NewTimedQueue creates a TimedQueue. Depth must be positive; use
// UnboundedDepth for a queue without a capacity limit.
func NewTimedQueue[T any](
	name string,
	clock timing.TimeTeller,
	latency timing.VTimeInCycle,
	depth int,
) (*TimedQueue[T], error) {
	if err := naming.Validate(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if clock == nil {
		return nil, fmt.Errorf("%w: queue %s has no clock",
			ErrInvalidConfiguration, name)
	}

	if depth <= 0 {
		return nil, fmt.Errorf("%w: queue %s depth %d must be positive",
			ErrInvalidConfiguration, name, depth)
	}

	return &TimedQueue[T]{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		clock:        clock,
		fifo: timedFIFO[T]{
			depth:   depth,
			latency: latency,
		},
	}, nil
}

// Name returns the name of the queue.
func (q *TimedQueue[T]) Name() string {
	return q.name
}

// SetDepth changes the capacity used by subsequent writes. Elements already
// queued are kept even if they exceed the new depth.
func (q *TimedQueue[T]) SetDepth(depth int) error {
	if depth <= 0 {
		return fmt.Errorf("%w: queue %s depth %d must be positive",
			ErrInvalidConfiguration, q.name, depth)
	}

	q.lock.Lock()
	q.fifo.depth = depth
	q.lock.Unlock()

	return nil
}

// SetLatency changes the latency of subsequently written elements.
func (q *TimedQueue[T]) SetLatency(latency timing.VTimeInCycle) {
	q.lock.Lock()
	q.fifo.latency = latency
	q.lock.Unlock()
}

// Depth returns the capacity of the queue.
func (q *TimedQueue[T]) Depth() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.depth
}

// Latency returns the latency applied to new writes.
func (q *TimedQueue[T]) Latency() timing.VTimeInCycle {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.latency
}

// Size returns the number of queued elements, ready or not.
func (q *TimedQueue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.size()
}

// Valid tells whether the front element exists and is ready.
func (q *TimedQueue[T]) Valid() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.frontReady(q.clock.CurrentTime())
}

// CanWrite tells whether a Write would be accepted now.
func (q *TimedQueue[T]) CanWrite() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	return !q.fifo.full()
}

// FrontReadyTime returns the ready time of the front element, if any.
func (q *TimedQueue[T]) FrontReadyTime() (timing.VTimeInCycle, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.fifo.size() == 0 {
		return 0, false
	}

	return q.fifo.elements[0].ReadyTime, true
}

// Write appends v. It becomes visible latency cycles from now, or one cycle
// after the previously written element, whichever is later.
func (q *TimedQueue[T]) Write(v T) error {
	elem, detail, err := q.write(v)
	if err != nil {
		return err
	}

	q.invoke(HookPosQueueWrite, elem, detail)

	return nil
}

func (q *TimedQueue[T]) write(v T) (TimedElement[T], HookDetail, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.fifo.full() {
		return TimedElement[T]{}, HookDetail{}, fmt.Errorf(
			"%s: %w (depth %d)", q.name, ErrCapacityExceeded, q.fifo.depth)
	}

	now := q.clock.CurrentTime()
	elem := q.fifo.push(v, now, q.fifo.latency)

	return elem, q.fifo.detail(now, q.fifo.size()), nil
}

// MustWrite is Write for producers that already checked CanWrite. It panics
// if the queue is full.
func (q *TimedQueue[T]) MustWrite(v T) {
	if err := q.Write(v); err != nil {
		panic(err)
	}
}

// Read pops the front element if it is ready.
func (q *TimedQueue[T]) Read() (T, error) {
	elem, detail, err := q.read()
	if err != nil {
		var zero T
		return zero, err
	}

	q.invoke(HookPosQueueRead, elem, detail)

	return elem.Payload, nil
}

func (q *TimedQueue[T]) read() (TimedElement[T], HookDetail, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	now := q.clock.CurrentTime()
	if err := q.fifo.frontErr(now); err != nil {
		return TimedElement[T]{}, HookDetail{}, fmt.Errorf("%s: %w", q.name, err)
	}

	elem := q.fifo.pop()

	return elem, q.fifo.detail(now, q.fifo.size()), nil
}

// TryRead pops the front element if it is ready. It returns false, and
// touches nothing, when the queue is empty or the front is not ready.
func (q *TimedQueue[T]) TryRead() (T, bool) {
	v, err := q.Read()
	if err != nil {
		return v, false
	}

	return v, true
}

// MustRead is Read for consumers that already checked Valid. It panics if the
// queue is empty or the front is not ready.
func (q *TimedQueue[T]) MustRead() T {
	v, err := q.Read()
	if err != nil {
		panic(err)
	}

	return v
}

// Peek returns a pointer to the front payload without popping it. The pointer
// aliases queue storage and must not be used after the element is popped.
func (q *TimedQueue[T]) Peek() (*T, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.fifo.frontErr(q.clock.CurrentTime()); err != nil {
		return nil, fmt.Errorf("%s: %w", q.name, err)
	}

	return &q.fifo.elements[0].Payload, nil
}

// MustPeek is Peek for consumers that already checked Valid.
func (q *TimedQueue[T]) MustPeek() *T {
	p, err := q.Peek()
	if err != nil {
		panic(err)
	}

	return p
}

// Clear discards every queued element. The tie-break history is kept, so
// ready times stay increasing across a Clear.
func (q *TimedQueue[T]) Clear() {
	q.lock.Lock()
	q.fifo.clear()
	q.lock.Unlock()
}

// Snapshot summarizes the queue at the current time.
func (q *TimedQueue[T]) Snapshot() Snapshot {
	q.lock.Lock()
	defer q.lock.Unlock()

	s := q.fifo.snapshot(q.clock.CurrentTime())
	s.Name = q.name

	return s
}

func (q *TimedQueue[T]) invoke(
	pos *hooking.HookPos,
	elem TimedElement[T],
	detail HookDetail,
) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(hooking.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   elem,
		Detail: detail,
	})
}

var _ Queue = (*TimedQueue[int])(nil)
