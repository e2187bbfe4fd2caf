package queueing

import (
	"fmt"
	"sync"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/timing"
)

const (
	// MaxStableDepth bounds the depth of a StableTimedQueue.
	MaxStableDepth = 512

	// DefaultStableLatency is the latency of a StableTimedQueue unless
	// configured otherwise. It is also the smallest latency accepted.
	DefaultStableLatency = timing.VTimeInCycle(1)
)

// Phase is the position of a StableTimedQueue in the cycle protocol.
type Phase int

// Phases of the cycle protocol.
const (
	PhaseIdle Phase = iota
	PhaseFrozen
	PhaseCommitting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseFrozen:
		return "Frozen"
	case PhaseCommitting:
		return "Committing"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

type stagedWrite[T any] struct {
	value   T
	latency timing.VTimeInCycle
}

// StableTimedQueue is a timed FIFO whose observable state only changes at
// cycle boundaries.
//
// In stable mode a cycle starts with BeginCycle, which freezes the number of
// visible elements and the occupancy. Reads during the cycle are served from
// that frozen view and writes are staged. EndCycle appends the staged writes
// with ready times based on the cycle start. Because neither reads nor writes
// of a cycle affect what the other side observes in the same cycle, the
// outcome does not depend on the order in which parallel components touch the
// queue.
//
// With stability turned off the queue behaves like a TimedQueue against its
// clock. The mode applies to every operation on the instance and only changes
// between cycles; a switch requested during a cycle takes effect when that
// cycle ends.
type StableTimedQueue[T any] struct {
	*hooking.HookableBase

	lock   sync.Mutex
	name   string
	clock  timing.TimeTeller
	fifo   timedFIFO[T]
	stable bool

	phase           Phase
	cycleStarted    bool
	cycleStart      timing.VTimeInCycle
	frozenVisible   int
	frozenOccupancy int
	readsThisCycle  int
	staged          []stagedWrite[T]
	pendingStable   *bool
}

// NewStableTimedQueue creates a StableTimedQueue. The latency is raised to at
// least one cycle and the depth defaults to latency+1, capped at
// MaxStableDepth.
func NewStableTimedQueue[T any](
	name string,
	clock timing.TimeTeller,
	latency timing.VTimeInCycle,
	stable bool,
) (*StableTimedQueue[T], error) {
	if err := naming.Validate(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}

	if clock == nil {
		return nil, fmt.Errorf("%w: queue %s has no clock",
			ErrInvalidConfiguration, name)
	}

	latency = clampStableLatency(latency)

	return &StableTimedQueue[T]{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		clock:        clock,
		stable:       stable,
		fifo: timedFIFO[T]{
			depth:   defaultStableDepth(latency),
			latency: latency,
		},
	}, nil
}

func clampStableLatency(latency timing.VTimeInCycle) timing.VTimeInCycle {
	return max(latency, DefaultStableLatency)
}

func clampStableDepth(depth int) int {
	return min(max(depth, 1), MaxStableDepth)
}

func defaultStableDepth(latency timing.VTimeInCycle) int {
	if latency >= MaxStableDepth {
		return MaxStableDepth
	}

	return clampStableDepth(int(latency) + 1)
}

// Name returns the name of the queue.
func (q *StableTimedQueue[T]) Name() string {
	return q.name
}

// SetDepth sets the capacity, clamped to [1, MaxStableDepth].
func (q *StableTimedQueue[T]) SetDepth(depth int) {
	q.lock.Lock()
	q.fifo.depth = clampStableDepth(depth)
	q.lock.Unlock()
}

// SetLatency sets the latency of subsequent writes, raised to at least one
// cycle. Writes already staged in the current cycle keep their latency.
func (q *StableTimedQueue[T]) SetLatency(latency timing.VTimeInCycle) {
	q.lock.Lock()
	q.fifo.latency = clampStableLatency(latency)
	q.lock.Unlock()
}

// SetStability switches between stable and immediate mode. Between cycles the
// switch is immediate. During a cycle it is deferred to EndCycle, after the
// staged writes are committed.
func (q *StableTimedQueue[T]) SetStability(stable bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.phase == PhaseIdle {
		q.stable = stable
		q.pendingStable = nil

		return
	}

	q.pendingStable = &stable
}

// Stable tells whether the freeze protocol is enforced.
func (q *StableTimedQueue[T]) Stable() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.stable
}

// Phase returns the current protocol phase.
func (q *StableTimedQueue[T]) Phase() Phase {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.phase
}

// Depth returns the capacity of the queue.
func (q *StableTimedQueue[T]) Depth() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.depth
}

// Latency returns the latency applied to new writes.
func (q *StableTimedQueue[T]) Latency() timing.VTimeInCycle {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.latency
}

// Size returns the number of elements held, including writes staged in the
// current cycle.
func (q *StableTimedQueue[T]) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.fifo.size() + len(q.staged)
}

// BeginCycle freezes the visible state of the queue for the cycle starting at
// now.
func (q *StableTimedQueue[T]) BeginCycle(now timing.VTimeInCycle) error {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.beginCycle(now)
}

func (q *StableTimedQueue[T]) beginCycle(now timing.VTimeInCycle) error {
	if q.phase != PhaseIdle {
		return fmt.Errorf("%s: %w: begin cycle in phase %s",
			q.name, ErrPhaseViolation, q.phase)
	}

	if q.cycleStarted && now < q.cycleStart {
		return fmt.Errorf("%s: %w: cycle %d starts before cycle %d",
			q.name, ErrPhaseViolation, now, q.cycleStart)
	}

	q.phase = PhaseFrozen
	q.cycleStarted = true
	q.cycleStart = now
	q.frozenVisible = q.fifo.readyCount(now)
	q.frozenOccupancy = q.fifo.size()
	q.readsThisCycle = 0

	return nil
}

// EndCycle commits the writes staged during the cycle and returns the queue
// to the idle phase.
func (q *StableTimedQueue[T]) EndCycle() error {
	committed, details, err := q.endCycle()
	if err != nil {
		return err
	}

	for i, elem := range committed {
		q.invoke(HookPosQueueWrite, elem, details[i])
	}

	q.invoke(HookPosQueueCommit, len(committed), details[len(committed)])

	return nil
}

// endCycle returns the committed elements and one detail per committed write,
// followed by the detail of the commit itself.
func (q *StableTimedQueue[T]) endCycle() (
	[]TimedElement[T],
	[]HookDetail,
	error,
) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.phase != PhaseFrozen {
		return nil, nil, fmt.Errorf("%s: %w: end cycle in phase %s",
			q.name, ErrPhaseViolation, q.phase)
	}

	q.phase = PhaseCommitting

	committed := make([]TimedElement[T], 0, len(q.staged))
	details := make([]HookDetail, 0, len(q.staged)+1)
	for _, w := range q.staged {
		committed = append(committed,
			q.fifo.push(w.value, q.cycleStart, w.latency))
		details = append(details, q.fifo.detail(q.cycleStart, q.fifo.size()))
	}

	q.staged = nil
	q.phase = PhaseIdle

	if q.pendingStable != nil {
		q.stable = *q.pendingStable
		q.pendingStable = nil
	}

	details = append(details, q.fifo.detail(q.cycleStart, q.fifo.size()))

	return committed, details, nil
}

// OnCycleBoundary closes the open cycle, if any, and opens the cycle at now.
// Engines call it between two cycles.
func (q *StableTimedQueue[T]) OnCycleBoundary(now timing.VTimeInCycle) {
	if q.Phase() == PhaseFrozen {
		if err := q.EndCycle(); err != nil {
			panic(err)
		}
	}

	if err := q.BeginCycle(now); err != nil {
		panic(err)
	}
}

// Valid tells whether a Read would succeed.
func (q *StableTimedQueue[T]) Valid() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if !q.stable {
		return q.fifo.frontReady(q.clock.CurrentTime())
	}

	return q.phase == PhaseFrozen && q.readsThisCycle < q.frozenVisible
}

// CanWrite tells whether a Write would be accepted.
func (q *StableTimedQueue[T]) CanWrite() bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.writeErr() == nil
}

func (q *StableTimedQueue[T]) writeErr() error {
	if !q.stable {
		if q.fifo.full() {
			return fmt.Errorf("%s: %w (depth %d)",
				q.name, ErrCapacityExceeded, q.fifo.depth)
		}

		return nil
	}

	if q.phase != PhaseFrozen {
		return fmt.Errorf("%s: %w: write in phase %s",
			q.name, ErrPhaseViolation, q.phase)
	}

	if q.frozenOccupancy+len(q.staged) >= q.fifo.depth {
		return fmt.Errorf("%s: %w (depth %d)",
			q.name, ErrCapacityExceeded, q.fifo.depth)
	}

	return nil
}

// Write adds v to the queue. In stable mode the write is staged until the end
// of the cycle and its ready time counts from the cycle start.
func (q *StableTimedQueue[T]) Write(v T) error {
	elem, detail, immediate, err := q.write(v)
	if err != nil {
		return err
	}

	if immediate {
		q.invoke(HookPosQueueWrite, elem, detail)
	}

	return nil
}

func (q *StableTimedQueue[T]) write(
	v T,
) (elem TimedElement[T], detail HookDetail, immediate bool, err error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if err = q.writeErr(); err != nil {
		return elem, detail, false, err
	}

	if q.stable {
		q.staged = append(q.staged, stagedWrite[T]{
			value:   v,
			latency: q.fifo.latency,
		})

		return elem, detail, false, nil
	}

	now := q.clock.CurrentTime()
	elem = q.fifo.push(v, now, q.fifo.latency)

	return elem, q.fifo.detail(now, q.fifo.size()), true, nil
}

// MustWrite is Write for producers that already checked CanWrite.
func (q *StableTimedQueue[T]) MustWrite(v T) {
	if err := q.Write(v); err != nil {
		panic(err)
	}
}

// readErr explains why the front cannot be read. Callers hold the lock.
func (q *StableTimedQueue[T]) readErr() error {
	if !q.stable {
		if err := q.fifo.frontErr(q.clock.CurrentTime()); err != nil {
			return fmt.Errorf("%s: %w", q.name, err)
		}

		return nil
	}

	if q.phase != PhaseFrozen {
		return fmt.Errorf("%s: %w: read in phase %s",
			q.name, ErrPhaseViolation, q.phase)
	}

	if q.readsThisCycle < q.frozenVisible {
		return nil
	}

	if q.fifo.size() == 0 {
		return fmt.Errorf("%s: %w", q.name, ErrEmptyQueue)
	}

	return fmt.Errorf("%s: %w", q.name, ErrNotReady)
}

// Read pops the front element if it is visible.
func (q *StableTimedQueue[T]) Read() (T, error) {
	elem, detail, err := q.read()
	if err != nil {
		var zero T
		return zero, err
	}

	q.invoke(HookPosQueueRead, elem, detail)

	return elem.Payload, nil
}

func (q *StableTimedQueue[T]) read() (TimedElement[T], HookDetail, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.readErr(); err != nil {
		return TimedElement[T]{}, HookDetail{}, err
	}

	now := q.clock.CurrentTime()
	if q.stable {
		now = q.cycleStart
		q.readsThisCycle++
	}

	elem := q.fifo.pop()

	return elem, q.fifo.detail(now, q.fifo.size()+len(q.staged)), nil
}

// TryRead pops the front element if it is visible and reports whether it did.
func (q *StableTimedQueue[T]) TryRead() (T, bool) {
	v, err := q.Read()
	if err != nil {
		return v, false
	}

	return v, true
}

// MustRead is Read for consumers that already checked Valid.
func (q *StableTimedQueue[T]) MustRead() T {
	v, err := q.Read()
	if err != nil {
		panic(err)
	}

	return v
}

// Peek returns a pointer to the front payload without popping it. The pointer
// must not be used after the element is popped.
func (q *StableTimedQueue[T]) Peek() (*T, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.readErr(); err != nil {
		return nil, err
	}

	return &q.fifo.elements[0].Payload, nil
}

// MustPeek is Peek for consumers that already checked Valid.
func (q *StableTimedQueue[T]) MustPeek() *T {
	p, err := q.Peek()
	if err != nil {
		panic(err)
	}

	return p
}

// Clear drops every committed and staged element. A frozen cycle keeps going
// with nothing visible.
func (q *StableTimedQueue[T]) Clear() {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.fifo.clear()
	q.staged = nil
	q.frozenVisible = 0
	q.frozenOccupancy = 0
	q.readsThisCycle = 0
}

// Snapshot summarizes the queue. In stable mode the ready count is the number
// of frozen elements still unread in the current cycle.
func (q *StableTimedQueue[T]) Snapshot() Snapshot {
	q.lock.Lock()
	defer q.lock.Unlock()

	s := q.fifo.snapshot(q.clock.CurrentTime())
	s.Name = q.name
	s.Stable = q.stable
	s.Phase = q.phase.String()
	s.Staged = len(q.staged)
	s.Size += len(q.staged)

	if q.stable {
		s.ReadyCount = 0
		if q.phase == PhaseFrozen {
			s.ReadyCount = q.frozenVisible - q.readsThisCycle
		}
	}

	return s
}

func (q *StableTimedQueue[T]) invoke(
	pos *hooking.HookPos,
	item any,
	detail HookDetail,
) {
	if q.NumHooks() == 0 {
		return
	}

	q.InvokeHook(hooking.HookCtx{
		Domain: q,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

var (
	_ Queue                        = (*StableTimedQueue[int])(nil)
	_ timing.CycleBoundaryListener = (*StableTimedQueue[int])(nil)
)
