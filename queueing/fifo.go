package queueing

import (
	"math"
	"sort"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/timing"
)

// UnboundedDepth is the depth sentinel for a queue without a capacity limit.
const UnboundedDepth = math.MaxInt

// HookPosQueueWrite fires when an element enters the ordered sequence of a
// queue. The item is the TimedElement and the detail is a HookDetail.
var HookPosQueueWrite = &hooking.HookPos{Name: "Queue Write"}

// HookPosQueueRead fires when an element is popped. The item is the
// TimedElement and the detail is a HookDetail.
var HookPosQueueRead = &hooking.HookPos{Name: "Queue Read"}

// HookPosQueueCommit fires when a stable queue finishes a cycle. The item is
// the number of writes committed and the detail is a HookDetail.
var HookPosQueueCommit = &hooking.HookPos{Name: "Queue Commit"}

// TimedElement is a payload tagged with the cycle at which it becomes
// visible.
type TimedElement[T any] struct {
	ReadyTime timing.VTimeInCycle
	Payload   T
}

// ReadyAt returns the cycle at which the element becomes visible.
func (e TimedElement[T]) ReadyAt() timing.VTimeInCycle {
	return e.ReadyTime
}

// Value returns the payload as an untyped value.
func (e TimedElement[T]) Value() any {
	return e.Payload
}

// Element is the payload-independent view of a TimedElement. Hooks receive
// TimedElements as items and can use this interface without knowing the
// payload type.
type Element interface {
	ReadyAt() timing.VTimeInCycle
	Value() any
}

// HookDetail captures the queue state at the moment of the operation that
// fired the hook. Seq numbers the operations of one queue in the order they
// took effect, starting at 1. Hooks run outside the queue lock and may be
// invoked out of that order when several goroutines share the queue.
type HookDetail struct {
	Now  timing.VTimeInCycle
	Size int
	Seq  uint64
}

// Snapshot is a point-in-time summary of a queue, used by monitors and
// analyzers.
type Snapshot struct {
	Name           string              `json:"name"`
	Size           int                 `json:"size"`
	Depth          int                 `json:"depth"`
	Latency        timing.VTimeInCycle `json:"latency"`
	ReadyCount     int                 `json:"ready_count"`
	HasFront       bool                `json:"has_front"`
	FrontReadyTime timing.VTimeInCycle `json:"front_ready_time"`
	Stable         bool                `json:"stable"`
	Phase          string              `json:"phase,omitempty"`
	Staged         int                 `json:"staged"`
}

// Queue is the type-independent view of a timed queue.
type Queue interface {
	naming.Named
	hooking.Hookable

	Size() int
	Depth() int
	Latency() timing.VTimeInCycle
	Snapshot() Snapshot
}

// timedFIFO holds the ordered elements and the ready-time bookkeeping shared
// by both queue variants. It is not synchronized.
type timedFIFO[T any] struct {
	elements      []TimedElement[T]
	depth         int
	latency       timing.VTimeInCycle
	lastReadyTime timing.VTimeInCycle
	assigned      bool
	seq           uint64
}

// detail numbers an operation. Callers hold the queue lock.
func (f *timedFIFO[T]) detail(now timing.VTimeInCycle, size int) HookDetail {
	f.seq++

	return HookDetail{Now: now, Size: size, Seq: f.seq}
}

func (f *timedFIFO[T]) size() int {
	return len(f.elements)
}

func (f *timedFIFO[T]) full() bool {
	return len(f.elements) >= f.depth
}

// nextReadyTime computes base+latency and bumps it past the last assigned
// ready time, so ready times are strictly increasing in write order even when
// several writes share a cycle or the latency was lowered.
func (f *timedFIFO[T]) nextReadyTime(
	base, latency timing.VTimeInCycle,
) timing.VTimeInCycle {
	ready, _ := timing.AddCycles(base, latency)
	if f.assigned && ready <= f.lastReadyTime {
		ready, _ = timing.AddCycles(f.lastReadyTime, 1)
	}

	f.lastReadyTime = ready
	f.assigned = true

	return ready
}

func (f *timedFIFO[T]) push(
	v T,
	base, latency timing.VTimeInCycle,
) TimedElement[T] {
	elem := TimedElement[T]{
		ReadyTime: f.nextReadyTime(base, latency),
		Payload:   v,
	}
	f.elements = append(f.elements, elem)

	return elem
}

func (f *timedFIFO[T]) frontReady(now timing.VTimeInCycle) bool {
	return len(f.elements) > 0 && f.elements[0].ReadyTime <= now
}

// frontErr explains why the front element cannot be read at now.
func (f *timedFIFO[T]) frontErr(now timing.VTimeInCycle) error {
	if len(f.elements) == 0 {
		return ErrEmptyQueue
	}

	if f.elements[0].ReadyTime > now {
		return ErrNotReady
	}

	return nil
}

func (f *timedFIFO[T]) pop() TimedElement[T] {
	elem := f.elements[0]
	f.elements[0] = TimedElement[T]{}
	f.elements = f.elements[1:]

	if len(f.elements) == 0 {
		f.elements = nil
	}

	return elem
}

// readyCount returns how many leading elements are visible at now. Ready times
// are sorted, so this is a binary search.
func (f *timedFIFO[T]) readyCount(now timing.VTimeInCycle) int {
	return sort.Search(len(f.elements), func(i int) bool {
		return f.elements[i].ReadyTime > now
	})
}

func (f *timedFIFO[T]) clear() {
	f.elements = nil
}

func (f *timedFIFO[T]) snapshot(now timing.VTimeInCycle) Snapshot {
	s := Snapshot{
		Size:       len(f.elements),
		Depth:      f.depth,
		Latency:    f.latency,
		ReadyCount: f.readyCount(now),
	}

	if len(f.elements) > 0 {
		s.HasFront = true
		s.FrontReadyTime = f.elements[0].ReadyTime
	}

	return s
}
