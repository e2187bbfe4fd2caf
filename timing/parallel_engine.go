package timing

import (
	"fmt"
	"reflect"
	"runtime"
	"sync"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
)

// ParallelEngine executes all events of the same cycle in parallel. Between
// two cycles it waits for every event to finish and then notifies boundary
// listeners, which gives stable queues their commit point.
type ParallelEngine struct {
	*hooking.HookableBase

	pauseLock sync.Mutex

	nowLock sync.RWMutex
	now     VTimeInCycle

	runningSecondaryEvents bool

	waitGroup sync.WaitGroup
	errLock   sync.Mutex
	roundErr  error

	boundary cycleBoundary

	queues             []eventQueue
	queueChan          chan eventQueue
	secondaryQueues    []eventQueue
	secondaryQueueChan chan eventQueue
}

// NewParallelEngine creates a ParallelEngine with one event queue per
// available processor.
func NewParallelEngine() *ParallelEngine {
	numQueues := runtime.GOMAXPROCS(0)

	engine := &ParallelEngine{
		HookableBase:       hooking.NewHookableBase(),
		queues:             make([]eventQueue, 0, numQueues),
		queueChan:          make(chan eventQueue, numQueues),
		secondaryQueues:    make([]eventQueue, 0, numQueues),
		secondaryQueueChan: make(chan eventQueue, numQueues),
	}

	for i := 0; i < numQueues; i++ {
		queue := newScheduledEventQueue()
		secondary := newScheduledEventQueue()

		engine.queueChan <- queue
		engine.secondaryQueueChan <- secondary

		engine.queues = append(engine.queues, queue)
		engine.secondaryQueues = append(engine.secondaryQueues, secondary)
	}

	return engine
}

// RegisterBoundaryListener adds a listener notified on every new cycle.
func (e *ParallelEngine) RegisterBoundaryListener(l CycleBoundaryListener) {
	e.boundary.register(l)
}

func (e *ParallelEngine) readNow() VTimeInCycle {
	e.nowLock.RLock()
	t := e.now
	e.nowLock.RUnlock()

	return t
}

func (e *ParallelEngine) writeNow(t VTimeInCycle) {
	e.nowLock.Lock()
	e.now = t
	e.nowLock.Unlock()
}

// Schedule registers an event to be processed by the engine. It may be called
// from handlers running in parallel.
func (e *ParallelEngine) Schedule(evt ScheduledEvent) {
	now := e.readNow()
	if evt.Time < now {
		panic(fmt.Sprintf(
			"timing: cannot schedule event in the past, evt %s @ %d, now %d",
			reflect.TypeOf(evt.Event), evt.Time, now,
		))
	}

	eventCopy := evt
	if evt.IsSecondary {
		queue := <-e.secondaryQueueChan
		queue.Push(&eventCopy)
		e.secondaryQueueChan <- queue

		return
	}

	queue := <-e.queueChan
	queue.Push(&eventCopy)
	e.queueChan <- queue
}

// Run processes all scheduled events until the queues drain or a handler
// returns an error.
func (e *ParallelEngine) Run() error {
	for {
		if !e.hasMoreEvents() {
			return nil
		}

		e.pauseLock.Lock()
		e.determineWhatToRun()
		e.boundary.cross(e.readNow(), e)
		e.runRound()
		err := e.takeRoundErr()
		e.pauseLock.Unlock()

		if err != nil {
			return err
		}
	}
}

func (e *ParallelEngine) determineWhatToRun() {
	primaryTime := e.earliestTimeInQueueGroup(e.queues)
	secondaryTime := e.earliestTimeInQueueGroup(e.secondaryQueues)

	if primaryTime <= secondaryTime {
		e.runningSecondaryEvents = false
		e.writeNow(primaryTime)

		return
	}

	e.runningSecondaryEvents = true
	e.writeNow(secondaryTime)
}

func (e *ParallelEngine) earliestTimeInQueueGroup(
	queues []eventQueue,
) VTimeInCycle {
	earliest := MaxCycle

	for _, q := range queues {
		if q.Len() == 0 {
			continue
		}

		if t := q.Peek().Time; t < earliest {
			earliest = t
		}
	}

	return earliest
}

func (e *ParallelEngine) runRound() {
	queues := e.queues
	queueChan := e.queueChan

	if e.runningSecondaryEvents {
		queues = e.secondaryQueues
		queueChan = e.secondaryQueueChan
	}

	e.emptyQueueChan(queues, queueChan)
	e.runEventsOfCurrentCycle(queues, queueChan)
	e.waitGroup.Wait()
}

func (e *ParallelEngine) emptyQueueChan(queues []eventQueue, ch chan eventQueue) {
	for range queues {
		<-ch
	}
}

func (e *ParallelEngine) hasMoreEvents() bool {
	return hasMoreInGroup(e.queues) || hasMoreInGroup(e.secondaryQueues)
}

func hasMoreInGroup(queues []eventQueue) bool {
	for _, q := range queues {
		if q.Len() > 0 {
			return true
		}
	}

	return false
}

// runEventsOfCurrentCycle pops every event of the current cycle and starts a
// worker for each. Queues are handed back to the channel as soon as they hold
// only future events, so workers can schedule into them.
func (e *ParallelEngine) runEventsOfCurrentCycle(
	queues []eventQueue,
	ch chan eventQueue,
) {
	now := e.readNow()

	for _, queue := range queues {
		for queue.Len() > 0 {
			evt := queue.Peek()
			if evt.Time > now {
				break
			}

			if evt.Time < now {
				panic(fmt.Sprintf(
					"timing: cannot run event in the past, evt %s @ %d, now %d",
					reflect.TypeOf(evt.Event), evt.Time, now,
				))
			}

			queue.Pop()
			e.waitGroup.Add(1)
			go e.runEvent(evt)
		}

		ch <- queue
	}
}

func (e *ParallelEngine) runEvent(evt *ScheduledEvent) {
	defer e.waitGroup.Done()

	hookCtx := hooking.HookCtx{
		Domain: e,
		Pos:    HookPosBeforeEvent,
		Item:   evt,
	}
	e.InvokeHook(hookCtx)

	if evt.Handler != nil {
		if err := evt.Handler.Handle(evt.Event); err != nil {
			e.recordErr(fmt.Errorf(
				"timing: handling %T @ %d: %w", evt.Event, evt.Time, err))
		}
	}

	hookCtx.Pos = HookPosAfterEvent
	e.InvokeHook(hookCtx)
}

func (e *ParallelEngine) recordErr(err error) {
	e.errLock.Lock()
	defer e.errLock.Unlock()

	if e.roundErr == nil {
		e.roundErr = err
	}
}

func (e *ParallelEngine) takeRoundErr() error {
	e.errLock.Lock()
	defer e.errLock.Unlock()

	err := e.roundErr
	e.roundErr = nil

	return err
}

// Pause prevents the engine from progressing to future cycles.
func (e *ParallelEngine) Pause() {
	e.pauseLock.Lock()
}

// Continue allows the engine to resume progress.
func (e *ParallelEngine) Continue() {
	e.pauseLock.Unlock()
}

// CurrentTime returns the cycle currently being processed.
func (e *ParallelEngine) CurrentTime() VTimeInCycle {
	return e.readNow()
}

var _ Engine = (*ParallelEngine)(nil)
