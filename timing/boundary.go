package timing

import (
	"sync"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
)

// cycleBoundary tracks the last cycle an engine announced and fans a new cycle
// out to the registered listeners.
type cycleBoundary struct {
	lock      sync.Mutex
	listeners []CycleBoundaryListener
	announced bool
	last      VTimeInCycle
}

func (b *cycleBoundary) register(l CycleBoundaryListener) {
	b.lock.Lock()
	defer b.lock.Unlock()

	for _, existing := range b.listeners {
		if existing == l {
			panic("timing: boundary listener registered twice")
		}
	}

	b.listeners = append(b.listeners, l)
}

// cross notifies listeners if now differs from the last announced cycle. It
// reports whether a boundary was crossed.
func (b *cycleBoundary) cross(now VTimeInCycle, hookable hooking.Hookable) bool {
	b.lock.Lock()
	if b.announced && b.last == now {
		b.lock.Unlock()
		return false
	}

	b.announced = true
	b.last = now
	listeners := b.listeners
	b.lock.Unlock()

	for _, l := range listeners {
		l.OnCycleBoundary(now)
	}

	if hookable.NumHooks() > 0 {
		hookable.InvokeHook(hooking.HookCtx{
			Domain: hookable,
			Pos:    HookPosCycleBoundary,
			Item:   now,
		})
	}

	return true
}
