// Package simulation wires engines, queues, producers and consumers together
// with the recording, analysis and monitoring services.
package simulation

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/timedfifo/analysis"
	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/monitoring"
	"github.com/sarchlab/timedfifo/naming"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
)

// Component is an element of the simulation that handles events.
type Component interface {
	naming.Named
	timing.Handler
}

type cycleCloser interface {
	Phase() queueing.Phase
	EndCycle() error
}

// A Simulation provides the services required to define a simulation.
type Simulation struct {
	id     string
	engine timing.Engine
	freqs  *timing.FrequencyRegistry

	dataRecorder datarecording.DataRecorder
	hooks        []hooking.Hook
	perfAnalyzer *analysis.PerfAnalyzer
	monitor      *monitoring.Monitor
	monitorPort  int

	lock           sync.Mutex
	components     []Component
	compNameIndex  map[string]int
	queues         []queueing.Queue
	queueNameIndex map[string]int
	links          []*Link
	terminated     bool
}

// ID returns the unique ID of the simulation run.
func (s *Simulation) ID() string {
	return s.id
}

// GetEngine returns the engine used in the simulation.
func (s *Simulation) GetEngine() timing.Engine {
	return s.engine
}

// GetFrequencyRegistry returns the registry of the clock domains.
func (s *Simulation) GetFrequencyRegistry() *timing.FrequencyRegistry {
	return s.freqs
}

// MustRegisterFrequency registers a clock domain. It panics if the frequency
// is zero or the global frequency overflows.
func (s *Simulation) MustRegisterFrequency(
	freq timing.FreqInHz,
) *timing.FreqDomain {
	domain, err := s.freqs.RegisterFrequency(freq)
	if err != nil {
		panic(err)
	}

	return domain
}

// GetDataRecorder returns the data recorder used in the simulation. It is nil
// when tracing is disabled.
func (s *Simulation) GetDataRecorder() datarecording.DataRecorder {
	return s.dataRecorder
}

// GetMonitor returns the monitor used in the simulation. It is nil when
// monitoring is disabled.
func (s *Simulation) GetMonitor() *monitoring.Monitor {
	return s.monitor
}

// MonitorPort returns the port the monitor listens on, or 0.
func (s *Simulation) MonitorPort() int {
	return s.monitorPort
}

// GetPerfAnalyzer returns the analyzer that tracks queue occupancy. It is nil
// when neither tracing nor a perf backend is configured.
func (s *Simulation) GetPerfAnalyzer() *analysis.PerfAnalyzer {
	return s.perfAnalyzer
}

// RegisterComponent registers a component with the simulation.
func (s *Simulation) RegisterComponent(c Component) {
	s.lock.Lock()
	defer s.lock.Unlock()

	name := c.Name()
	if _, found := s.compNameIndex[name]; found {
		panic("component " + name + " already registered")
	}

	s.components = append(s.components, c)
	s.compNameIndex[name] = len(s.components) - 1
}

// RegisterQueue registers a queue and attaches the tracer, the analyzers and
// the monitor to it.
func (s *Simulation) RegisterQueue(q queueing.Queue) {
	s.lock.Lock()
	name := q.Name()
	if _, found := s.queueNameIndex[name]; found {
		s.lock.Unlock()
		panic("queue " + name + " already registered")
	}

	s.queues = append(s.queues, q)
	s.queueNameIndex[name] = len(s.queues) - 1
	s.lock.Unlock()

	for _, h := range s.hooks {
		q.AcceptHook(h)
	}

	if s.perfAnalyzer != nil {
		s.perfAnalyzer.RegisterQueue(q)
	}

	if s.monitor != nil {
		s.monitor.RegisterQueue(q)
	}
}

// GetComponentByName returns the component with the given name.
func (s *Simulation) GetComponentByName(name string) Component {
	s.lock.Lock()
	defer s.lock.Unlock()

	i, found := s.compNameIndex[name]
	if !found {
		return nil
	}

	return s.components[i]
}

// GetQueueByName returns the queue with the given name.
func (s *Simulation) GetQueueByName(name string) queueing.Queue {
	s.lock.Lock()
	defer s.lock.Unlock()

	i, found := s.queueNameIndex[name]
	if !found {
		return nil
	}

	return s.queues[i]
}

// Components returns all registered components.
func (s *Simulation) Components() []Component {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]Component(nil), s.components...)
}

// Queues returns all registered queues.
func (s *Simulation) Queues() []queueing.Queue {
	s.lock.Lock()
	defer s.lock.Unlock()

	return append([]queueing.Queue(nil), s.queues...)
}

// AddLink builds a link with the given builder and starts it when the
// simulation runs.
func (s *Simulation) AddLink(b LinkBuilder, name string) *Link {
	l := b.WithSimulation(s).Build(name)

	s.lock.Lock()
	s.links = append(s.links, l)
	s.lock.Unlock()

	return l
}

// Run starts every link and runs the engine until no event is left. Stable
// queues still in a frozen cycle are committed afterwards, so writes made in
// the last cycle are not lost.
func (s *Simulation) Run() error {
	s.lock.Lock()
	links := append([]*Link(nil), s.links...)
	queues := append([]queueing.Queue(nil), s.queues...)
	s.lock.Unlock()

	for _, l := range links {
		l.Start()
	}

	if err := s.engine.Run(); err != nil {
		return err
	}

	for _, q := range queues {
		closer, ok := q.(cycleCloser)
		if !ok || closer.Phase() != queueing.PhaseFrozen {
			continue
		}

		if err := closer.EndCycle(); err != nil {
			return fmt.Errorf("closing cycle of %s: %w", q.Name(), err)
		}
	}

	return nil
}

// Results returns the result of every link, sorted by name.
func (s *Simulation) Results() []LinkResult {
	s.lock.Lock()
	links := append([]*Link(nil), s.links...)
	s.lock.Unlock()

	results := make([]LinkResult, 0, len(links))
	for _, l := range links {
		results = append(results, l.Result())
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})

	return results
}

// Terminate summarizes the analyzers and closes the data recorder. Calling it
// more than once has no effect.
func (s *Simulation) Terminate() error {
	s.lock.Lock()
	if s.terminated {
		s.lock.Unlock()
		return nil
	}
	s.terminated = true
	s.lock.Unlock()

	if s.perfAnalyzer != nil {
		s.perfAnalyzer.Summarize()
	}

	if s.dataRecorder != nil {
		s.dataRecorder.Flush()
		return s.dataRecorder.Close()
	}

	return nil
}
