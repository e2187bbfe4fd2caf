package analysis

import (
	"sort"
	"sync"

	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
)

// PerfAnalyzer attaches an OccupancyAnalyzer to every registered queue and
// forwards their entries to a backend.
type PerfAnalyzer struct {
	timeTeller timing.TimeTeller
	backend    PerfBackend
	usePeriod  bool
	period     timing.VTimeInCycle

	lock      sync.Mutex
	analyzers map[string]*OccupancyAnalyzer
	latest    map[string]PerfEntry
}

// RegisterQueue starts analyzing a queue.
func (p *PerfAnalyzer) RegisterQueue(q queueing.Queue) {
	builder := MakeOccupancyAnalyzerBuilder().
		WithTimeTeller(p.timeTeller).
		WithPerfLogger(p).
		WithQueue(q)

	if p.usePeriod {
		builder = builder.WithPeriod(p.period)
	}

	analyzer := builder.Build()

	p.lock.Lock()
	defer p.lock.Unlock()

	if _, found := p.analyzers[q.Name()]; found {
		panic("queue " + q.Name() + " already registered")
	}

	p.analyzers[q.Name()] = analyzer
}

// AddDataEntry forwards an entry to the backend and remembers it as the
// latest entry of its queue.
func (p *PerfAnalyzer) AddDataEntry(entry PerfEntry) {
	p.lock.Lock()
	p.latest[entry.Where] = entry
	p.lock.Unlock()

	p.backend.AddDataEntry(entry)
}

// LatestEntries returns the most recent entry of each queue, sorted by queue
// name.
func (p *PerfAnalyzer) LatestEntries() []PerfEntry {
	p.lock.Lock()
	defer p.lock.Unlock()

	entries := make([]PerfEntry, 0, len(p.latest))
	for _, e := range p.latest {
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Where < entries[j].Where
	})

	return entries
}

// Summarize makes every analyzer report and flushes the backend.
func (p *PerfAnalyzer) Summarize() {
	p.lock.Lock()
	analyzers := make([]*OccupancyAnalyzer, 0, len(p.analyzers))
	for _, a := range p.analyzers {
		analyzers = append(analyzers, a)
	}
	p.lock.Unlock()

	for _, a := range analyzers {
		a.Summarize()
	}

	p.backend.Flush()
}

// PerfAnalyzerBuilder is a builder that can build a PerfAnalyzer.
type PerfAnalyzerBuilder struct {
	timeTeller timing.TimeTeller
	backend    PerfBackend
	usePeriod  bool
	period     timing.VTimeInCycle
}

// MakePerfAnalyzerBuilder creates a new PerfAnalyzerBuilder.
func MakePerfAnalyzerBuilder() PerfAnalyzerBuilder {
	return PerfAnalyzerBuilder{}
}

// WithTimeTeller sets the clock of the analyzers.
func (b PerfAnalyzerBuilder) WithTimeTeller(
	timeTeller timing.TimeTeller,
) PerfAnalyzerBuilder {
	b.timeTeller = timeTeller
	return b
}

// WithPeriod sets the reporting period of the analyzers.
func (b PerfAnalyzerBuilder) WithPeriod(
	period timing.VTimeInCycle,
) PerfAnalyzerBuilder {
	b.usePeriod = true
	b.period = period
	return b
}

// WithBackend sets where entries are stored.
func (b PerfAnalyzerBuilder) WithBackend(
	backend PerfBackend,
) PerfAnalyzerBuilder {
	b.backend = backend
	return b
}

// Build creates a PerfAnalyzer.
func (b PerfAnalyzerBuilder) Build() *PerfAnalyzer {
	if b.timeTeller == nil {
		panic("timeTeller is not set")
	}

	if b.backend == nil {
		panic("backend is not set")
	}

	return &PerfAnalyzer{
		timeTeller: b.timeTeller,
		backend:    b.backend,
		usePeriod:  b.usePeriod,
		period:     b.period,
		analyzers:  make(map[string]*OccupancyAnalyzer),
		latest:     make(map[string]PerfEntry),
	}
}
