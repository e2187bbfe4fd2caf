package analysis

import (
	"sync"

	"github.com/sarchlab/timedfifo/instrumentation/hooking"
	"github.com/sarchlab/timedfifo/queueing"
	"github.com/sarchlab/timedfifo/timing"
	"github.com/tebeka/atexit"
)

// OccupancyAnalyzer records the time-weighted average size of a queue. It is
// a hook attached to the queue it analyzes.
type OccupancyAnalyzer struct {
	PerfLogger
	timing.TimeTeller

	lock      sync.Mutex
	queue     queueing.Queue
	usePeriod bool
	period    timing.VTimeInCycle

	lastTime          timing.VTimeInCycle
	lastLevel         int
	maxLevel          int
	levelToDuration   map[int]timing.VTimeInCycle
	lastReportedLevel float64
}

// Func records a queue size change.
func (a *OccupancyAnalyzer) Func(ctx hooking.HookCtx) {
	if ctx.Pos != queueing.HookPosQueueWrite &&
		ctx.Pos != queueing.HookPosQueueRead &&
		ctx.Pos != queueing.HookPosQueueCommit {
		return
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.CurrentTime()
	currLevel := a.queue.Size()

	if a.usePeriod && now >= a.periodEndTime(a.lastTime) {
		a.summarize(now)
		a.resetPeriod(now)
	}

	a.levelToDuration[a.lastLevel] += now - a.lastTime
	a.lastLevel = currLevel
	a.lastTime = now
	a.maxLevel = max(a.maxLevel, currLevel)
}

// Summarize reports the periods that ended by now, or the whole run if no
// period is set. Calling it again without new events reports nothing.
func (a *OccupancyAnalyzer) Summarize() {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.CurrentTime()
	a.summarize(now)

	if !a.usePeriod {
		a.levelToDuration = make(map[int]timing.VTimeInCycle)
		a.lastTime = now
	}
}

// LastAverageLevel returns the most recent average level computed.
func (a *OccupancyAnalyzer) LastAverageLevel() float64 {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.lastReportedLevel
}

// MaxLevel returns the largest size observed.
func (a *OccupancyAnalyzer) MaxLevel() int {
	a.lock.Lock()
	defer a.lock.Unlock()

	return a.maxLevel
}

func (a *OccupancyAnalyzer) summarize(now timing.VTimeInCycle) {
	if !a.usePeriod {
		a.summarizePeriod(now, 0, now)
		return
	}

	periodStart := a.periodStartTime(a.lastTime)
	periodEnd := periodStart + a.period

	for periodEnd <= now {
		a.summarizePeriod(now, periodStart, periodEnd)

		a.levelToDuration = make(map[int]timing.VTimeInCycle)
		a.lastTime = periodEnd
		periodStart = periodEnd
		periodEnd = periodStart + a.period
	}
}

func (a *OccupancyAnalyzer) summarizePeriod(
	now, periodStart, periodEnd timing.VTimeInCycle,
) {
	sumLevel := 0.0
	sumDuration := 0.0

	for level, duration := range a.levelToDuration {
		sumLevel += float64(level) * float64(duration)
		sumDuration += float64(duration)
	}

	summarizeEnd := min(periodEnd, now)
	if summarizeEnd > a.lastTime {
		remaining := summarizeEnd - a.lastTime
		sumLevel += float64(a.lastLevel) * float64(remaining)
		sumDuration += float64(remaining)
	}

	if sumDuration == 0 {
		return
	}

	avgLevel := sumLevel / sumDuration
	a.lastReportedLevel = avgLevel

	if avgLevel == 0 {
		return
	}

	a.PerfLogger.AddDataEntry(PerfEntry{
		Start:     periodStart,
		End:       periodEnd,
		Where:     a.queue.Name(),
		What:      "Level",
		EntryType: "Queue",
		Value:     avgLevel,
	})
}

func (a *OccupancyAnalyzer) resetPeriod(now timing.VTimeInCycle) {
	a.levelToDuration = make(map[int]timing.VTimeInCycle)
	a.lastTime = a.periodStartTime(now)
}

func (a *OccupancyAnalyzer) periodStartTime(
	t timing.VTimeInCycle,
) timing.VTimeInCycle {
	return t / a.period * a.period
}

func (a *OccupancyAnalyzer) periodEndTime(
	t timing.VTimeInCycle,
) timing.VTimeInCycle {
	return a.periodStartTime(t) + a.period
}

// OccupancyAnalyzerBuilder can build an OccupancyAnalyzer.
type OccupancyAnalyzerBuilder struct {
	perfLogger PerfLogger
	timeTeller timing.TimeTeller
	usePeriod  bool
	period     timing.VTimeInCycle
	queue      queueing.Queue
}

// MakeOccupancyAnalyzerBuilder creates an OccupancyAnalyzerBuilder.
func MakeOccupancyAnalyzerBuilder() OccupancyAnalyzerBuilder {
	return OccupancyAnalyzerBuilder{}
}

// WithPerfLogger sets the PerfLogger to report to.
func (b OccupancyAnalyzerBuilder) WithPerfLogger(
	perfLogger PerfLogger,
) OccupancyAnalyzerBuilder {
	b.perfLogger = perfLogger
	return b
}

// WithTimeTeller sets the clock.
func (b OccupancyAnalyzerBuilder) WithTimeTeller(
	timeTeller timing.TimeTeller,
) OccupancyAnalyzerBuilder {
	b.timeTeller = timeTeller
	return b
}

// WithPeriod reports one entry per period instead of one for the whole run.
func (b OccupancyAnalyzerBuilder) WithPeriod(
	period timing.VTimeInCycle,
) OccupancyAnalyzerBuilder {
	b.usePeriod = true
	b.period = period
	return b
}

// WithQueue sets the queue to analyze.
func (b OccupancyAnalyzerBuilder) WithQueue(
	queue queueing.Queue,
) OccupancyAnalyzerBuilder {
	b.queue = queue
	return b
}

// Build creates the analyzer and attaches it to the queue. The analyzer also
// summarizes when the program exits through atexit.
func (b OccupancyAnalyzerBuilder) Build() *OccupancyAnalyzer {
	if b.perfLogger == nil {
		panic("perfLogger is not set")
	}

	if b.timeTeller == nil {
		panic("timeTeller is not set")
	}

	if b.queue == nil {
		panic("queue is not set")
	}

	if b.usePeriod && b.period == 0 {
		panic("period must be positive")
	}

	analyzer := &OccupancyAnalyzer{
		PerfLogger:      b.perfLogger,
		TimeTeller:      b.timeTeller,
		queue:           b.queue,
		usePeriod:       b.usePeriod,
		period:          b.period,
		lastTime:        b.timeTeller.CurrentTime(),
		levelToDuration: make(map[int]timing.VTimeInCycle),
	}

	if b.usePeriod {
		analyzer.lastTime = analyzer.periodStartTime(analyzer.lastTime)
	}

	b.queue.AcceptHook(analyzer)

	atexit.Register(func() {
		analyzer.Summarize()
	})

	return analyzer
}
