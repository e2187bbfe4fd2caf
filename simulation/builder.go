package simulation

import (
	"github.com/sarchlab/timedfifo/analysis"
	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/idgen"
	"github.com/sarchlab/timedfifo/monitoring"
	"github.com/sarchlab/timedfifo/timing"
	"github.com/sirupsen/logrus"
)

// Builder can be used to build a simulation.
type Builder struct {
	parallelEngine bool
	monitorOn      bool
	monitorPort    int
	tracingOn      bool
	outputFileName string
	recorder       datarecording.DataRecorder
	perfBackend    analysis.PerfBackend
	perfPeriod     timing.VTimeInCycle
	logger         *logrus.Logger
	logLevel       logrus.Level
}

// MakeBuilder creates a new builder. By default the simulation runs on a
// serial engine, records traces into a new SQLite database and starts a
// monitoring server.
func MakeBuilder() Builder {
	return Builder{
		monitorOn: true,
		tracingOn: true,
	}
}

// WithParallelEngine sets the simulation to use a parallel engine.
func (b Builder) WithParallelEngine() Builder {
	b.parallelEngine = true
	return b
}

// WithoutMonitoring sets the simulation to not use monitoring.
func (b Builder) WithoutMonitoring() Builder {
	b.monitorOn = false
	return b
}

// WithMonitorPort sets the port number for the monitoring server.
func (b Builder) WithMonitorPort(port int) Builder {
	b.monitorPort = port
	return b
}

// WithoutTracing disables the queue event trace.
func (b Builder) WithoutTracing() Builder {
	b.tracingOn = false
	return b
}

// WithOutputFileName sets the name of the SQLite trace database, without the
// suffix.
func (b Builder) WithOutputFileName(filename string) Builder {
	b.outputFileName = filename
	return b
}

// WithDataRecorder records traces with the given recorder instead of a new
// SQLite database.
func (b Builder) WithDataRecorder(r datarecording.DataRecorder) Builder {
	b.recorder = r
	return b
}

// WithPerfBackend stores occupancy reports in the given backend instead of
// the trace database.
func (b Builder) WithPerfBackend(backend analysis.PerfBackend) Builder {
	b.perfBackend = backend
	return b
}

// WithPerfPeriod reports queue occupancy once per period instead of once per
// run.
func (b Builder) WithPerfPeriod(period timing.VTimeInCycle) Builder {
	b.perfPeriod = period
	return b
}

// WithLogHook logs every queue event with the logger at the given level.
func (b Builder) WithLogHook(logger *logrus.Logger, level logrus.Level) Builder {
	b.logger = logger
	b.logLevel = level

	return b
}

func (b Builder) parametersMustBeValid() {
	if !b.monitorOn && b.monitorPort != 0 {
		panic("monitor port cannot be set when monitoring is disabled")
	}

	if !b.tracingOn && (b.recorder != nil || b.outputFileName != "") {
		panic("trace output cannot be set when tracing is disabled")
	}
}

// Build builds the simulation.
func (b Builder) Build() *Simulation {
	b.parametersMustBeValid()

	s := &Simulation{
		id:             idgen.NewRunID(),
		freqs:          timing.NewFrequencyRegistry(),
		compNameIndex:  make(map[string]int),
		queueNameIndex: make(map[string]int),
	}

	s.engine = timing.NewSerialEngine()
	if b.parallelEngine {
		s.engine = timing.NewParallelEngine()
	}

	b.buildRecording(s)
	b.buildPerfAnalyzer(s)

	if b.logger != nil {
		s.hooks = append(s.hooks, analysis.NewLogHook(b.logger, b.logLevel))
	}

	if b.monitorOn {
		b.buildMonitor(s)
	}

	return s
}

func (b Builder) buildRecording(s *Simulation) {
	if !b.tracingOn {
		return
	}

	s.dataRecorder = b.recorder
	if s.dataRecorder == nil {
		outputPath := b.outputFileName
		if outputPath == "" {
			outputPath = datarecording.DefaultDBPrefix + s.id
		}

		recorder, err := datarecording.NewSQLiteRecorder(outputPath)
		if err != nil {
			panic(err)
		}

		s.dataRecorder = recorder
	}

	s.hooks = append(s.hooks,
		analysis.NewQueueTracer(s.dataRecorder, idgen.New()))
}

func (b Builder) buildPerfAnalyzer(s *Simulation) {
	backend := b.perfBackend
	if backend == nil && s.dataRecorder != nil {
		backend = analysis.NewRecorderBackend(s.dataRecorder)
	}

	if backend == nil {
		return
	}

	builder := analysis.MakePerfAnalyzerBuilder().
		WithTimeTeller(s.engine).
		WithBackend(backend)
	if b.perfPeriod > 0 {
		builder = builder.WithPeriod(b.perfPeriod)
	}

	s.perfAnalyzer = builder.Build()
}

func (b Builder) buildMonitor(s *Simulation) {
	s.monitor = monitoring.NewMonitor()
	if b.monitorPort > 0 {
		s.monitor.WithPortNumber(b.monitorPort)
	}

	s.monitor.RegisterEngine(s.engine)

	if s.perfAnalyzer != nil {
		s.monitor.RegisterPerfAnalyzer(s.perfAnalyzer)
	}

	port, err := s.monitor.StartServer()
	if err != nil {
		panic(err)
	}

	s.monitorPort = port
}
