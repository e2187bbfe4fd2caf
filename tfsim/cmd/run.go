package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/sarchlab/timedfifo/analysis"
	"github.com/sarchlab/timedfifo/datarecording"
	"github.com/sarchlab/timedfifo/monitoring"
	"github.com/sarchlab/timedfifo/simulation"
	"github.com/sarchlab/timedfifo/timing"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	configPath   string
	latency      uint64
	latencyNS    float64
	depth        int
	packets      uint64
	stable       bool
	parallel     bool
	producerMHz  uint64
	consumerMHz  uint64
	trace        bool
	traceDB      string
	traceBackend string
	perfPeriod   uint64
	perfCSV      string
	logEvents    bool
	monitor      bool
	monitorPort  int
	openBrowser  bool
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a producer/queue/consumer simulation",
		Long: `Run a producer/queue/consumer simulation. The scenario comes ` +
			`from --config when given; the other flags override it for ` +
			`every link.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.run(cmd)
		},
	}

	opts.addFlags(cmd)

	return cmd
}

func (o *runOptions) addFlags(cmd *cobra.Command) {
	f := cmd.Flags()

	f.StringVar(&o.configPath, "config", "", "YAML scenario file")
	f.Uint64Var(&o.latency, "latency", 1, "Queue latency in cycles")
	f.Float64Var(&o.latencyNS, "latency-ns", 0,
		"Queue latency in nanoseconds, converted with the global clock")
	f.IntVar(&o.depth, "depth", 0,
		"Queue depth, 0 keeps the default (unbounded, or latency+1 when stable)")
	f.Uint64Var(&o.packets, "packets", 1000, "Packets sent through each link")
	f.BoolVar(&o.stable, "stable", false, "Use stable timed queues")
	f.BoolVar(&o.parallel, "parallel", false, "Use the parallel engine")
	f.Uint64Var(&o.producerMHz, "producer-mhz", 1000, "Producer frequency in MHz")
	f.Uint64Var(&o.consumerMHz, "consumer-mhz", 1000, "Consumer frequency in MHz")
	f.BoolVar(&o.trace, "trace", false, "Record queue events")
	f.StringVar(&o.traceDB, "trace-db", "",
		"SQLite trace database name without suffix; implies --trace")
	f.StringVar(&o.traceBackend, "trace-backend", "",
		"Trace backend: sqlite, mysql, clickhouse or mongodb; implies --trace")
	f.Uint64Var(&o.perfPeriod, "perf-period", 0,
		"Report queue occupancy every this many cycles, 0 for once per run")
	f.StringVar(&o.perfCSV, "perf-csv", "",
		"Write occupancy reports to this CSV file (without suffix)")
	f.BoolVar(&o.logEvents, "log-events", false,
		"Log every queue event at debug level")
	f.BoolVar(&o.monitor, "monitor", false, "Start the monitoring server")
	f.IntVar(&o.monitorPort, "monitor-port", 0,
		"Monitoring server port, defaults to $"+EnvMonitorPort+" or a random port")
	f.BoolVar(&o.openBrowser, "open-browser", false,
		"Open the monitoring page in a browser; implies --monitor")
}

// scenario loads the scenario file, if any, and applies the flags the user
// set explicitly.
func (o *runOptions) scenario(cmd *cobra.Command) (Scenario, error) {
	s := defaultScenario()

	if o.configPath != "" {
		var err error

		s, err = loadScenario(o.configPath)
		if err != nil {
			return Scenario{}, err
		}
	}

	changed := cmd.Flags().Changed

	if changed("parallel") {
		s.Engine = EngineSerial
		if o.parallel {
			s.Engine = EngineParallel
		}
	}

	for i := range s.Links {
		o.overrideLink(changed, &s.Links[i])
	}

	if changed("perf-period") {
		s.PerfPeriod = o.perfPeriod
	}

	if changed("perf-csv") {
		s.PerfCSV = o.perfCSV
	}

	if changed("log-events") {
		s.LogEvents = o.logEvents
	}

	if err := o.overrideTrace(changed, &s.Trace); err != nil {
		return Scenario{}, err
	}

	if err := o.overrideMonitor(changed, &s.Monitor); err != nil {
		return Scenario{}, err
	}

	if err := s.validate(); err != nil {
		return Scenario{}, err
	}

	return s, nil
}

func (o *runOptions) overrideLink(changed func(string) bool, l *LinkConfig) {
	if changed("latency") {
		l.Latency = o.latency
		l.LatencyNS = 0
	}

	if changed("latency-ns") {
		l.LatencyNS = o.latencyNS
	}

	if changed("depth") {
		l.Depth = o.depth
	}

	if changed("packets") {
		l.Packets = o.packets
	}

	if changed("stable") {
		l.Stable = o.stable
	}

	if changed("producer-mhz") {
		l.ProducerMHz = o.producerMHz
	}

	if changed("consumer-mhz") {
		l.ConsumerMHz = o.consumerMHz
	}
}

func (o *runOptions) overrideTrace(
	changed func(string) bool,
	t *TraceConfig,
) error {
	if changed("trace") {
		t.Enabled = o.trace
	}

	if changed("trace-db") {
		t.Path = o.traceDB
		t.Enabled = true
	}

	if changed("trace-backend") {
		if _, err := datarecording.ParseBackend(o.traceBackend); err != nil {
			return err
		}

		t.Backend = o.traceBackend
		t.Enabled = true
	}

	return nil
}

func (o *runOptions) overrideMonitor(
	changed func(string) bool,
	m *MonitorConfig,
) error {
	if changed("monitor") {
		m.Enabled = o.monitor
	}

	switch {
	case changed("monitor-port"):
		m.Port = o.monitorPort
	case m.Port == 0 && os.Getenv(EnvMonitorPort) != "":
		port, err := strconv.Atoi(os.Getenv(EnvMonitorPort))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMonitorPort, err)
		}

		m.Port = port
	}

	if changed("open-browser") {
		m.OpenBrowser = o.openBrowser
	}

	if m.OpenBrowser {
		m.Enabled = true
	}

	return nil
}

func (o *runOptions) run(cmd *cobra.Command) error {
	s, err := o.scenario(cmd)
	if err != nil {
		return err
	}

	sim, cleanup, err := buildSimulation(s)
	if err != nil {
		return err
	}
	defer cleanup()

	if s.Monitor.Enabled && s.Monitor.OpenBrowser {
		if err := monitoring.OpenBrowser(sim.MonitorPort()); err != nil {
			logrus.WithError(err).Warn("Cannot open the browser")
		}
	}

	logrus.WithFields(logrus.Fields{
		"run_id": sim.ID(),
		"engine": s.Engine,
		"links":  len(s.Links),
	}).Info("Starting simulation")

	start := time.Now()

	if err := sim.Run(); err != nil {
		return err
	}

	printResults(cmd.OutOrStdout(), sim.Results(), sim.GetFrequencyRegistry())

	if err := sim.Terminate(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"run_id":    sim.ID(),
		"wall_time": time.Since(start).String(),
	}).Info("Simulation complete.")

	return nil
}

// buildSimulation creates the simulation and every link of the scenario. The
// returned cleanup closes files the simulation does not own.
func buildSimulation(s Scenario) (*simulation.Simulation, func(), error) {
	cleanup := func() {}

	b := simulation.MakeBuilder()

	if s.Engine == EngineParallel {
		b = b.WithParallelEngine()
	}

	if !s.Monitor.Enabled {
		b = b.WithoutMonitoring()
	} else if s.Monitor.Port > 0 {
		b = b.WithMonitorPort(s.Monitor.Port)
	}

	b, err := withTrace(b, s.Trace)
	if err != nil {
		return nil, cleanup, err
	}

	if s.PerfCSV != "" {
		csv, err := analysis.NewCSVBackend(s.PerfCSV)
		if err != nil {
			return nil, cleanup, err
		}

		b = b.WithPerfBackend(csv)
		cleanup = func() {
			if err := csv.Close(); err != nil {
				logrus.WithError(err).Error("Cannot close the perf CSV file")
			}
		}
	}

	if s.PerfPeriod > 0 {
		b = b.WithPerfPeriod(timing.VTimeInCycle(s.PerfPeriod))
	}

	if s.LogEvents {
		b = b.WithLogHook(logrus.StandardLogger(), logrus.DebugLevel)
	}

	sim := b.Build()

	if err := addLinks(sim, s.Links); err != nil {
		cleanup()
		return nil, func() {}, err
	}

	return sim, cleanup, nil
}

func withTrace(b simulation.Builder, t TraceConfig) (simulation.Builder, error) {
	if !t.Enabled {
		return b.WithoutTracing(), nil
	}

	backend, err := datarecording.ParseBackend(t.Backend)
	if err != nil {
		return b, err
	}

	if backend == datarecording.BackendSQLite {
		if t.Path != "" {
			b = b.WithOutputFileName(t.Path)
		}

		return b, nil
	}

	remote, err := datarecording.RemoteConfigFromEnv()
	if err != nil {
		return b, err
	}

	recorder, err := datarecording.Open(datarecording.Config{
		Backend: backend,
		Path:    t.Path,
		Remote:  remote,
	})
	if err != nil {
		return b, err
	}

	return b.WithDataRecorder(recorder), nil
}

// addLinks registers every clock domain first so that nanosecond latencies
// are converted with the final global frequency.
func addLinks(sim *simulation.Simulation, links []LinkConfig) error {
	for _, l := range links {
		sim.MustRegisterFrequency(timing.FreqInHz(l.ProducerMHz) * timing.MHz)
		sim.MustRegisterFrequency(timing.FreqInHz(l.ConsumerMHz) * timing.MHz)
	}

	for _, l := range links {
		latency := timing.VTimeInCycle(l.Latency)

		if l.LatencyNS > 0 {
			cycles, err := sim.GetFrequencyRegistry().
				SecondsToCycles(timing.VTimeInSec(l.LatencyNS * 1e-9))
			if err != nil {
				return fmt.Errorf("link %s: %w", l.Name, err)
			}

			latency = cycles
		}

		lb := simulation.MakeLinkBuilder().
			WithLatency(latency).
			WithPackets(l.Packets).
			WithProducerFreq(timing.FreqInHz(l.ProducerMHz) * timing.MHz).
			WithConsumerFreq(timing.FreqInHz(l.ConsumerMHz) * timing.MHz)

		if l.Depth > 0 {
			lb = lb.WithDepth(l.Depth)
		}

		if l.Stable {
			lb = lb.WithStableQueue()
		}

		sim.AddLink(lb, l.Name)
	}

	return nil
}

func printResults(
	w io.Writer,
	results []simulation.LinkResult,
	freqs *timing.FrequencyRegistry,
) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "LINK\tSENT\tRECEIVED\tSTALLED\tOUT OF ORDER\t"+
		"AVG LATENCY\tMIN\tMAX\tFINISH CYCLE\tFINISH TIME")

	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%.2f\t%d\t%d\t%d\t%.3gs\n",
			r.Name, r.Sent, r.Received, r.Stalled, r.OutOfOrder,
			r.AverageLatency, r.MinLatency, r.MaxLatency, r.FinishCycle,
			float64(freqs.CyclesToSeconds(r.FinishCycle)))
	}

	tw.Flush()
}
